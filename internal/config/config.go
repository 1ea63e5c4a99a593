// Package config loads the engine's tunable constants from config.yaml via
// koanf's file provider on top of built-in defaults; infra secrets and the
// guardrail tier come from plain environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the engine's deployment-tunable values. HistoryWindow,
// MaxRevisions, InvestigationThreshold and RiskWarningWindow are loaded but
// not read by the engine: the history windows, the diagnosis revision limit
// (2), the supervisor's 0.7 investigation threshold and the advanced tier's
// 24h warning window are constants in their own packages.
type Config struct {
	// Orchestration loop
	MaxSteps          int           `koanf:"max_steps"`
	PerCallTimeout    time.Duration `koanf:"per_call_timeout"`
	TurnBudget        time.Duration `koanf:"turn_budget"`
	HistoryWindow     int           `koanf:"history_window"`
	MaxRetrieverCalls int           `koanf:"max_retriever_calls_per_agent"`

	// Diagnostic subgraph
	MaxDiagnoses           int     `koanf:"max_diagnoses"`
	MaxRevisions           int     `koanf:"max_revisions"`
	InvestigationThreshold float64 `koanf:"investigation_threshold"`
	VectorSearchK          int     `koanf:"vector_search_k"`
	RerankTopK             int     `koanf:"rerank_top_k"`

	// Appointment state machine
	ClinicOpen  string `koanf:"clinic_open"`  // "08:00"
	ClinicClose string `koanf:"clinic_close"` // "18:00"
	MaxAttempts int    `koanf:"max_attempts"`

	// Guardrails
	GuardrailTier         string        `koanf:"guardrail_tier"` // simple|intermediate|advanced
	RateLimitMessages     int           `koanf:"rate_limit_messages"`
	RateLimitWindow       time.Duration `koanf:"rate_limit_window"`
	QualityBlockThreshold float64       `koanf:"quality_block_threshold"`
	RiskWarningWindow     time.Duration `koanf:"risk_warning_window"`

	// Knowledge store caching
	FAQCacheSize           int     `koanf:"faq_cache_size"`
	FAQConfidenceThreshold float64 `koanf:"faq_confidence_threshold"`
	KnowledgeBasePath      string  `koanf:"knowledge_base_path"`
	PassagesPath           string  `koanf:"passages_path"`

	// Infra secrets, kept as plain env vars rather than config file entries.
	DatabaseURL      string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	TelegramBotToken string
	DoctorChatID     int64
}

func Defaults() *Config {
	return &Config{
		MaxSteps:               12,
		PerCallTimeout:         15 * time.Second,
		TurnBudget:             60 * time.Second,
		HistoryWindow:          20,
		MaxRetrieverCalls:      2,
		MaxDiagnoses:           5,
		MaxRevisions:           2,
		InvestigationThreshold: 0.7,
		VectorSearchK:          20,
		RerankTopK:             5,
		ClinicOpen:             "08:00",
		ClinicClose:            "18:00",
		MaxAttempts:            3,
		GuardrailTier:          "advanced",
		RateLimitMessages:      20,
		RateLimitWindow:        60 * time.Second,
		QualityBlockThreshold:  0.4,
		RiskWarningWindow:      24 * time.Hour,
		FAQCacheSize:           100,
		FAQConfidenceThreshold: 0.6,
		KnowledgeBasePath:      "data/knowledge.json",
		PassagesPath:           "data/passages.json",
	}
}

// Load reads defaults, then an optional YAML file at path (if it exists),
// then the fixed environment overrides in applyEnvOverrides (DATABASE_URL,
// ANTHROPIC_API_KEY, GEMINI_API_KEY, TELEGRAM_BOT_TOKEN, DOCTOR_CHAT_ID,
// GUARDRAIL_TIER). Other fields have no environment override.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: loading %s: %w", path, err)
			}
			if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
				return nil, fmt.Errorf("config: unmarshal: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramBotToken = v
	}
	if v := os.Getenv("DOCTOR_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			cfg.DoctorChatID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("GUARDRAIL_TIER")); v != "" {
		cfg.GuardrailTier = v
	}
}
