package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"medical-ai-agent/internal/agent/conversation"
	"medical-ai-agent/internal/agent/diagnosis"
	"medical-ai-agent/internal/agent/image"
	"medical-ai-agent/internal/agent/investigation"
	"medical-ai-agent/internal/agent/recommender"
	"medical-ai-agent/internal/agent/retriever"
	"medical-ai-agent/internal/agent/symptom"
	apptstore "medical-ai-agent/internal/appointment"
	"medical-ai-agent/internal/config"
	"medical-ai-agent/internal/core"
	"medical-ai-agent/internal/guardrail"
	"medical-ai-agent/internal/guardrail/advanced"
	"medical-ai-agent/internal/guardrail/intermediate"
	"medical-ai-agent/internal/guardrail/simple"
	"medical-ai-agent/internal/knowledge"
	"medical-ai-agent/internal/llm"
	"medical-ai-agent/internal/orchestrator"
	"medical-ai-agent/internal/platform/telegram"
	"medical-ai-agent/internal/report"
	"medical-ai-agent/internal/reranker"
	"medical-ai-agent/internal/supervisor"
	agentpkg "medical-ai-agent/internal/agent"
	"medical-ai-agent/internal/telemetry"
	"medical-ai-agent/internal/vectorindex"
	"medical-ai-agent/internal/vision"
)

// buildDeps bundles everything building an Engine can fail on, so serve
// and evaluate can each build once and decide what to do with it.
type buildDeps struct {
	Engine      *core.Engine
	Graph       *orchestrator.Graph
	DB          *sql.DB
	LLMProvider llm.Provider
}

// buildEngine wires every package into one core.Engine, the single
// construction path serve and evaluate both call so their wiring can
// never drift apart.
func buildEngine(ctx context.Context, cfg *config.Config, log *telemetry.Logger) (*buildDeps, error) {
	var llmProvider llm.Provider
	if cfg.AnthropicAPIKey != "" {
		llmProvider = llm.NewAnthropicProvider(cfg.AnthropicAPIKey)
	} else {
		log.Warn("ANTHROPIC_API_KEY not set; agents will fall back to heuristic/deterministic behavior")
	}

	var visionProvider vision.Provider
	if cfg.GeminiAPIKey != "" {
		p, err := vision.NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("build: vision provider: %w", err)
		}
		visionProvider = p
	} else {
		log.Warn("GEMINI_API_KEY not set; image_analyzer will be disabled")
	}

	faqs, profile, err := knowledge.LoadKnowledgeBase(cfg.KnowledgeBasePath)
	if err != nil {
		log.Warn("knowledge base not loaded (%v); conversation agent will have no FAQ/profile answers", err)
	}
	knowledgeStore, err := knowledge.NewStore(faqs, profile, cfg.FAQCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build: knowledge store: %w", err)
	}

	passages, err := vectorindex.LoadPassages(cfg.PassagesPath)
	if err != nil {
		log.Warn("passage index not loaded (%v); document_retriever will have no evidence to surface", err)
	}
	vecIndex := vectorindex.NewMemoryIndex(passages)
	rr := reranker.NewMemoryReranker(vecIndex)

	var db *sql.DB
	var apptStore apptstore.Store
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("build: open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("build: ping database: %w", err)
		}
		if err := runMigrations(cfg.DatabaseURL, log); err != nil {
			return nil, fmt.Errorf("build: %w", err)
		}
		apptStore = apptstore.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set; using an in-memory appointment store (not durable across restarts)")
		apptStore = apptstore.NewMemoryStore()
	}

	guardrailCheck := buildGuardrail(cfg, llmProvider)
	manager := guardrail.NewManager(cfg.GuardrailTier, guardrailCheck)

	agents := map[string]agentpkg.Agent{
		agentpkg.NameConversation:   conversation.NewAgent(knowledgeStore, cfg.FAQConfidenceThreshold),
		agentpkg.NameAppointment:    apptstore.NewAgent(apptStore, llmProvider, cfg.ClinicOpen, cfg.ClinicClose, cfg.MaxAttempts),
		agentpkg.NameSymptomExtract: symptom.NewAgent(llmProvider),
		agentpkg.NameDiagnosis:      diagnosis.NewAgent(llmProvider, cfg.MaxDiagnoses),
		agentpkg.NameInvestigation:  investigation.NewAgent(llmProvider),
		agentpkg.NameRetriever:      retriever.NewAgent(vecIndex, rr, cfg.VectorSearchK, cfg.RerankTopK, cfg.MaxRetrieverCalls),
		agentpkg.NameRecommender:    recommender.NewAgent(llmProvider),
	}
	if visionProvider != nil {
		agents[agentpkg.NameImageAnalyzer] = image.NewAgent(visionProvider)
	}

	var escalator orchestrator.Escalator
	if cfg.TelegramBotToken != "" && cfg.DoctorChatID != 0 {
		escalator = report.NewService(telegram.NewClient(cfg.TelegramBotToken), cfg.DoctorChatID)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN/DOCTOR_CHAT_ID not set; red-flag turns will not be handed off to a doctor")
	}

	graph := orchestrator.NewGraph(orchestrator.Deps{
		Supervisor:     supervisor.New(llmProvider),
		Guardrails:     manager,
		Agents:         agents,
		Escalator:      escalator,
		MaxSteps:       cfg.MaxSteps,
		PerCallTimeout: cfg.PerCallTimeout,
		TurnBudget:     cfg.TurnBudget,
	})

	engine := core.NewEngine(core.Deps{
		Graph:      graph,
		Knowledge:  knowledgeStore,
		Appts:      apptStore,
		Guardrails: manager,
	})

	return &buildDeps{Engine: engine, Graph: graph, DB: db, LLMProvider: llmProvider}, nil
}

// runMigrations applies every pending migration under migrations/ before
// the appointment store is handed out, so a fresh database is always
// schema-complete before the first request lands.
func runMigrations(databaseURL string, log *telemetry.Logger) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate: up: %w", err)
	}
	log.Info("migrations applied")
	return nil
}

func buildGuardrail(cfg *config.Config, provider llm.Provider) guardrail.Check {
	switch cfg.GuardrailTier {
	case "simple":
		return simple.New()
	case "intermediate":
		return intermediate.New(provider, cfg.RateLimitMessages, cfg.RateLimitWindow)
	default:
		return advanced.New(provider, cfg.QualityBlockThreshold)
	}
}
