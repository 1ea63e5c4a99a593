package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	vars := []string{"DATABASE_URL", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "TELEGRAM_BOT_TOKEN", "DOCTOR_CHAT_ID", "GUARDRAIL_TIER"}
	for _, v := range vars {
		old, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, old)
			}
		})
	}
}

func TestDefaultsMatchDocumentedBaseline(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 12, cfg.MaxSteps)
	assert.Equal(t, "advanced", cfg.GuardrailTier)
	assert.Equal(t, 60*time.Second, cfg.TurnBudget)
}

func TestLoadWithMissingFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().MaxSteps, cfg.MaxSteps)
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_steps: 7\nguardrail_tier: simple\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxSteps)
	assert.Equal(t, "simple", cfg.GuardrailTier)
}

func TestApplyEnvOverridesSetsSecretsAndDoctorChatID(t *testing.T) {
	clearEnv(t)
	os.Setenv("TELEGRAM_BOT_TOKEN", "tok-123")
	os.Setenv("DOCTOR_CHAT_ID", "98765")
	os.Setenv("GUARDRAIL_TIER", "intermediate")

	cfg := Defaults()
	applyEnvOverrides(cfg)

	assert.Equal(t, "tok-123", cfg.TelegramBotToken)
	assert.Equal(t, int64(98765), cfg.DoctorChatID)
	assert.Equal(t, "intermediate", cfg.GuardrailTier)
}

func TestApplyEnvOverridesIgnoresInvalidDoctorChatID(t *testing.T) {
	clearEnv(t)
	os.Setenv("DOCTOR_CHAT_ID", "not-a-number")

	cfg := Defaults()
	applyEnvOverrides(cfg)

	assert.Equal(t, int64(0), cfg.DoctorChatID)
}
