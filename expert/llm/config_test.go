package llm

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	openrouterx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/openrouter"
)

func baseConfig() Config {
	return Config{
		BaseURL:            "https://openrouter.ai/api/v1",
		APIKey:             "sk-test",
		Model:              "qwen/qwen3-coder",
		MaxCompletionToken: 4096,
		Temperature:        0.2,
		Timeout:            time.Minute,
	}
}

func TestValidateRequiresKeyAndModel(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.APIKey = "  "
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing api key, got %v", err)
	}

	cfg = baseConfig()
	cfg.Model = ""
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing model, got %v", err)
	}

	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateReasonerNeedsActor(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SecurityModel = "deepseek/deepseek-reasoner"
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for reasoner without actor, got %v", err)
	}

	cfg.ActorModel = "qwen/qwen3-coder"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("reasoner with actor rejected: %v", err)
	}
}

func TestOpenRouterForDefaults(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.ArchitectTemperature = -1

	resolved := cfg.OpenRouterFor(contractx.RoleArchitect, nil)
	if resolved.Model != "qwen/qwen3-coder" {
		t.Fatalf("expected default model, got %s", resolved.Model)
	}
	if resolved.Temperature != 0.2 {
		t.Fatalf("expected default temperature, got %.2f", resolved.Temperature)
	}
}

func TestOpenRouterForEnvOverride(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SecurityModel = "anthropic/claude-sonnet"
	cfg.SecurityTemperature = 0

	resolved := cfg.OpenRouterFor(contractx.RoleSecurity, nil)
	if resolved.Model != "anthropic/claude-sonnet" {
		t.Fatalf("expected per-role model, got %s", resolved.Model)
	}
	if resolved.Temperature != 0 {
		t.Fatalf("explicit zero temperature should win, got %.2f", resolved.Temperature)
	}
}

func TestOpenRouterForStoredOverrideBeatsEnv(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.CodeReviewerModel = "anthropic/claude-sonnet"
	cfg.CodeReviewerTemperature = 0.7

	stored := &contractx.RoleConfig{
		Role:           contractx.RoleCodeReviewer,
		Model:          "openai/gpt-5",
		Temperature:    0.1,
		TemperatureSet: true,
	}

	resolved := cfg.OpenRouterFor(contractx.RoleCodeReviewer, stored)
	if resolved.Model != "openai/gpt-5" {
		t.Fatalf("stored model should win, got %s", resolved.Model)
	}
	if resolved.Temperature != 0.1 {
		t.Fatalf("stored temperature should win, got %.2f", resolved.Temperature)
	}
}

func TestOpenRouterForStoredModelKeepsEnvTemperature(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.ArchitectTemperature = 0.6

	stored := &contractx.RoleConfig{Role: contractx.RoleArchitect, Model: "openai/gpt-5"}

	resolved := cfg.OpenRouterFor(contractx.RoleArchitect, stored)
	if resolved.Model != "openai/gpt-5" {
		t.Fatalf("stored model should win, got %s", resolved.Model)
	}
	if resolved.Temperature != 0.6 {
		t.Fatalf("unset stored temperature should keep env value, got %.2f", resolved.Temperature)
	}
}

func TestStrategyFor(t *testing.T) {
	t.Parallel()

	single, err := StrategyFor(openrouterx.Config{Model: "qwen/qwen3-coder"})
	if err != nil || single != StrategySingle {
		t.Fatalf("expected single strategy, got %s err=%v", single, err)
	}

	decoupled, err := StrategyFor(openrouterx.Config{
		Model:      "deepseek/deepseek-reasoner",
		ActorModel: "qwen/qwen3-coder",
	})
	if err != nil || decoupled != StrategyDecoupled {
		t.Fatalf("expected decoupled strategy, got %s err=%v", decoupled, err)
	}

	_, err = StrategyFor(openrouterx.Config{Model: "deepseek/deepseek-reasoner"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("reasoner without actor should fail, got %v", err)
	}
}

func TestActorConfigSwapsModelOnly(t *testing.T) {
	t.Parallel()

	resolved := openrouterx.Config{
		Model:       "deepseek/deepseek-reasoner",
		ActorModel:  "qwen/qwen3-coder",
		Temperature: 0.3,
	}
	actor := ActorConfig(resolved)
	if actor.Model != "qwen/qwen3-coder" {
		t.Fatalf("actor config should use the actor model, got %s", actor.Model)
	}
	if actor.Temperature != 0.3 {
		t.Fatalf("actor config should keep the temperature, got %.2f", actor.Temperature)
	}
}

func TestBoundsConversion(t *testing.T) {
	t.Parallel()

	b := BoundsConfig{
		MaxIterations:      100,
		ExpertTimeout:      10 * time.Minute,
		LLMCallTimeout:     6 * time.Minute,
		CouncilTimeout:     15 * time.Minute,
		MaxConcurrent:      3,
		MaxToolResultChars: 20000,
		MaxTotalToolCalls:  50,
		MaxParallelTools:   4,
		ContextBudgetChars: 480000,
	}

	got := b.Bounds()
	if got.MaxIterations != 100 || got.MaxConcurrent != 3 {
		t.Fatalf("bounds conversion lost fields: %+v", got)
	}

	merged := got.Merge(contractx.Bounds{MaxIterations: 5, ExpertTimeout: time.Minute})
	if merged.MaxIterations != 5 || merged.ExpertTimeout != time.Minute {
		t.Fatalf("override fields should win: %+v", merged)
	}
	if merged.LLMCallTimeout != 6*time.Minute {
		t.Fatalf("untouched fields should survive merge: %+v", merged)
	}
}
