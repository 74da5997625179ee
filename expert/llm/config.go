package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	openrouterx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/openrouter"
)

// Strategy names how one expert run talks to the provider.
type Strategy string

const (
	// StrategySingle drives the whole tool loop with one model.
	StrategySingle Strategy = "single"
	// StrategyDecoupled drives the tool loop with the actor model and hands
	// the accumulated transcript to the reasoner for one synthesis turn.
	StrategyDecoupled Strategy = "decoupled"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"4096"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"6m"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// ActorModel drives tool-loop turns whenever a resolved model is a
	// reasoner variant. Required as soon as any reasoner model is configured.
	ActorModel string `envconfig:"ACTOR_MODEL" split_words:"true"`

	ArchitectModel    string `envconfig:"ARCHITECT_MODEL" split_words:"true"`
	PlanReviewerModel string `envconfig:"PLAN_REVIEWER_MODEL" split_words:"true"`
	ScopeAnalystModel string `envconfig:"SCOPE_ANALYST_MODEL" split_words:"true"`
	CodeReviewerModel string `envconfig:"CODE_REVIEWER_MODEL" split_words:"true"`
	SecurityModel     string `envconfig:"SECURITY_MODEL" split_words:"true"`
	CoordinatorModel  string `envconfig:"COORDINATOR_MODEL" split_words:"true"`
	SynthesisModel    string `envconfig:"SYNTHESIS_MODEL" split_words:"true"`

	ArchitectTemperature    float32 `envconfig:"ARCHITECT_TEMPERATURE" split_words:"true" default:"-1"`
	PlanReviewerTemperature float32 `envconfig:"PLAN_REVIEWER_TEMPERATURE" split_words:"true" default:"-1"`
	ScopeAnalystTemperature float32 `envconfig:"SCOPE_ANALYST_TEMPERATURE" split_words:"true" default:"-1"`
	CodeReviewerTemperature float32 `envconfig:"CODE_REVIEWER_TEMPERATURE" split_words:"true" default:"-1"`
	SecurityTemperature     float32 `envconfig:"SECURITY_TEMPERATURE" split_words:"true" default:"-1"`
	CoordinatorTemperature  float32 `envconfig:"COORDINATOR_TEMPERATURE" split_words:"true" default:"-1"`
	SynthesisTemperature    float32 `envconfig:"SYNTHESIS_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.ActorModel) == "" {
		for _, name := range []string{
			c.Model,
			c.ArchitectModel,
			c.PlanReviewerModel,
			c.ScopeAnalystModel,
			c.CodeReviewerModel,
			c.SecurityModel,
			c.SynthesisModel,
		} {
			if openrouterx.IsReasoningModel(name) {
				return fmt.Errorf("%w: model %q is a reasoner but no actor model is configured", contractx.ErrValidation, strings.TrimSpace(name))
			}
		}
	}
	return nil
}

func (c Config) base() openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
		ActorModel:         strings.TrimSpace(c.ActorModel),
	}
}

func (c Config) roleOverride(role contractx.Role) (string, float32) {
	switch role {
	case contractx.RoleArchitect:
		return c.ArchitectModel, c.ArchitectTemperature
	case contractx.RolePlanReviewer:
		return c.PlanReviewerModel, c.PlanReviewerTemperature
	case contractx.RoleScopeAnalyst:
		return c.ScopeAnalystModel, c.ScopeAnalystTemperature
	case contractx.RoleCodeReviewer:
		return c.CodeReviewerModel, c.CodeReviewerTemperature
	case contractx.RoleSecurity:
		return c.SecurityModel, c.SecurityTemperature
	default:
		return "", -1
	}
}

// OpenRouterFor resolves the provider config for one role. Environment
// per-role overrides beat the defaults, and a stored role config beats both.
func (c Config) OpenRouterFor(role contractx.Role, stored *contractx.RoleConfig) openrouterx.Config {
	out := c.base()

	envModel, envTemp := c.roleOverride(role)
	out = out.ForModel(envModel, envTemp)

	if stored != nil {
		temp := float32(-1)
		if stored.TemperatureSet {
			temp = stored.Temperature
		}
		out = out.ForModel(stored.Model, temp)
	}
	return out
}

// CoordinatorOpenRouter resolves the plan-phase model.
func (c Config) CoordinatorOpenRouter() openrouterx.Config {
	return c.base().ForModel(c.CoordinatorModel, c.CoordinatorTemperature)
}

// SynthesisOpenRouter resolves the synthesis-phase model.
func (c Config) SynthesisOpenRouter() openrouterx.Config {
	return c.base().ForModel(c.SynthesisModel, c.SynthesisTemperature)
}

// StrategyFor decides how a resolved config runs its loop. The decision is a
// pure function of the model name; reasoner variants never drive tool loops.
func StrategyFor(resolved openrouterx.Config) (Strategy, error) {
	if !openrouterx.IsReasoningModel(resolved.Model) {
		return StrategySingle, nil
	}
	if strings.TrimSpace(resolved.ActorModel) == "" {
		return "", fmt.Errorf("%w: model %q is a reasoner but no actor model is configured", contractx.ErrValidation, resolved.Model)
	}
	return StrategyDecoupled, nil
}

// ActorConfig derives the tool-loop config for a decoupled run.
func ActorConfig(resolved openrouterx.Config) openrouterx.Config {
	out := resolved
	out.Model = strings.TrimSpace(resolved.ActorModel)
	return out
}

// BoundsConfig carries the loop and council limits. Every field can be
// tightened or relaxed per consultation through request overrides.
type BoundsConfig struct {
	MaxIterations      int           `envconfig:"MAX_ITERATIONS" split_words:"true" default:"100"`
	ExpertTimeout      time.Duration `envconfig:"EXPERT_TIMEOUT" split_words:"true" default:"10m"`
	LLMCallTimeout     time.Duration `envconfig:"LLM_CALL_TIMEOUT" split_words:"true" default:"6m"`
	CouncilTimeout     time.Duration `envconfig:"COUNCIL_TIMEOUT" split_words:"true" default:"15m"`
	MaxConcurrent      int           `envconfig:"MAX_CONCURRENT_EXPERTS" split_words:"true" default:"3"`
	MaxToolResultChars int           `envconfig:"MAX_TOOL_RESULT_CHARS" split_words:"true" default:"20000"`
	MaxTotalToolCalls  int           `envconfig:"MAX_TOTAL_TOOL_CALLS" split_words:"true" default:"50"`
	MaxParallelTools   int           `envconfig:"MAX_PARALLEL_TOOLS" split_words:"true" default:"4"`
	ContextBudgetChars int           `envconfig:"CONTEXT_BUDGET_CHARS" split_words:"true" default:"480000"`
}

// Bounds converts the configured profile into the per-consultation shape.
func (b BoundsConfig) Bounds() contractx.Bounds {
	return contractx.Bounds{
		MaxIterations:      b.MaxIterations,
		ExpertTimeout:      b.ExpertTimeout,
		LLMCallTimeout:     b.LLMCallTimeout,
		CouncilTimeout:     b.CouncilTimeout,
		MaxConcurrent:      b.MaxConcurrent,
		MaxToolResultChars: b.MaxToolResultChars,
		MaxTotalToolCalls:  b.MaxTotalToolCalls,
		MaxParallelTools:   b.MaxParallelTools,
		ContextBudgetChars: b.ContextBudgetChars,
	}
}
