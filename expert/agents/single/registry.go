package single

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	eventsx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/events"
	llmx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/llm"
	promptx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/prompt"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
	toolx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/tool"
	openrouterx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/openrouter"
)

// ChatModelFactory builds a provider-bound chat model from a resolved config.
type ChatModelFactory func(ctx context.Context, cfg openrouterx.Config) (einomodel.ToolCallingChatModel, error)

// Toolbox carries the backends behind the expert tools.
type Toolbox struct {
	Intelligence contractx.Intelligence
	Host         contractx.HostBridge
	Root         string
	HostTools    []*schema.ToolInfo
}

// RegistryConfig wires the registry.
type RegistryConfig struct {
	LLM       llmx.Config
	Prompts   promptx.PromptSet
	Toolbox   Toolbox
	RoleStore contractx.RoleConfigStore
	Publisher contractx.Publisher
	Logger    zerolog.Logger
	Factory   ChatModelFactory
	Now       func() time.Time
}

// Registry resolves a loop runner per role and per call, so stored role
// overrides written by configure take effect on the very next consultation.
type Registry struct {
	llm       llmx.Config
	prompts   promptx.PromptSet
	toolbox   Toolbox
	roleStore contractx.RoleConfigStore
	publisher contractx.Publisher
	logger    zerolog.Logger
	factory   ChatModelFactory
	now       func() time.Time
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if cfg.Toolbox.Intelligence == nil {
		return nil, fmt.Errorf("%w: intelligence backend is required", contractx.ErrValidation)
	}

	if cfg.Prompts.Architect == "" {
		cfg.Prompts = promptx.LoadPromptSet()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = eventsx.Noop{}
	}
	if cfg.Factory == nil {
		cfg.Factory = func(ctx context.Context, oc openrouterx.Config) (einomodel.ToolCallingChatModel, error) {
			return oc.New(ctx)
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		llm:       cfg.LLM,
		prompts:   cfg.Prompts,
		toolbox:   cfg.Toolbox,
		roleStore: cfg.RoleStore,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		factory:   cfg.Factory,
		now:       cfg.Now,
	}, nil
}

func (r *Registry) Roles() []contractx.Role {
	return contractx.AllRoles()
}

func (r *Registry) Expert(ctx context.Context, role contractx.Role) (contractx.Expert, error) {
	return r.ExpertFor(ctx, role, nil)
}

// ExpertFor builds a runner sharing the given findings board. Council rounds
// pass their shared board; nil gives the consult a private one.
func (r *Registry) ExpertFor(ctx context.Context, role contractx.Role, board *statex.Board) (contractx.Expert, error) {
	system, err := r.prompts.ExpertSystem(role)
	if err != nil {
		return nil, err
	}

	resolved := r.llm.OpenRouterFor(role, r.storedOverride(ctx, role))
	strategy, err := llmx.StrategyFor(resolved)
	if err != nil {
		return nil, err
	}

	loopCfg := resolved
	if strategy == llmx.StrategyDecoupled {
		loopCfg = llmx.ActorConfig(resolved)
	}

	bare, err := r.factory(ctx, loopCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create model for role=%s: %v", contractx.ErrModelInvoke, role, err)
	}
	bound, err := bare.WithTools(toolx.Infos(r.toolbox.HostTools...))
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for role=%s: %v", contractx.ErrModelInvoke, role, err)
	}

	var thinker einomodel.ToolCallingChatModel
	if strategy == llmx.StrategyDecoupled {
		thinker, err = r.factory(ctx, resolved)
		if err != nil {
			return nil, fmt.Errorf("%w: create thinker for role=%s: %v", contractx.ErrModelInvoke, role, err)
		}
	}

	return NewRunner(RunnerConfig{
		Role:        role,
		Strategy:    strategy,
		System:      system,
		ToolModel:   bound,
		BareModel:   bare,
		Thinker:     thinker,
		NewExecutor: r.executorFactory(),
		Board:       board,
		Publisher:   r.publisher,
		Logger:      r.logger.With().Str("component", "expert").Str("role", string(role)).Logger(),
		Now:         r.now,
	})
}

func (r *Registry) executorFactory() ExecutorFactory {
	return func(board *statex.Board, task contractx.ExpertTask) toolx.Executor {
		return toolx.NewExecutor(toolx.Deps{
			Intelligence: r.toolbox.Intelligence,
			Board:        board,
			Host:         r.toolbox.Host,
			Root:         r.toolbox.Root,
			Role:         task.Role,
			Round:        task.Round,
		})
	}
}

// storedOverride reads the configure-time override for a role. Lookup
// failures degrade to environment defaults instead of blocking the consult.
func (r *Registry) storedOverride(ctx context.Context, role contractx.Role) *contractx.RoleConfig {
	if r.roleStore == nil {
		return nil
	}
	cfg, err := r.roleStore.RoleConfig(ctx, role)
	if err != nil {
		r.logger.Warn().Err(err).Str("role", string(role)).Msg("stored role config lookup failed")
		return nil
	}
	if strings.TrimSpace(cfg.Model) == "" && !cfg.TemperatureSet {
		return nil
	}
	return &cfg
}

var _ contractx.ExpertRegistry = (*Registry)(nil)
