// Counsel is an expert consultation engine served over MCP stdio: a council
// of role-bound LLM experts that explore a code index and persistent memory
// before answering, with every finalized consultation feeding the learning
// tables.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	councilx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/agents/council"
	consultantx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/agents/consultant"
	singlex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/agents/single"
	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	eventsx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/events"
	gatex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/gate"
	llmx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/llm"
	memoryx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/memory"
	toolx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/tool"
	configx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/config"
	logx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/logger"
	_ "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/openrouter"
	qstashx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/qstash"
	serverx "github.com/tanpawarit/Counsel-Expert-Council-Engine/server"
)

// AppConfig carries process-level settings not owned by a subsystem.
type AppConfig struct {
	WorkspaceRoot    string        `envconfig:"WORKSPACE_ROOT" split_words:"true"`
	IndexOnStart     bool          `envconfig:"INDEX_ON_START" split_words:"true" default:"true"`
	HostServers      string        `envconfig:"HOST_SERVERS" split_words:"true"`
	HostTimeout      time.Duration `envconfig:"HOST_TIMEOUT" split_words:"true" default:"30s"`
	EventTopic       string        `envconfig:"EVENT_TOPIC" split_words:"true"`
	QStashEnabled    bool          `envconfig:"QSTASH_ENABLED" split_words:"true" default:"false"`
	WarehouseEnabled bool          `envconfig:"WAREHOUSE_ENABLED" split_words:"true" default:"false"`
	ProbeTimeout     time.Duration `envconfig:"PROBE_TIMEOUT" split_words:"true" default:"30s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "counsel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := logx.Component("main")

	appCfg := configx.MustNew[AppConfig]("COUNSEL")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	boundsCfg := configx.MustNew[llmx.BoundsConfig]("COUNSEL")
	memCfg := configx.MustNew[memoryx.Config]("COUNSEL")

	if err := llmCfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()

	// The engine has no heuristic-only mode, so a dead provider fails the
	// process now rather than the first consultation.
	probeCtx, cancelProbe := context.WithTimeout(ctx, appCfg.ProbeTimeout)
	err := openrouterx.Probe(probeCtx, openrouterx.NewClient(llmCfg.CoordinatorOpenRouter()))
	cancelProbe()
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrProviderUnavailable, err)
	}

	store, err := memoryx.New(*memCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	workspace := strings.TrimSpace(appCfg.WorkspaceRoot)
	if workspace == "" {
		workspace, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workspace root: %w", err)
		}
	}

	if appCfg.IndexOnStart {
		stats, err := store.IndexWorkspace(ctx, workspace)
		if err != nil {
			logger.Warn().Err(err).Str("root", workspace).Msg("workspace indexing failed; code tools degraded")
		} else {
			logger.Info().
				Int("files", stats.Files).
				Int("symbols", stats.Symbols).
				Int("edges", stats.Edges).
				Msg("workspace indexed")
		}
	}

	publisher := eventsx.Multi{eventsx.NewLog(logx.Component("events"))}
	if appCfg.QStashEnabled {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		publisher = append(publisher, eventsx.NewQStash(qstashx.MustNew(*qstashCfg), appCfg.EventTopic, logx.Component("qstash")))
	}

	var learning contractx.LearningStore = store
	if appCfg.WarehouseEnabled {
		whCfg := configx.MustNew[memoryx.WarehouseConfig]("WAREHOUSE")
		warehouse, err := memoryx.NewWarehouse(*whCfg, logx.Component("warehouse"))
		if err != nil {
			logger.Warn().Err(err).Msg("warehouse unavailable; learning records stay local")
		} else {
			defer warehouse.Close()
			learning = memoryx.MultiLearning(store, warehouse)
		}
	}

	var host contractx.HostBridge
	if raw := strings.TrimSpace(appCfg.HostServers); raw != "" {
		servers, err := toolx.ParseHostServers(raw)
		if err != nil {
			return fmt.Errorf("parse host servers: %w", err)
		}
		bridge := toolx.NewStdioBridge(servers, appCfg.HostTimeout, logx.Component("host"))
		defer bridge.Close()
		host = bridge
	}

	bounds := boundsCfg.Bounds()
	gate := gatex.New(bounds.MaxConcurrent)

	registry, err := singlex.NewRegistry(singlex.RegistryConfig{
		LLM: *llmCfg,
		Toolbox: singlex.Toolbox{
			Intelligence: store,
			Host:         host,
			Root:         workspace,
		},
		RoleStore: store,
		Publisher: publisher,
		Logger:    logx.Component("experts"),
	})
	if err != nil {
		return err
	}

	planner, err := llmCfg.CoordinatorOpenRouter().New(ctx)
	if err != nil {
		return fmt.Errorf("coordinator model: %w", err)
	}
	synthesizer, err := llmCfg.SynthesisOpenRouter().New(ctx)
	if err != nil {
		return fmt.Errorf("synthesis model: %w", err)
	}

	council, err := councilx.New(councilx.Config{
		Source:      registry,
		Planner:     planner,
		Synthesizer: synthesizer,
		Gate:        gate,
		Bounds:      bounds,
		Publisher:   publisher,
		Logger:      logx.Component("council"),
	})
	if err != nil {
		return err
	}

	consultant, err := consultantx.New(consultantx.Config{
		Registry:  registry,
		Council:   council,
		Gate:      gate,
		Learning:  learning,
		Publisher: publisher,
		Bounds:    bounds,
		Logger:    logx.Component("consultant"),
	})
	if err != nil {
		return err
	}

	srv, err := serverx.New(serverx.Deps{
		Consultant: consultant,
		Memory:     store,
		Configs:    store,
		Learning:   learning,
		Logger:     logx.Component("server"),
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("workspace", workspace).
		Int("max_concurrent", bounds.MaxConcurrent).
		Bool("host_bridge", host != nil).
		Msg("serving MCP on stdio")
	return mcpserver.ServeStdio(srv)
}
