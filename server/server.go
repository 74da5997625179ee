// Package server exposes the consultation engine over the Model Context
// Protocol on stdio. This is the composition surface: tool handlers parse
// arguments and delegate, the services injected here do the work.
package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

const Name = "counsel"

// Version is set at build time via ldflags.
var Version = "dev"

// Consulter runs one consultation end to end.
type Consulter interface {
	Consult(ctx context.Context, req contractx.ConsultRequest) (contractx.ConsultResponse, error)
}

// Memory is the durable fact store behind remember and recall.
type Memory interface {
	Remember(ctx context.Context, kind, content, source string) (int64, error)
	Recall(ctx context.Context, query string, limit int) ([]contractx.MemoryHit, error)
}

// Deps carries the services the MCP tools delegate to.
type Deps struct {
	Consultant Consulter
	Memory     Memory
	Configs    contractx.RoleConfigStore
	Learning   contractx.LearningStore
	Logger     zerolog.Logger
}

// New builds the MCP server with every consultation tool registered.
func New(deps Deps) (*server.MCPServer, error) {
	if deps.Consultant == nil {
		return nil, fmt.Errorf("%w: consultant is required", contractx.ErrValidation)
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("%w: memory store is required", contractx.ErrValidation)
	}
	if deps.Configs == nil {
		return nil, fmt.Errorf("%w: role config store is required", contractx.ErrValidation)
	}
	if deps.Learning == nil {
		return nil, fmt.Errorf("%w: learning store is required", contractx.ErrValidation)
	}

	s := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions()),
	)

	consult := NewConsultTool(deps.Consultant, deps.Logger)
	s.AddTool(consult.Definition(), consult.Handle)

	configure := NewConfigureTool(deps.Configs)
	s.AddTool(configure.Definition(), configure.Handle)

	outcome := NewOutcomeTool(deps.Learning)
	s.AddTool(outcome.Definition(), outcome.Handle)

	remember := NewRememberTool(deps.Memory)
	s.AddTool(remember.Definition(), remember.Handle)

	recall := NewRecallTool(deps.Memory)
	s.AddTool(recall.Definition(), recall.Handle)

	return s, nil
}

func instructions() string {
	return `Counsel is a consultation engine backed by persistent memory and a code index.

Use consult_experts to put a problem in front of one expert (mode "single") or
a deliberating council (mode "council"). Pass roles explicitly or let "auto"
pick them from the problem statement. The response ends with a consultation_id;
pass it to record_outcome once you know whether the advice held up.

Use remember to persist durable facts and recall to retrieve them.
configure_expert changes the model behind a role without a restart.`
}
