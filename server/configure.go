package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// ConfigureTool handles the configure_expert MCP tool.
type ConfigureTool struct {
	configs contractx.RoleConfigStore
}

func NewConfigureTool(configs contractx.RoleConfigStore) *ConfigureTool {
	return &ConfigureTool{configs: configs}
}

func (t *ConfigureTool) Definition() mcp.Tool {
	return mcp.NewTool("configure_expert",
		mcp.WithDescription(
			"Set or inspect the model override for an expert role. Overrides take effect on the next "+
				"consultation without a restart. Call with only a role to see the current override.",
		),
		mcp.WithString("role",
			mcp.Required(),
			mcp.Description("Expert role: architect, plan_reviewer, scope_analyst, code_reviewer, security"),
		),
		mcp.WithString("model",
			mcp.Description(`Model identifier, e.g. "openai/gpt-4o" or "deepseek/deepseek-reasoner"`),
		),
		mcp.WithNumber("temperature",
			mcp.Description("Sampling temperature for the role's model"),
		),
	)
}

func (t *ConfigureTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role, err := contractx.ParseRole(req.GetString("role", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	model := req.GetString("model", "")
	temperature, tempSet := floatArg(req, "temperature")

	if model == "" && !tempSet {
		cfg, err := t.configs.RoleConfig(ctx, role)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load role config: %v", err)), nil
		}
		return mcp.NewToolResultText(describeConfig(cfg)), nil
	}

	cfg := contractx.RoleConfig{
		Role:           role,
		Model:          model,
		Temperature:    float32(temperature),
		TemperatureSet: tempSet,
	}
	if err := t.configs.SaveRoleConfig(ctx, cfg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save role config: %v", err)), nil
	}
	return mcp.NewToolResultText(describeConfig(cfg)), nil
}

func describeConfig(cfg contractx.RoleConfig) string {
	out := fmt.Sprintf("Role %s", cfg.Role)
	if cfg.Model == "" && !cfg.TemperatureSet {
		return out + " has no override; the default model applies."
	}
	if cfg.Model != "" {
		out += fmt.Sprintf(" uses model %s", cfg.Model)
	}
	if cfg.TemperatureSet {
		out += fmt.Sprintf(" (temperature %.2f)", cfg.Temperature)
	}
	return out
}
