package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if r == nil || len(r.Content) == 0 {
		t.Fatal("empty tool result")
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in tool result")
	return ""
}

type fakeConsulter struct {
	resp contractx.ConsultResponse
	err  error
	reqs []contractx.ConsultRequest
}

func (f *fakeConsulter) Consult(_ context.Context, req contractx.ConsultRequest) (contractx.ConsultResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type fakeMemory struct {
	lastKind    string
	lastContent string
	lastSource  string
	lastQuery   string
	lastLimit   int
	hits        []contractx.MemoryHit
	err         error
}

func (f *fakeMemory) Remember(_ context.Context, kind, content, source string) (int64, error) {
	f.lastKind, f.lastContent, f.lastSource = kind, content, source
	return 7, f.err
}

func (f *fakeMemory) Recall(_ context.Context, query string, limit int) ([]contractx.MemoryHit, error) {
	f.lastQuery, f.lastLimit = query, limit
	return f.hits, f.err
}

type fakeConfigs struct {
	stored map[contractx.Role]contractx.RoleConfig
	saved  []contractx.RoleConfig
}

func (f *fakeConfigs) RoleConfig(_ context.Context, role contractx.Role) (contractx.RoleConfig, error) {
	if cfg, ok := f.stored[role]; ok {
		return cfg, nil
	}
	return contractx.RoleConfig{Role: role}, nil
}

func (f *fakeConfigs) SaveRoleConfig(_ context.Context, cfg contractx.RoleConfig) error {
	f.saved = append(f.saved, cfg)
	return nil
}

type fakeOutcomes struct {
	outcomes []contractx.OutcomeRecord
	err      error
}

func (f *fakeOutcomes) RecordConsultation(context.Context, contractx.ConsultationRecord) error {
	return nil
}

func (f *fakeOutcomes) ArchiveFindings(context.Context, []contractx.Finding) error {
	return nil
}

func (f *fakeOutcomes) RecordOutcome(_ context.Context, rec contractx.OutcomeRecord) error {
	f.outcomes = append(f.outcomes, rec)
	return f.err
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	full := Deps{
		Consultant: &fakeConsulter{},
		Memory:     &fakeMemory{},
		Configs:    &fakeConfigs{},
		Learning:   &fakeOutcomes{},
		Logger:     zerolog.Nop(),
	}

	if _, err := New(full); err != nil {
		t.Fatalf("New with full deps: %v", err)
	}

	for name, strip := range map[string]func(*Deps){
		"consultant": func(d *Deps) { d.Consultant = nil },
		"memory":     func(d *Deps) { d.Memory = nil },
		"configs":    func(d *Deps) { d.Configs = nil },
		"learning":   func(d *Deps) { d.Learning = nil },
	} {
		deps := full
		strip(&deps)
		if _, err := New(deps); !errors.Is(err, contractx.ErrValidation) {
			t.Errorf("missing %s: got %v, want ErrValidation", name, err)
		}
	}
}

func TestConsultToolDefinition(t *testing.T) {
	t.Parallel()

	def := NewConsultTool(&fakeConsulter{}, zerolog.Nop()).Definition()
	if def.Name != "consult_experts" {
		t.Fatalf("name = %q", def.Name)
	}
	for _, prop := range []string{"problem", "context", "roles", "mode", "session_id", "max_iterations"} {
		if _, ok := def.InputSchema.Properties[prop]; !ok {
			t.Errorf("missing %q parameter", prop)
		}
	}
	required := strings.Join(def.InputSchema.Required, ",")
	if !strings.Contains(required, "problem") {
		t.Fatalf("problem must be required, got %q", required)
	}
}

func TestConsultToolRequiresProblem(t *testing.T) {
	t.Parallel()

	tool := NewConsultTool(&fakeConsulter{}, zerolog.Nop())
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{"problem": "   "}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result")
	}
}

func TestConsultToolParsesRequest(t *testing.T) {
	t.Parallel()

	consulter := &fakeConsulter{resp: contractx.ConsultResponse{ConsultationID: "c-1", Summary: "the analysis"}}
	tool := NewConsultTool(consulter, zerolog.Nop())

	res, err := tool.Handle(t.Context(), makeReq(map[string]any{
		"problem":                "should we adopt mTLS?",
		"context":                "east-west traffic is plaintext",
		"roles":                  "architect, security",
		"mode":                   "council",
		"session_id":             "sess-9",
		"max_iterations":         float64(12),
		"expert_timeout_seconds": float64(120),
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	if len(consulter.reqs) != 1 {
		t.Fatalf("consult calls = %d", len(consulter.reqs))
	}
	sent := consulter.reqs[0]
	if sent.Problem != "should we adopt mTLS?" || sent.SessionID != "sess-9" || sent.Mode != contractx.ModeCouncil {
		t.Fatalf("request = %+v", sent)
	}
	if sent.AutoRoles {
		t.Fatal("explicit roles must not set AutoRoles")
	}
	if len(sent.Roles) != 2 || sent.Roles[0] != contractx.RoleArchitect || sent.Roles[1] != contractx.RoleSecurity {
		t.Fatalf("roles = %v", sent.Roles)
	}
	if sent.Overrides.MaxIterations != 12 || sent.Overrides.ExpertTimeout != 120*time.Second {
		t.Fatalf("overrides = %+v", sent.Overrides)
	}

	text := resultText(t, res)
	if !strings.Contains(text, "the analysis") || !strings.Contains(text, "consultation_id: c-1") {
		t.Fatalf("result text:\n%s", text)
	}
	if strings.Contains(text, "degraded") {
		t.Fatalf("clean consult must not carry the degraded marker:\n%s", text)
	}
}

func TestConsultToolAutoRoles(t *testing.T) {
	t.Parallel()

	for _, rolesArg := range []string{"", "auto", "AUTO"} {
		consulter := &fakeConsulter{}
		tool := NewConsultTool(consulter, zerolog.Nop())
		if _, err := tool.Handle(t.Context(), makeReq(map[string]any{
			"problem": "anything",
			"roles":   rolesArg,
		})); err != nil {
			t.Fatalf("Handle(%q): %v", rolesArg, err)
		}
		if !consulter.reqs[0].AutoRoles || len(consulter.reqs[0].Roles) != 0 {
			t.Fatalf("roles %q: request = %+v", rolesArg, consulter.reqs[0])
		}
	}
}

func TestConsultToolRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	consulter := &fakeConsulter{}
	tool := NewConsultTool(consulter, zerolog.Nop())
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{
		"problem": "anything",
		"roles":   "architect, wizard",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown role must produce an error result")
	}
	if len(consulter.reqs) != 0 {
		t.Fatal("invalid request must not reach the consultant")
	}
}

func TestConsultToolMarksDegraded(t *testing.T) {
	t.Parallel()

	consulter := &fakeConsulter{resp: contractx.ConsultResponse{
		ConsultationID: "c-2",
		Summary:        "partial answers",
		Degraded:       true,
	}}
	tool := NewConsultTool(consulter, zerolog.Nop())
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{"problem": "anything"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := resultText(t, res); !strings.Contains(text, "degraded: true") {
		t.Fatalf("missing degraded marker:\n%s", text)
	}
}

func TestConsultToolErrorBecomesToolError(t *testing.T) {
	t.Parallel()

	consulter := &fakeConsulter{err: contractx.ErrProviderUnavailable}
	tool := NewConsultTool(consulter, zerolog.Nop())
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{"problem": "anything"}))
	if err != nil {
		t.Fatalf("Handle must not return a transport error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if text := resultText(t, res); !strings.Contains(text, "consultation failed") {
		t.Fatalf("result text:\n%s", text)
	}
}

func TestConfigureToolSavesOverride(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{}
	tool := NewConfigureTool(configs)
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{
		"role":        "security",
		"model":       "deepseek/deepseek-reasoner",
		"temperature": 0.2,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(configs.saved) != 1 {
		t.Fatalf("saved = %d", len(configs.saved))
	}
	cfg := configs.saved[0]
	if cfg.Role != contractx.RoleSecurity || cfg.Model != "deepseek/deepseek-reasoner" {
		t.Fatalf("config = %+v", cfg)
	}
	if !cfg.TemperatureSet || cfg.Temperature != 0.2 {
		t.Fatalf("temperature not captured: %+v", cfg)
	}

	text := resultText(t, res)
	if !strings.Contains(text, "deepseek/deepseek-reasoner") || !strings.Contains(text, "temperature 0.20") {
		t.Fatalf("result text:\n%s", text)
	}
}

func TestConfigureToolInspectsWithoutArguments(t *testing.T) {
	t.Parallel()

	configs := &fakeConfigs{stored: map[contractx.Role]contractx.RoleConfig{
		contractx.RoleArchitect: {Role: contractx.RoleArchitect, Model: "openai/gpt-4o"},
	}}
	tool := NewConfigureTool(configs)

	res, err := tool.Handle(t.Context(), makeReq(map[string]any{"role": "architect"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := resultText(t, res); !strings.Contains(text, "openai/gpt-4o") {
		t.Fatalf("result text:\n%s", text)
	}
	if len(configs.saved) != 0 {
		t.Fatal("inspection must not write")
	}

	res, err = tool.Handle(t.Context(), makeReq(map[string]any{"role": "security"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := resultText(t, res); !strings.Contains(text, "no override") {
		t.Fatalf("result text:\n%s", text)
	}
}

func TestConfigureToolRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	tool := NewConfigureTool(&fakeConfigs{})
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{"role": "wizard", "model": "x"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown role must produce an error result")
	}
}

func TestOutcomeToolRecords(t *testing.T) {
	t.Parallel()

	outcomes := &fakeOutcomes{}
	tool := NewOutcomeTool(outcomes)
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{
		"consultation_id":  "c-1",
		"role":             "architect",
		"accepted":         true,
		"note":             "the split worked",
		"duration_seconds": float64(300),
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	if len(outcomes.outcomes) != 1 {
		t.Fatalf("outcomes = %d", len(outcomes.outcomes))
	}
	rec := outcomes.outcomes[0]
	if rec.ConsultationID != "c-1" || rec.Role != contractx.RoleArchitect || !rec.Accepted {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Note != "the split worked" || rec.Duration != 5*time.Minute {
		t.Fatalf("record = %+v", rec)
	}
}

func TestOutcomeToolValidation(t *testing.T) {
	t.Parallel()

	tool := NewOutcomeTool(&fakeOutcomes{})
	cases := []map[string]any{
		{"role": "architect", "accepted": true},                            // missing id
		{"consultation_id": "c-1", "accepted": true, "role": "wizard"},     // bad role
		{"consultation_id": "c-1", "role": "architect"},                    // missing accepted
		{"consultation_id": "c-1", "role": "architect", "accepted": "yes"}, // wrong type
	}
	for i, args := range cases {
		res, err := tool.Handle(t.Context(), makeReq(args))
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !res.IsError {
			t.Errorf("case %d: expected an error result", i)
		}
	}
}

func TestRememberTool(t *testing.T) {
	t.Parallel()

	mem := &fakeMemory{}
	tool := NewRememberTool(mem)
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{
		"content": "auth tokens rotate daily",
		"kind":    "decision",
		"source":  "security sync",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mem.lastKind != "decision" || mem.lastContent != "auth tokens rotate daily" || mem.lastSource != "security sync" {
		t.Fatalf("stored = %q/%q/%q", mem.lastKind, mem.lastContent, mem.lastSource)
	}
	if text := resultText(t, res); !strings.Contains(text, "Remembered #7 (decision)") {
		t.Fatalf("result text:\n%s", text)
	}

	res, err = tool.Handle(t.Context(), makeReq(map[string]any{"content": " "}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("empty content must produce an error result")
	}
}

func TestRememberToolDefaultsKind(t *testing.T) {
	t.Parallel()

	mem := &fakeMemory{}
	tool := NewRememberTool(mem)
	if _, err := tool.Handle(t.Context(), makeReq(map[string]any{"content": "x"})); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mem.lastKind != "note" {
		t.Fatalf("kind = %q, want note", mem.lastKind)
	}
}

func TestRecallTool(t *testing.T) {
	t.Parallel()

	mem := &fakeMemory{hits: []contractx.MemoryHit{
		{ID: 3, Kind: "decision", Content: "auth tokens rotate daily"},
		{ID: 9, Kind: "note", Content: "billing runs in UTC"},
	}}
	tool := NewRecallTool(mem)
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{"query": "auth", "limit": float64(2)}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mem.lastQuery != "auth" || mem.lastLimit != 2 {
		t.Fatalf("query = %q limit = %d", mem.lastQuery, mem.lastLimit)
	}

	text := resultText(t, res)
	for _, want := range []string{"2 memories:", "[#3 decision] auth tokens rotate daily", "[#9 note] billing runs in UTC"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q:\n%s", want, text)
		}
	}
}

func TestRecallToolEmpty(t *testing.T) {
	t.Parallel()

	mem := &fakeMemory{}
	tool := NewRecallTool(mem)
	res, err := tool.Handle(t.Context(), makeReq(map[string]any{}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mem.lastLimit != 5 {
		t.Fatalf("default limit = %d, want 5", mem.lastLimit)
	}
	if text := resultText(t, res); text != "No memories matched." {
		t.Fatalf("result text = %q", text)
	}
}

var (
	_ Consulter                 = (*fakeConsulter)(nil)
	_ Memory                    = (*fakeMemory)(nil)
	_ contractx.RoleConfigStore = (*fakeConfigs)(nil)
	_ contractx.LearningStore   = (*fakeOutcomes)(nil)
)
