package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/audit"
	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/policy"
	"github.com/ainoobmenpg/cc-gateway/internal/providers"
	"github.com/ainoobmenpg/cc-gateway/internal/sessions"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
	"github.com/ainoobmenpg/cc-gateway/internal/tools/builtin"
)

// stubProvider plays back a fixed script of responses, one per call; the
// final entry repeats for every call beyond the script's length so an
// iteration-budget test (S6) can loop indefinitely on one canned reply.
type stubProvider struct {
	mu     sync.Mutex
	steps  []func(req models.ProviderRequest) (models.ProviderResponse, error)
	calls  int
}

func (p *stubProvider) Complete(_ context.Context, req models.ProviderRequest) (models.ProviderResponse, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.mu.Unlock()
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i](req)
}

func (p *stubProvider) Dialect() string { return "stub" }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubTool is a minimal tools.Tool for scenarios that don't need a real
// builtin (S2, S3, S6).
type stubTool struct {
	name        string
	sensitivity models.Sensitivity
	exec        func(ctx context.Context, input json.RawMessage) (tools.Result, error)
}

func (t *stubTool) Name() string                        { return t.name }
func (t *stubTool) Description() string                 { return "test stub" }
func (t *stubTool) Schema() json.RawMessage             { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) Sensitivity() models.Sensitivity      { return t.sensitivity }
func (t *stubTool) Execute(ctx context.Context, input json.RawMessage) (tools.Result, error) {
	return t.exec(ctx, input)
}

// denyAllSink always refuses (S4).
type denyAllSink struct{}

func (denyAllSink) RequestDecision(_ context.Context, _ models.ApprovalRequest) (models.ApprovalDecisionState, string, error) {
	return models.DecisionDeny, "", nil
}

func newTestDriver(t *testing.T, provider providers.Provider, registerTools func(*tools.Registry), sink policy.ApprovalSink) (*Driver, string) {
	t.Helper()
	ctx := context.Background()

	store, err := sessions.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	session, err := store.GetOrCreate(ctx, models.ChannelCLI, "test-scope")
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}

	registry := tools.NewRegistry()
	if registerTools != nil {
		registerTools(registry)
	}

	auditor, err := audit.NewLogger(filepath.Join(t.TempDir(), "audit.log"), nil)
	if err != nil {
		t.Fatalf("new audit logger: %v", err)
	}
	t.Cleanup(func() { auditor.Close() })

	pol := policy.New(sink, nil, time.Second, []string{"admin"})

	d := New(DriverConfig{
		Store:            store,
		Provider:         provider,
		Registry:         registry,
		Policy:           pol,
		Auditor:          auditor,
		Locker:           sessions.NewTurnLocker(),
		Model:            "test-model",
		MaxIterations:    16,
		MaxParallelTools: 4,
		PerCallTimeout:   5 * time.Second,
	})
	return d, session.ID
}

func textResponse(text string) func(models.ProviderRequest) (models.ProviderResponse, error) {
	return func(models.ProviderRequest) (models.ProviderResponse, error) {
		return models.ProviderResponse{
			Blocks:     []models.Block{models.TextBlock(text)},
			StopReason: models.StopEndTurn,
		}, nil
	}
}

// S1. Simple text turn.
func TestRunTurn_SimpleText(t *testing.T) {
	provider := &stubProvider{steps: []func(models.ProviderRequest) (models.ProviderResponse, error){
		textResponse("hi there"),
	}}
	d, sessionID := newTestDriver(t, provider, nil, nil)

	outcome, err := d.RunTurn(context.Background(), sessionID, "hello", RunOptions{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome.AssistantText != "hi there" {
		t.Errorf("assistant text = %q, want %q", outcome.AssistantText, "hi there")
	}
	if len(outcome.ToolCallsMade) != 0 {
		t.Errorf("expected zero tool calls, got %d", len(outcome.ToolCallsMade))
	}

	history, err := d.store.History(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("session length = %d, want 2", len(history))
	}
}

// S2. Single tool round.
func TestRunTurn_SingleToolRound(t *testing.T) {
	provider := &stubProvider{steps: []func(models.ProviderRequest) (models.ProviderResponse, error){
		func(models.ProviderRequest) (models.ProviderResponse, error) {
			return models.ProviderResponse{
				Blocks:     []models.Block{models.ToolUseBlock("t1", "ls", json.RawMessage(`{"path":"."}`))},
				StopReason: models.StopToolUse,
			}, nil
		},
		textResponse("main.rs, README.md"),
	}}

	d, sessionID := newTestDriver(t, provider, func(r *tools.Registry) {
		_ = r.Register(&stubTool{name: "ls", sensitivity: models.SensitivityReadOnly, exec: func(context.Context, json.RawMessage) (tools.Result, error) {
			return tools.Result{Output: "main.rs, README.md"}, nil
		}})
	}, nil)

	outcome, err := d.RunTurn(context.Background(), sessionID, "what files are here", RunOptions{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome.AssistantText != "main.rs, README.md" {
		t.Errorf("assistant text = %q", outcome.AssistantText)
	}
	if len(outcome.ToolCallsMade) != 1 || outcome.ToolCallsMade[0].Outcome != models.ToolOutcomeOK {
		t.Fatalf("expected one ok tool call, got %+v", outcome.ToolCallsMade)
	}

	history, _ := d.store.History(context.Background(), sessionID)
	if len(history) != 4 {
		t.Errorf("session length = %d, want 4", len(history))
	}
}

// S3. Parallel tools preserve order regardless of completion order.
func TestRunTurn_ParallelToolsPreserveOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 15 * time.Millisecond, "b": 25 * time.Millisecond, "c": 5 * time.Millisecond}

	provider := &stubProvider{steps: []func(models.ProviderRequest) (models.ProviderResponse, error){
		func(models.ProviderRequest) (models.ProviderResponse, error) {
			return models.ProviderResponse{
				Blocks: []models.Block{
					models.ToolUseBlock("a", "read", json.RawMessage(`{"id":"a"}`)),
					models.ToolUseBlock("b", "read", json.RawMessage(`{"id":"b"}`)),
					models.ToolUseBlock("c", "read", json.RawMessage(`{"id":"c"}`)),
				},
				StopReason: models.StopToolUse,
			}, nil
		},
		textResponse("done"),
	}}

	d, sessionID := newTestDriver(t, provider, func(r *tools.Registry) {
		_ = r.Register(&stubTool{name: "read", sensitivity: models.SensitivityReadOnly, exec: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var parsed struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(input, &parsed)
			select {
			case <-time.After(delays[parsed.ID]):
			case <-ctx.Done():
			}
			return tools.Result{Output: parsed.ID}, nil
		}})
	}, nil)

	_, err := d.RunTurn(context.Background(), sessionID, "read three files", RunOptions{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	history, _ := d.store.History(context.Background(), sessionID)
	// messages: user, assistant(tool_use x3), user(tool_result x3), assistant(final)
	toolResultMsg := history[2]
	var gotOrder []string
	for _, b := range toolResultMsg.Blocks {
		gotOrder = append(gotOrder, b.ToolResultForID)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if gotOrder[i] != id {
			t.Errorf("tool_result order[%d] = %q, want %q (full: %v)", i, gotOrder[i], id, gotOrder)
		}
	}
}

// S4. Denied high-sensitivity tool.
func TestRunTurn_DeniedHighSensitivityTool(t *testing.T) {
	provider := &stubProvider{steps: []func(models.ProviderRequest) (models.ProviderResponse, error){
		func(models.ProviderRequest) (models.ProviderResponse, error) {
			return models.ProviderResponse{
				Blocks:     []models.Block{models.ToolUseBlock("x", "bash", json.RawMessage(`{"command":"rm -rf /"}`))},
				StopReason: models.StopToolUse,
			}, nil
		},
		textResponse("I was not able to run that command."),
	}}

	workspace := t.TempDir()
	d, sessionID := newTestDriver(t, provider, func(r *tools.Registry) {
		_ = r.Register(builtin.NewBashTool(builtin.FSConfig{Workspace: workspace}, 5*time.Second))
	}, denyAllSink{})

	outcome, err := d.RunTurn(context.Background(), sessionID, "clean up", RunOptions{})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(outcome.ToolCallsMade) != 1 {
		t.Fatalf("expected one tool call, got %d", len(outcome.ToolCallsMade))
	}
	call := outcome.ToolCallsMade[0]
	if call.Outcome != models.ToolOutcomeDenied {
		t.Errorf("outcome = %q, want denied", call.Outcome)
	}
	if call.Sensitivity < models.SensitivityShellArbitrary {
		t.Errorf("sensitivity = %d, want >= %d (arbitrary bash)", call.Sensitivity, models.SensitivityShellArbitrary)
	}

	history, _ := d.store.History(context.Background(), sessionID)
	toolResultMsg := history[2]
	if len(toolResultMsg.Blocks) != 1 || !toolResultMsg.Blocks[0].IsError {
		t.Fatalf("expected a single is_error tool_result, got %+v", toolResultMsg.Blocks)
	}
	if want := "denied by user"; !contains(toolResultMsg.Blocks[0].Output, want) {
		t.Errorf("tool_result output = %q, want to contain %q", toolResultMsg.Blocks[0].Output, want)
	}
}

// S5. Provider transport retry.
func TestRunTurn_ProviderTransportRetry(t *testing.T) {
	transportErr := &providers.Error{Dialect: "stub", Reason: providers.FailoverTimeout, Message: "timeout"}
	var attempts int
	var mu sync.Mutex

	provider := &stubProvider{steps: []func(models.ProviderRequest) (models.ProviderResponse, error){
		func(models.ProviderRequest) (models.ProviderResponse, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return models.ProviderResponse{}, transportErr
		},
		func(models.ProviderRequest) (models.ProviderResponse, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return models.ProviderResponse{}, transportErr
		},
		func(models.ProviderRequest) (models.ProviderResponse, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return models.ProviderResponse{
				Blocks:     []models.Block{models.TextBlock("recovered")},
				StopReason: models.StopEndTurn,
			}, nil
		},
	}}

	d, sessionID := newTestDriver(t, provider, nil, nil)

	start := time.Now()
	outcome, err := d.RunTurn(context.Background(), sessionID, "hello", RunOptions{})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome.AssistantText != "recovered" {
		t.Errorf("assistant text = %q", outcome.AssistantText)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if elapsed < providerRetryBase {
		t.Errorf("elapsed = %s, want at least one backoff of %s", elapsed, providerRetryBase)
	}

	history, _ := d.store.History(context.Background(), sessionID)
	assistantCount := 0
	for _, m := range history {
		if m.Role == models.RoleAssistant {
			assistantCount++
		}
	}
	if assistantCount != 1 {
		t.Errorf("assistant message count = %d, want 1", assistantCount)
	}
}

// S6. Iteration budget.
func TestRunTurn_IterationBudget(t *testing.T) {
	calls := 0
	alwaysToolUse := func(models.ProviderRequest) (models.ProviderResponse, error) {
		calls++
		return models.ProviderResponse{
			Blocks:     []models.Block{models.ToolUseBlock(fmt.Sprintf("noop-%d", calls), "noop", json.RawMessage(`{}`))},
			StopReason: models.StopToolUse,
		}, nil
	}
	provider := &stubProvider{steps: []func(models.ProviderRequest) (models.ProviderResponse, error){alwaysToolUse}}

	d, sessionID := newTestDriver(t, provider, func(r *tools.Registry) {
		_ = r.Register(&stubTool{name: "noop", sensitivity: models.SensitivityReadOnly, exec: func(context.Context, json.RawMessage) (tools.Result, error) {
			return tools.Result{Output: "ok"}, nil
		}})
	}, nil)

	outcome, err := d.RunTurn(context.Background(), sessionID, "loop forever", RunOptions{MaxIterations: 3})
	if err == nil {
		t.Fatal("expected IterationBudget error, got nil")
	}
	gwErr, ok := err.(*GatewayError)
	if !ok || gwErr.Kind != KindIterationBudget {
		t.Fatalf("err = %v, want *GatewayError{Kind: KindIterationBudget}", err)
	}
	if !outcome.Truncated {
		t.Errorf("expected Truncated outcome")
	}
	if len(outcome.ToolCallsMade) != 3 {
		t.Errorf("tool calls made = %d, want 3", len(outcome.ToolCallsMade))
	}

	history, _ := d.store.History(context.Background(), sessionID)
	toolUsePairs := 0
	for _, m := range history {
		if m.Role == models.RoleAssistant {
			for _, b := range m.Blocks {
				if b.Type == models.BlockToolUse {
					toolUsePairs++
				}
			}
		}
	}
	if toolUsePairs != 3 {
		t.Errorf("tool_use blocks persisted = %d, want 3", toolUsePairs)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
