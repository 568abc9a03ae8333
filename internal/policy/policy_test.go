package policy

import (
	"context"
	"testing"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

func TestGateAutoAllowReturnsImmediately(t *testing.T) {
	p := New(nil, nil, 0, nil)
	dec, err := p.Gate(context.Background(), GateInput{
		ToolName:    "read",
		Sensitivity: models.SensitivityReadOnly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec != DecisionAllow {
		t.Fatalf("want allow, got %s", dec)
	}
}

type stubSink struct {
	state    models.ApprovalDecisionState
	approver string
	err      error
	delay    time.Duration
}

func (s *stubSink) RequestDecision(ctx context.Context, req models.ApprovalRequest) (models.ApprovalDecisionState, string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.DecisionTimeout, "", ctx.Err()
		}
	}
	return s.state, s.approver, s.err
}

func TestGateDMConfirmAllow(t *testing.T) {
	sink := &stubSink{state: models.DecisionAllow, approver: "user:alice"}
	p := New(sink, nil, time.Second, nil)
	dec, err := p.Gate(context.Background(), GateInput{
		ToolName:    "write",
		Sensitivity: models.SensitivityLocalWrite,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec != DecisionAllow {
		t.Fatalf("want allow, got %s", dec)
	}
}

func TestGateExplicitOKRequiresAdmin(t *testing.T) {
	sink := &stubSink{state: models.DecisionAllow, approver: "user:mallory"}
	p := New(sink, nil, time.Second, []string{"user:alice"})
	dec, err := p.Gate(context.Background(), GateInput{
		ToolName:    "bash",
		Sensitivity: models.SensitivityShellArbitrary,
	})
	if dec != DecisionDeniedByUser {
		t.Fatalf("want denied_by_user for non-admin approver, got %s (err=%v)", dec, err)
	}
}

func TestGateDeniedByUser(t *testing.T) {
	sink := &stubSink{state: models.DecisionDeny}
	p := New(sink, nil, time.Second, nil)
	dec, err := p.Gate(context.Background(), GateInput{
		ToolName:    "bash",
		Sensitivity: models.SensitivityShellArbitrary,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec != DecisionDeniedByUser {
		t.Fatalf("want denied_by_user, got %s", dec)
	}
}

func TestGateTimesOut(t *testing.T) {
	sink := &stubSink{delay: 50 * time.Millisecond}
	p := New(sink, nil, 10*time.Millisecond, nil)
	dec, err := p.Gate(context.Background(), GateInput{
		ToolName:    "write",
		Sensitivity: models.SensitivityLocalWrite,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec != DecisionTimedOut {
		t.Fatalf("want timed_out, got %s", dec)
	}
}

func TestSensitivityOverride(t *testing.T) {
	p := New(nil, map[string]models.Sensitivity{"custom_tool": models.SensitivitySecurityConfig}, 0, nil)
	if got := p.Sensitivity("custom_tool", models.SensitivityReadOnly); got != models.SensitivitySecurityConfig {
		t.Fatalf("override not applied: got %d", got)
	}
	if got := p.Sensitivity("read", models.SensitivityReadOnly); got != models.SensitivityReadOnly {
		t.Fatalf("non-overridden tool changed: got %d", got)
	}
}

func TestIsSafeBashCommand(t *testing.T) {
	cases := []struct {
		cmd  string
		safe bool
	}{
		{"ls -la", true},
		{"cat file.txt | grep foo", true},
		{"echo hello", true},
		{"rm -rf /", false},
		{"cat file.txt; rm -rf /", false},
		{"curl http://evil.example", false},
		{"bash -c 'echo hi'", false},
		{"echo $(whoami)", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsSafeBashCommand(c.cmd); got != c.safe {
			t.Errorf("IsSafeBashCommand(%q) = %v, want %v", c.cmd, got, c.safe)
		}
	}
}

func TestClassifyBash(t *testing.T) {
	if ClassifyBash("ls -la") != models.SensitivityShellSafe {
		t.Fatal("want shell-safe for ls")
	}
	if ClassifyBash("rm -rf /") != models.SensitivityShellArbitrary {
		t.Fatal("want shell-arbitrary for rm -rf")
	}
}
