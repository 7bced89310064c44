package plan

import (
	"reflect"
	"strings"
	"testing"

	"github.com/davidkarpay/agentrt/internal/toolexec"
)

func step(id string, orderHint int, deps ...string) *Step {
	return &Step{
		ID:           id,
		OrderHint:    orderHint,
		AgentID:      "main",
		Tool:         toolexec.ReadFileTool,
		Dependencies: deps,
		Status:       StepPending,
		Arguments:    map[string]interface{}{},
	}
}

func TestExecutionOrder_RespectsDependencies(t *testing.T) {
	p := New("test", "")
	p.Steps = []*Step{
		step("a", 2),
		step("b", 1, "a"),
		step("c", 0, "b"),
	}

	order, err := p.ExecutionOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{order[0].ID, order[1].ID, order[2].ID}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExecutionOrder_TieBreaksByOrderHint(t *testing.T) {
	p := New("test", "")
	p.Steps = []*Step{
		step("b", 2),
		step("a", 1),
	}
	order, err := p.ExecutionOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order[0].ID != "a" || order[1].ID != "b" {
		t.Fatalf("expected order_hint tie-break, got %v, %v", order[0].ID, order[1].ID)
	}
}

func TestValidate_CycleDetected(t *testing.T) {
	p := New("test", "")
	p.Steps = []*Step{
		step("a", 0, "b"),
		step("b", 1, "a"),
	}
	errs := p.Validate(map[string]bool{"main": true})
	if len(errs) == 0 {
		t.Fatal("expected validation errors for cycle")
	}
	found := false
	for _, e := range errs {
		if containsCycle(e.Error()) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cycle error, got %v", errs)
	}

	if _, err := p.ExecutionOrder(); err == nil {
		t.Fatal("expected ExecutionOrder to fail on a cyclic plan")
	}
}

func containsCycle(s string) bool {
	for i := 0; i+len("cycle") <= len(s); i++ {
		if s[i:i+len("cycle")] == "cycle" {
			return true
		}
	}
	return false
}

func TestValidate_MissingDependency(t *testing.T) {
	p := New("test", "")
	p.Steps = []*Step{step("a", 0, "ghost")}
	errs := p.Validate(map[string]bool{"main": true})
	if len(errs) == 0 {
		t.Fatal("expected error for missing dependency")
	}
}

func TestPortableRoundTrip(t *testing.T) {
	p := New("test", "desc")
	p.Approved = true
	p.Status = StatusApproved
	s := step("a", 0)
	s.Attempts = 2
	s.Status = StepCompleted
	p.Steps = []*Step{s}

	restored := FromPortable(p.ToPortable())

	if restored.ID != p.ID || restored.Name != p.Name || restored.Approved != p.Approved || restored.Status != p.Status {
		t.Fatalf("plan-level fields diverged: %+v vs %+v", restored, p)
	}
	if len(restored.Steps) != 1 || restored.Steps[0].ID != "a" || restored.Steps[0].Attempts != 2 || restored.Steps[0].Status != StepCompleted {
		t.Fatalf("step fields diverged: %+v", restored.Steps)
	}
}

func TestProgress(t *testing.T) {
	p := New("test", "")
	s1 := step("a", 0)
	s1.Status = StepCompleted
	s2 := step("b", 1)
	s2.Status = StepPending
	p.Steps = []*Step{s1, s2}

	if got := p.Progress(); got != 0.5 {
		t.Fatalf("got %v", got)
	}
}

func TestRender_IncludesStepsAndRollups(t *testing.T) {
	p := New("test", "desc")
	s := step("a", 0)
	s.Description = "do a thing"
	s.Status = StepCompleted
	s.EstimatedSeconds = 30
	p.Steps = []*Step{s}

	out := p.Render(map[string]float64{"main": 0.01}, map[string]int{"main": 1000})
	if !strings.Contains(out, "do a thing") || !strings.Contains(out, "Progress: 100%") {
		t.Fatalf("got %q", out)
	}
}
