package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidkarpay/agentrt/internal/checkpoint"
	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/plan"
	"github.com/davidkarpay/agentrt/internal/toolexec"
)

func newTestEngine(t *testing.T, dir string) (*Engine, *toolexec.Executor) {
	t.Helper()
	fileOps := config.FileOpsPolicy{
		AllowRead:          true,
		AllowWrite:         true,
		AllowEdit:          true,
		MaxFileSizeKB:      1024,
		AllowedDirectories: []string{dir},
		BackupBeforeEdit:   true,
	}
	toolPolicy := config.ToolPolicy{DefaultTimeoutSeconds: 5}
	exec := toolexec.New(dir, fileOps, toolPolicy, nil)

	store, err := checkpoint.NewStore(filepath.Join(dir, "checkpoints"))
	if err != nil {
		t.Fatal(err)
	}
	return New(exec, store), exec
}

func TestExecute_HappyPathRunsStepsInDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, dir)

	target := filepath.Join(dir, "out.txt")
	p := plan.New("test", "")
	p.Approved = true
	p.Steps = []*plan.Step{
		{ID: "write", OrderHint: 0, AgentID: "main", Tool: toolexec.WriteFileTool, Arguments: map[string]interface{}{"path": target, "content": "hello", "overwrite": true}, Status: plan.StepPending},
		{ID: "read", OrderHint: 1, AgentID: "main", Tool: toolexec.ReadFileTool, Arguments: map[string]interface{}{"path": target}, Dependencies: []string{"write"}, Status: plan.StepPending},
	}

	var events []ProgressEvent
	ok, msg := engine.Execute(context.Background(), p, map[string]bool{"main": true}, func(e ProgressEvent) {
		events = append(events, e)
	})
	if !ok {
		t.Fatalf("expected success, got %q", msg)
	}
	if p.Status != plan.StatusCompleted {
		t.Fatalf("got plan status %s", p.Status)
	}
	if p.Steps[0].Status != plan.StepCompleted || p.Steps[1].Status != plan.StepCompleted {
		t.Fatalf("got step statuses %s, %s", p.Steps[0].Status, p.Steps[1].Status)
	}
	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
}

func TestExecute_SuccessDiscardsCheckpoints(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, dir)

	target := filepath.Join(dir, "out.txt")
	p := plan.New("test", "")
	p.Approved = true
	p.Steps = []*plan.Step{
		{ID: "write", OrderHint: 0, AgentID: "main", Tool: toolexec.WriteFileTool, Arguments: map[string]interface{}{"path": target, "content": "hello", "overwrite": true}, Status: plan.StepPending},
	}

	ok, msg := engine.Execute(context.Background(), p, map[string]bool{"main": true}, nil)
	if !ok {
		t.Fatalf("expected success, got %q", msg)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "checkpoints"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no checkpoint files after a successful run, found %d", len(entries))
	}
	if len(engine.checkpoints.ForPlan(p.ID)) != 0 {
		t.Fatal("expected no in-memory checkpoints for the plan after a successful run")
	}
}

func TestExecute_FailsFastOnUnapprovedPlan(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, dir)
	p := plan.New("test", "")
	ok, msg := engine.Execute(context.Background(), p, nil, nil)
	if ok || msg == "" {
		t.Fatalf("expected immediate failure for unapproved plan, got ok=%v msg=%q", ok, msg)
	}
}

func TestExecute_RetriesThenFailsAndRollsBack(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, dir)

	target := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := plan.New("test", "")
	p.Approved = true
	p.Steps = []*plan.Step{
		{ID: "s1", OrderHint: 0, AgentID: "main", Tool: toolexec.WriteFileTool, Arguments: map[string]interface{}{"path": target, "content": "new", "overwrite": false}, Status: plan.StepPending},
	}

	var sawRetry, sawFailed bool
	ok, _ := engine.Execute(context.Background(), p, map[string]bool{"main": true}, func(e ProgressEvent) {
		if string(e.Event) == "step_retried" {
			sawRetry = true
		}
		if string(e.Event) == "step_failed" {
			sawFailed = true
		}
	})
	if ok {
		t.Fatal("expected failure since overwrite=false against an existing file always fails")
	}
	if p.Status != plan.StatusFailed {
		t.Fatalf("got plan status %s", p.Status)
	}
	if p.Steps[0].Attempts != maxAttempts {
		t.Fatalf("got %d attempts, want %d", p.Steps[0].Attempts, maxAttempts)
	}
	_ = sawRetry
	if !sawFailed {
		t.Fatal("expected a step_failed progress event")
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Fatalf("got %q, want file left untouched by rollback", got)
	}
}

func TestExecute_CancelledBeforeStepSkipsIt(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, dir)

	p := plan.New("test", "")
	p.Approved = true
	p.Steps = []*plan.Step{
		{ID: "s1", OrderHint: 0, AgentID: "main", Tool: toolexec.ReadFileTool, Arguments: map[string]interface{}{"path": filepath.Join(dir, "nope.txt")}, Status: plan.StepPending},
	}

	engine.Cancel(p.ID)
	ok, msg := engine.Execute(context.Background(), p, map[string]bool{"main": true}, nil)
	if ok || msg != "cancelled" {
		t.Fatalf("got ok=%v msg=%q", ok, msg)
	}
	if p.Status != plan.StatusCancelled {
		t.Fatalf("got %s", p.Status)
	}
	if p.Steps[0].Status != plan.StepSkipped {
		t.Fatalf("got %s", p.Steps[0].Status)
	}
}

func TestSaveState_LoadState_RunningStepBecomesPending(t *testing.T) {
	dir := t.TempDir()
	engine, _ := newTestEngine(t, dir)

	p := plan.New("test", "")
	p.Approved = true
	p.Steps = []*plan.Step{
		{ID: "s1", OrderHint: 0, AgentID: "main", Tool: toolexec.ReadFileTool, Arguments: map[string]interface{}{}, Status: plan.StepRunning},
	}

	state := engine.SaveState(p)
	restored := LoadState(state)
	if restored.Steps[0].Status != plan.StepPending {
		t.Fatalf("got %s, want pending after reload", restored.Steps[0].Status)
	}
}
