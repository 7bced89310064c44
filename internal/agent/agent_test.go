package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/llmclient"
	"github.com/davidkarpay/agentrt/internal/outputsink"
	"github.com/davidkarpay/agentrt/internal/toolexec"
)

type stubExecutor struct {
	result toolexec.Result
	calls  []toolexec.Spec
}

func (s *stubExecutor) Dispatch(_ context.Context, spec toolexec.Spec, _ map[string]interface{}) toolexec.Result {
	s.calls = append(s.calls, spec)
	return s.result
}

type collectingSink struct {
	chunks []outputsink.Chunk
}

func (c *collectingSink) Emit(chunk outputsink.Chunk) {
	c.chunks = append(c.chunks, chunk)
}

func sseServer(t *testing.T, bodies []string) *httptest.Server {
	t.Helper()
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if i >= len(bodies) {
			t.Fatalf("unexpected extra completion request")
		}
		fmt.Fprint(w, bodies[i])
		i++
	}))
}

func testProfile() config.AgentProfile {
	return config.AgentProfile{
		Role:          config.RoleMain,
		ModelID:       "test-model",
		StreamEnabled: true,
		MaxTokens:     100,
	}
}

func TestSendUserTurn_PlainResponseGoesIdle(t *testing.T) {
	srv := sseServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"[RESPONSE]hello there\"}}]}\n\ndata: [DONE]\n\n",
	})
	defer srv.Close()

	client := llmclient.New(srv.URL, "", nil)
	sink := &collectingSink{}
	a := New("main", testProfile(), client, &stubExecutor{}, sink, true, false, nil)

	if err := a.SendUserTurn(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if a.Status() != StatusIdle {
		t.Fatalf("expected idle for a persistent main agent, got %s", a.Status())
	}
	if len(sink.chunks) == 0 {
		t.Fatal("expected at least one forwarded text chunk")
	}
}

func TestSendUserTurn_FileOpTriggersToolLoop(t *testing.T) {
	srv := sseServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"[FILE_READ]path: ./a.txt\\n[/FILE_READ]\"}}]}\n\ndata: [DONE]\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"[RESPONSE]done\"}}]}\n\ndata: [DONE]\n\n",
	})
	defer srv.Close()

	client := llmclient.New(srv.URL, "", nil)
	exec := &stubExecutor{result: toolexec.Result{Success: true, Stdout: "contents"}}
	sink := &collectingSink{}
	a := New("main", testProfile(), client, exec, sink, true, false, nil)

	if err := a.SendUserTurn(context.Background(), "read the file"); err != nil {
		t.Fatal(err)
	}
	if len(exec.calls) != 1 || exec.calls[0] != toolexec.ReadFileTool {
		t.Fatalf("expected exactly one read_file_tool dispatch, got %v", exec.calls)
	}
}

func TestSendUserTurn_PlanModeQueuesFileOpsFromMain(t *testing.T) {
	srv := sseServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"[FILE_WRITE]path: ./a.txt\\ncontent: ```\\nx\\n```\\n[/FILE_WRITE]\"}}]}\n\ndata: [DONE]\n\n",
	})
	defer srv.Close()

	client := llmclient.New(srv.URL, "", nil)
	exec := &stubExecutor{result: toolexec.Result{Success: true}}
	a := New("main", testProfile(), client, exec, &collectingSink{}, true, true, nil)

	if err := a.SendUserTurn(context.Background(), "write something"); err != nil {
		t.Fatal(err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected file op to be queued, not executed, in plan_mode: %v", exec.calls)
	}
}

func TestSendUserTurn_SummaryBecomesPending(t *testing.T) {
	srv := sseServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"[SUMMARY]work is done[/SUMMARY]\"}}]}\n\ndata: [DONE]\n\n",
	})
	defer srv.Close()

	client := llmclient.New(srv.URL, "", nil)
	a := New("sub-1", testProfile(), client, &stubExecutor{}, &collectingSink{}, false, false, nil)

	if err := a.SendUserTurn(context.Background(), "do the task"); err != nil {
		t.Fatal(err)
	}
	summary := a.TakePendingSummary()
	if summary == nil || summary.Text != "work is done" {
		t.Fatalf("got %+v", summary)
	}
	if a.Status() != StatusCompleted {
		t.Fatalf("expected a one-shot sub-agent to complete, got %s", a.Status())
	}
}

func TestReceiveMessage_DoesNotTriggerCompletion(t *testing.T) {
	a := New("sub-1", testProfile(), nil, &stubExecutor{}, &collectingSink{}, false, false, nil)
	a.ReceiveMessage("main", "hello")
	if len(a.history) != 1 { // no system prompt configured, so just the received turn
		t.Fatalf("got %d history entries", len(a.history))
	}
}

func TestResetHistory_KeepsSystemPrompt(t *testing.T) {
	profile := testProfile()
	profile.SystemPromptText = "you are a test agent"
	a := New("main", profile, nil, &stubExecutor{}, &collectingSink{}, true, false, nil)
	a.appendMessage(RoleUser, "hi")
	a.ResetHistory()
	if len(a.history) != 1 || a.history[0].Role != RoleSystem {
		t.Fatalf("got %+v", a.history)
	}
}

func TestOnPlan_CalledForPlanEvent(t *testing.T) {
	srv := sseServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"[PLAN]\\n## Workflow: x\\n[/PLAN]\"}}]}\n\ndata: [DONE]\n\n",
	})
	defer srv.Close()

	client := llmclient.New(srv.URL, "", nil)
	var gotAgent, gotText string
	onPlan := func(agentID, planText string) {
		gotAgent = agentID
		gotText = planText
	}
	a := New("main", testProfile(), client, &stubExecutor{}, &collectingSink{}, true, false, onPlan)

	if err := a.SendUserTurn(context.Background(), "plan it"); err != nil {
		t.Fatal(err)
	}
	if gotAgent != "main" || gotText == "" {
		t.Fatalf("onPlan not invoked as expected: agent=%q text=%q", gotAgent, gotText)
	}
}
