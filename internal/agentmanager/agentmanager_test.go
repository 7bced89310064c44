package agentmanager

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davidkarpay/agentrt/internal/agent"
	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/llmclient"
	"github.com/davidkarpay/agentrt/internal/outputsink"
	"github.com/davidkarpay/agentrt/internal/toolexec"
)

type noopExecutor struct{}

func (noopExecutor) Dispatch(context.Context, toolexec.Spec, map[string]interface{}) toolexec.Result {
	return toolexec.Result{Success: true}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.MaxConcurrentAgents = 1
	cfg.Profiles[string(config.RoleResearcher)] = config.AgentProfile{
		Role:          config.RoleResearcher,
		ModelID:       "test-model",
		StreamEnabled: true,
		SpawnKeywords: []string{"research"},
	}
	return cfg
}

func summaryServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"[SUMMARY]%s[/SUMMARY]\"}}]}\n\ndata: [DONE]\n\n", text)
	}))
}

func waitForStatus(t *testing.T, a *agent.Agent, want agent.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent never reached status %s, last seen %s", want, a.Status())
}

func TestSpawn_RejectsAtCapacity(t *testing.T) {
	srv := summaryServer(t, "done")
	defer srv.Close()

	cfg := testConfig()
	m := New(cfg, func(config.AgentProfile) *llmclient.Client { return llmclient.New(srv.URL, "", nil) }, noopExecutor{}, outputsink.Discard{}, nil)

	if _, err := m.Spawn(context.Background(), config.RoleResearcher, "task 1", "main"); err != nil {
		t.Fatalf("first spawn should succeed: %v", err)
	}
	if _, err := m.Spawn(context.Background(), config.RoleResearcher, "task 2", "main"); err == nil {
		t.Fatal("expected capacity error on second spawn")
	} else if _, ok := err.(CapacityError); !ok {
		t.Fatalf("expected CapacityError, got %T: %v", err, err)
	}
}

func TestSpawn_DeliversSummaryToParent(t *testing.T) {
	srv := summaryServer(t, "research complete")
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrentAgents = 4
	m := New(cfg, func(config.AgentProfile) *llmclient.Client { return llmclient.New(srv.URL, "", nil) }, noopExecutor{}, outputsink.Discard{}, nil)

	mainID, err := m.Spawn(context.Background(), config.RoleMain, "seed", "")
	if err != nil {
		t.Fatal(err)
	}
	mainAgent, _ := m.Get(mainID)
	waitForStatus(t, mainAgent, agent.StatusIdle)

	subID, err := m.Spawn(context.Background(), config.RoleResearcher, "look into it", mainID)
	if err != nil {
		t.Fatal(err)
	}
	subAgent, _ := m.Get(subID)
	waitForStatus(t, subAgent, agent.StatusCompleted)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && subAgent.HasPendingSummary() {
		m.DrainDeliveries()
		time.Sleep(5 * time.Millisecond)
	}
	if subAgent.HasPendingSummary() {
		t.Fatal("summary was never delivered")
	}
}

func TestList_ReturnsRegisteredAgents(t *testing.T) {
	srv := summaryServer(t, "done")
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrentAgents = 4
	m := New(cfg, func(config.AgentProfile) *llmclient.Client { return llmclient.New(srv.URL, "", nil) }, noopExecutor{}, outputsink.Discard{}, nil)

	id, err := m.Spawn(context.Background(), config.RoleResearcher, "task", "main")
	if err != nil {
		t.Fatal(err)
	}
	list := m.List()
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("got %+v", list)
	}
}

func TestCheckAndAutoSpawn_MatchesKeyword(t *testing.T) {
	srv := summaryServer(t, "done")
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrentAgents = 4
	cfg.AutoSpawnOnKeywords = true
	m := New(cfg, func(config.AgentProfile) *llmclient.Client { return llmclient.New(srv.URL, "", nil) }, noopExecutor{}, outputsink.Discard{}, nil)

	id, err := m.CheckAndAutoSpawn(context.Background(), "please research this topic")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected an auto-spawned agent id")
	}
}

func TestStats_CountsByRoleAndStatus(t *testing.T) {
	srv := summaryServer(t, "done")
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrentAgents = 4
	m := New(cfg, func(config.AgentProfile) *llmclient.Client { return llmclient.New(srv.URL, "", nil) }, noopExecutor{}, outputsink.Discard{}, nil)

	if _, err := m.Spawn(context.Background(), config.RoleResearcher, "task", "main"); err != nil {
		t.Fatal(err)
	}
	stats := m.Stats()
	if stats.Total != 1 || stats.ByRole[config.RoleResearcher] != 1 {
		t.Fatalf("got %+v", stats)
	}
}

func TestCheckAndAutoSpawn_DisabledReturnsEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.AutoSpawnOnKeywords = false
	m := New(cfg, func(config.AgentProfile) *llmclient.Client { return llmclient.New("http://unused", "", nil) }, noopExecutor{}, outputsink.Discard{}, nil)

	id, err := m.CheckAndAutoSpawn(context.Background(), "please research this topic")
	if err != nil || id != "" {
		t.Fatalf("got id=%q err=%v", id, err)
	}
}
