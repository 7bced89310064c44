// Package agentmanager is the process-wide registry of concurrent agents:
// spawn/terminate, status tracking, summary hand-off, and keyword-driven
// auto-spawn.
package agentmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/security"

	"github.com/davidkarpay/agentrt/internal/agent"
	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/llmclient"
	"github.com/davidkarpay/agentrt/internal/outputsink"
	"github.com/davidkarpay/agentrt/internal/skills"
)

// CapacityError is returned by Spawn when the active-agent count is at
// the configured maximum.
type CapacityError struct{}

func (CapacityError) Error() string { return "capacity" }

// Entry is one registry row: the agent plus its bookkeeping metadata.
type Entry struct {
	Agent     *agent.Agent
	Role      config.Role
	ParentID  string
	StartedAt time.Time
	cancel    context.CancelFunc
}

// Manager owns the agent registry and the concurrency cap.
type Manager struct {
	cfg          *config.Config
	client       func(profile config.AgentProfile) *llmclient.Client
	executor     agent.ToolExecutor
	sink         outputsink.Sink
	onPlan       func(agentID, planText string)
	deliverQueue chan summaryDelivery
	verifier     *security.Verifier

	log *logging.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

type summaryDelivery struct {
	fromID string
	toID   string
}

// New constructs a Manager. clientFactory builds a fresh llmclient.Client
// per profile (base URL / API key vary per role), executor is shared
// across every agent's sandboxed tool dispatch, and onPlan is invoked
// whenever any agent's stream yields a [PLAN] block.
func New(cfg *config.Config, clientFactory func(profile config.AgentProfile) *llmclient.Client, executor agent.ToolExecutor, sink outputsink.Sink, onPlan func(agentID, planText string)) *Manager {
	m := &Manager{
		cfg:          cfg,
		client:       clientFactory,
		executor:     executor,
		sink:         sink,
		onPlan:       onPlan,
		deliverQueue: make(chan summaryDelivery, 64),
		log:          logging.New().WithComponent("agentmanager"),
		entries:      make(map[string]*Entry),
	}
	return m
}

// SetSecurityVerifier attaches the shared verifier every subsequently
// spawned agent uses to taint untrusted file-read content. Nil disables it.
func (m *Manager) SetSecurityVerifier(v *security.Verifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifier = v
}

// withSkillInstructions appends each skill directory's SKILL.md
// instructions to the profile's base system prompt, so a role picks up
// static, file-based capability guidance without any fine-tuning.
func (m *Manager) withSkillInstructions(profile config.AgentProfile) string {
	prompt := profile.SystemPromptText
	for _, dir := range profile.SkillPaths {
		s, err := skills.Load(dir)
		if err != nil {
			m.log.Warn("failed to load skill", map[string]interface{}{"path": dir, "error": err.Error()})
			continue
		}
		prompt = strings.TrimSpace(prompt + "\n\n## Skill: " + s.Name + "\n" + s.Instructions)
	}
	return prompt
}

func (m *Manager) activeCount() int {
	n := 0
	for _, e := range m.entries {
		switch e.Agent.Status() {
		case agent.StatusTerminated, agent.StatusCompleted, agent.StatusError:
		default:
			n++
		}
	}
	return n
}

// Spawn creates and starts a new agent for role, running its first
// completion concurrently, and returns its id.
func (m *Manager) Spawn(ctx context.Context, role config.Role, task string, parentID string) (string, error) {
	m.mu.Lock()
	if m.activeCount() >= m.cfg.MaxConcurrentAgents {
		m.mu.Unlock()
		return "", CapacityError{}
	}
	profile, ok := m.cfg.GetProfile(role)
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("agentmanager: no profile for role %q", role)
	}
	id := string(role) + "-" + uuid.NewString()[:8]
	if role == config.RoleMain {
		id = string(config.RoleMain) // the primary agent's reserved id
	}
	client := m.client(profile)
	planMode := role == config.RoleMain && m.cfg.PlanMode
	profile.SystemPromptText = m.withSkillInstructions(profile)

	a := agent.New(id, profile, client, m.executor, m.sink, role == config.RoleMain, planMode, m.onPlan)
	a.SetSecurityVerifier(m.verifier)
	agentCtx, cancel := context.WithCancel(ctx)
	m.entries[id] = &Entry{Agent: a, Role: role, ParentID: parentID, StartedAt: time.Now(), cancel: cancel}
	m.mu.Unlock()

	go func() {
		if err := a.SendUserTurn(agentCtx, task); err != nil {
			m.log.Error("agent completion failed", map[string]interface{}{"agent_id": id, "error": err.Error()})
		}
		if a.HasPendingSummary() {
			select {
			case m.deliverQueue <- summaryDelivery{fromID: id, toID: parentID}:
			default:
				m.log.Warn("summary delivery queue full, dropping notification", map[string]interface{}{"agent_id": id})
			}
		}
	}()

	return id, nil
}

// Terminate cancels the context of the agent's spawn-time completion, which
// aborts that stream if it is still in flight. It does not set the agent's
// status to StatusTerminated: a cancelled in-flight completion ends in
// StatusError, and an agent that is already idle or completed keeps its
// status.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("agentmanager: unknown agent %q", id)
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// AgentInfo is the public listing shape for List().
type AgentInfo struct {
	ID        string
	Role      config.Role
	Status    agent.Status
	StartedAt time.Time
}

// List returns every registered agent's summary info.
func (m *Manager) List() []AgentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentInfo, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, AgentInfo{ID: id, Role: e.Role, Status: e.Agent.Status(), StartedAt: e.StartedAt})
	}
	return out
}

// Get returns the agent registered under id.
func (m *Manager) Get(id string) (*agent.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.Agent, true
}

// DeliverSummary reads fromID's pending summary via an atomic swap and
// synthesises a receive_message call on toID (or its recorded parent, if
// toID is empty).
func (m *Manager) DeliverSummary(fromID, toID string) error {
	m.mu.Lock()
	from, ok := m.entries[fromID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("agentmanager: unknown agent %q", fromID)
	}
	if toID == "" {
		toID = from.ParentID
	}
	to, ok := m.entries[toID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("agentmanager: unknown parent agent %q", toID)
	}

	summary := from.Agent.TakePendingSummary()
	if summary == nil {
		return nil
	}
	to.Agent.ReceiveMessage(fromID, fmt.Sprintf("[SUMMARY from %s] %s", from.Role, summary.Text))
	return nil
}

// DrainDeliveries processes any queued summary-delivery notifications
// produced by completed spawns. Callers run this from the orchestrator's
// main loop between user turns.
func (m *Manager) DrainDeliveries() {
	for {
		select {
		case d := <-m.deliverQueue:
			if err := m.DeliverSummary(d.fromID, d.toID); err != nil {
				m.log.Warn("summary delivery failed", map[string]interface{}{"from": d.fromID, "error": err.Error()})
			}
		default:
			return
		}
	}
}

// Stats mirrors the Python original's get_statistics: total and active
// agent counts plus a per-role breakdown, for the orchestrator's stats()
// collaborator call.
type Stats struct {
	Total      int
	Active     int
	ByRole     map[config.Role]int
	ByStatus   map[agent.Status]int
}

// Stats summarises the current registry.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{ByRole: make(map[config.Role]int), ByStatus: make(map[agent.Status]int)}
	for _, e := range m.entries {
		s.Total++
		s.ByRole[e.Role]++
		status := e.Agent.Status()
		s.ByStatus[status]++
		switch status {
		case agent.StatusTerminated, agent.StatusCompleted, agent.StatusError:
		default:
			s.Active++
		}
	}
	return s
}

// RouteDirect sends text straight to an already-spawned agent, per the
// `@agent_id` CLI syntax.
func (m *Manager) RouteDirect(ctx context.Context, toID, text string) error {
	a, ok := m.Get(toID)
	if !ok {
		return fmt.Errorf("agentmanager: unknown agent %q", toID)
	}
	return a.SendUserTurn(ctx, text)
}

// CheckAndAutoSpawn spawns a role whose spawn keyword occurs in userText
// (a case-insensitive substring match, not a per-token comparison) and
// returns the new agent's id. At most one agent is spawned per call; when
// several roles match, which one is spawned follows map iteration order.
func (m *Manager) CheckAndAutoSpawn(ctx context.Context, userText string) (string, error) {
	if !m.cfg.AutoSpawnOnKeywords {
		return "", nil
	}
	lower := strings.ToLower(userText)
	for name, profile := range m.cfg.Profiles {
		for _, kw := range profile.SpawnKeywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return m.Spawn(ctx, config.Role(name), userText, "main")
			}
		}
	}
	return "", nil
}
