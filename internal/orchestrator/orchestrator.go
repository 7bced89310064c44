// Package orchestrator wires config, the agent manager, the plan parser,
// and the workflow engine together behind the CLI collaborator contract
// (§6): handle_user_line, spawn, terminate, list_agents, submit_plan,
// approve, reject, cancel_workflow, stats.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/davidkarpay/agentrt/internal/agentmanager"
	"github.com/davidkarpay/agentrt/internal/checkpoint"
	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/planparser"
	"github.com/davidkarpay/agentrt/internal/plan"
	"github.com/davidkarpay/agentrt/internal/toolexec"
	"github.com/davidkarpay/agentrt/internal/workflow"
)

// Exit codes per §6.
const (
	ExitNormal        = 0
	ExitConfiguration = 2
	ExitFatal         = 3
)

// Orchestrator is the core's single entry point for an external CLI loop.
type Orchestrator struct {
	cfg     *config.Config
	agents  *agentmanager.Manager
	engine  *workflow.Engine
	log     *logging.Logger

	mu    sync.Mutex
	plans map[string]*plan.Plan
}

// New wires an Orchestrator from its already-constructed collaborators.
func New(cfg *config.Config, agents *agentmanager.Manager, executor *toolexec.Executor, checkpoints *checkpoint.Store) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		agents: agents,
		engine: workflow.New(executor, checkpoints),
		log:    logging.New().WithComponent("orchestrator"),
		plans:  make(map[string]*plan.Plan),
	}
}

// HandleUserLine routes a raw CLI line: `@agent_id text` for direct
// routing, otherwise a normal turn on the main agent (which may itself
// trigger keyword-based auto-spawn first).
func (o *Orchestrator) HandleUserLine(ctx context.Context, line string) error {
	o.agents.DrainDeliveries()

	if strings.HasPrefix(line, "@") {
		rest := line[1:]
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			return fmt.Errorf("orchestrator: malformed @agent_id line")
		}
		return o.agents.RouteDirect(ctx, rest[:sp], rest[sp+1:])
	}

	if _, err := o.agents.CheckAndAutoSpawn(ctx, line); err != nil {
		o.log.Warn("auto-spawn check failed", map[string]interface{}{"error": err.Error()})
	}

	mainAgent, ok := o.agents.Get("main")
	if !ok {
		return fmt.Errorf("orchestrator: main agent not spawned")
	}
	return mainAgent.SendUserTurn(ctx, line)
}

// Spawn starts a new sub-agent under the main agent.
func (o *Orchestrator) Spawn(ctx context.Context, role config.Role, task string) (string, error) {
	return o.agents.Spawn(ctx, role, task, "main")
}

// Terminate cancels a running agent.
func (o *Orchestrator) Terminate(id string) error {
	return o.agents.Terminate(id)
}

// ListAgents returns every registered agent's summary info.
func (o *Orchestrator) ListAgents() []agentmanager.AgentInfo {
	return o.agents.List()
}

// SubmitPlan records a freshly parsed plan as a pending draft awaiting
// approval. It does not validate agent ids against the live registry
// until Approve is called, since sub-agents named in the plan may not
// exist yet.
func (o *Orchestrator) SubmitPlan(p *plan.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans[p.ID] = p
}

// OnAgentPlan is the agentmanager onPlan callback: it parses a [PLAN]
// block out of an agent's stream and submits it as a draft.
func (o *Orchestrator) OnAgentPlan(agentID, planText string) {
	p, ok := planparser.Parse(planText)
	if !ok {
		o.log.Warn("received malformed plan block", map[string]interface{}{"agent_id": agentID})
		return
	}
	o.SubmitPlan(p)
}

func (o *Orchestrator) knownAgentIDs() map[string]bool {
	known := map[string]bool{"main": true}
	for _, info := range o.agents.List() {
		known[info.ID] = true
	}
	return known
}

// Approve validates and marks a draft plan approved, ready for Execute.
func (o *Orchestrator) Approve(planID string) error {
	o.mu.Lock()
	p, ok := o.plans[planID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown plan %q", planID)
	}
	if errs := p.Validate(o.knownAgentIDs()); len(errs) > 0 {
		return fmt.Errorf("orchestrator: plan failed validation: %v", errs[0])
	}
	p.Approved = true
	p.Status = plan.StatusApproved
	return nil
}

// Reject discards a draft plan.
func (o *Orchestrator) Reject(planID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.plans[planID]; !ok {
		return fmt.Errorf("orchestrator: unknown plan %q", planID)
	}
	delete(o.plans, planID)
	return nil
}

// Execute runs an approved plan to completion.
func (o *Orchestrator) Execute(ctx context.Context, planID string, progress workflow.ProgressFunc) (bool, string) {
	o.mu.Lock()
	p, ok := o.plans[planID]
	o.mu.Unlock()
	if !ok {
		return false, fmt.Sprintf("unknown plan %q", planID)
	}
	return o.engine.Execute(ctx, p, o.knownAgentIDs(), progress)
}

// CancelWorkflow requests cancellation of a running plan at its next step
// boundary.
func (o *Orchestrator) CancelWorkflow(planID string) {
	o.engine.Cancel(planID)
}

// EnableMemory wires semantic-memory observation extraction into the
// workflow engine: every completed step's output is summarised and
// stored for later recall. Off unless the caller explicitly enables it.
func (o *Orchestrator) EnableMemory(extractor workflow.ObservationExtractor, store workflow.ObservationStore) {
	o.engine.WithObservations(extractor, store)
}

// Stats aggregates agent-manager statistics for CLI display.
func (o *Orchestrator) Stats() agentmanager.Stats {
	return o.agents.Stats()
}
