// Package plan implements the Plan/PlanStep data model: dependency DAG
// validation, topological execution order, and progress/cost/time rollups.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidkarpay/agentrt/internal/toolexec"
)

// StepStatus is one node's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Status is the plan-level lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Step is one node in a plan.
type Step struct {
	ID               string                 `json:"id"`
	OrderHint        int                    `json:"order_hint"`
	Description      string                 `json:"description"`
	AgentID          string                 `json:"agent_id"`
	Tool             toolexec.Spec          `json:"tool"`
	Arguments        map[string]interface{} `json:"arguments"`
	Dependencies     []string               `json:"dependencies"`
	EstimatedSeconds int                    `json:"estimated_seconds"`
	EstimatedTokens  int                    `json:"estimated_tokens,omitempty"`
	Status           StepStatus             `json:"status"`
	Attempts         int                    `json:"attempts"`
	Result           *toolexec.Result       `json:"result,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
}

// Plan is a validated, acyclic sequence of steps.
type Plan struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []*Step   `json:"steps"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"created_at"`
	Status      Status    `json:"status"`
}

// New creates a fresh draft plan with a generated ID.
func New(name, description string) *Plan {
	return &Plan{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
		Status:      StatusDraft,
	}
}

func (p *Plan) stepByID(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Validate returns a non-empty error list if the plan is malformed:
// missing dependency ids, a cycle, an unknown agent, or an unknown tool.
func (p *Plan) Validate(knownAgents map[string]bool) []error {
	var errs []error

	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		ids[s.ID] = true
	}

	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				errs = append(errs, fmt.Errorf("step %s references missing dependency %s", s.ID, dep))
			}
		}
		if knownAgents != nil && !knownAgents[s.AgentID] {
			errs = append(errs, fmt.Errorf("step %s references unknown agent %s", s.ID, s.AgentID))
		}
		if !toolexec.ValidSpec(s.Tool) {
			errs = append(errs, fmt.Errorf("step %s references unknown tool %s", s.ID, s.Tool))
		}
	}

	if cyc := p.detectCycle(); cyc != "" {
		errs = append(errs, fmt.Errorf("dependency cycle detected: %s", cyc))
	}

	return errs
}

// detectCycle runs DFS with back-edge detection and returns a description
// of the first cycle found, or "" if the graph is acyclic.
func (p *Plan) detectCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Steps))
	var path []string

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		path = append(path, id)
		step := p.stepByID(id)
		if step != nil {
			for _, dep := range step.Dependencies {
				switch color[dep] {
				case white:
					if cyc := visit(dep); cyc != "" {
						return cyc
					}
				case gray:
					return fmt.Sprintf("%s -> %s", id, dep)
				}
			}
		}
		color[id] = black
		path = path[:len(path)-1]
		return ""
	}

	for _, s := range p.Steps {
		if color[s.ID] == white {
			if cyc := visit(s.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// ExecutionOrder computes a linear order via Kahn's algorithm, tie-broken
// by ascending OrderHint among steps whose dependencies are all satisfied.
func (p *Plan) ExecutionOrder() ([]*Step, error) {
	indegree := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		indegree[s.ID] = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	ready := make([]*Step, 0)
	for _, s := range p.Steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].OrderHint < ready[j].OrderHint })

	var order []*Step
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []*Step
		for _, depID := range dependents[next.ID] {
			indegree[depID]--
			if indegree[depID] == 0 {
				newlyReady = append(newlyReady, p.stepByID(depID))
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return newlyReady[i].OrderHint < newlyReady[j].OrderHint })

		merged := append(ready, newlyReady...)
		sort.Slice(merged, func(i, j int) bool { return merged[i].OrderHint < merged[j].OrderHint })
		ready = merged
	}

	if len(order) != len(p.Steps) {
		return nil, fmt.Errorf("dependency cycle prevents a full execution order")
	}
	return order, nil
}

// Progress returns completed_steps / total_steps, in [0,1].
func (p *Plan) Progress() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range p.Steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(p.Steps))
}

// TotalEstimatedSeconds sums each step's time estimate.
func (p *Plan) TotalEstimatedSeconds() int {
	total := 0
	for _, s := range p.Steps {
		total += s.EstimatedSeconds
	}
	return total
}

// EstimatedCost sums estimated_tokens * cost_per_1k / 1000 per step. The
// cost per 1k tokens is always looked up by the step's AgentID; the token
// count falls back to that agent's default when the step has no explicit
// token estimate of its own.
func (p *Plan) EstimatedCost(costPer1kByAgent map[string]float64, defaultTokensByAgent map[string]int) float64 {
	var total float64
	for _, s := range p.Steps {
		tokens := s.EstimatedTokens
		if tokens == 0 {
			tokens = defaultTokensByAgent[s.AgentID]
		}
		cost := costPer1kByAgent[s.AgentID]
		total += float64(tokens) * cost / 1000
	}
	return total
}

func statusIcon(s StepStatus) string {
	switch s {
	case StepCompleted:
		return "[x]"
	case StepFailed:
		return "[!]"
	case StepRunning:
		return "[~]"
	case StepSkipped:
		return "[-]"
	default:
		return "[ ]"
	}
}

// Render produces a human-readable status report: one line per step with
// its completion icon, dependency listing, and the plan's time/cost
// rollups. Intended for CLI display, not machine parsing.
func (p *Plan) Render(costPer1kByAgent map[string]float64, defaultTokensByAgent map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s (%s)\n", p.Name, p.Status)
	if p.Description != "" {
		fmt.Fprintf(&b, "  %s\n", p.Description)
	}
	for _, s := range p.Steps {
		deps := "none"
		if len(s.Dependencies) > 0 {
			deps = strings.Join(s.Dependencies, ", ")
		}
		fmt.Fprintf(&b, "  %s step %s: %s (tool=%s, agent=%s, deps=%s, attempts=%d)\n",
			statusIcon(s.Status), s.ID, s.Description, s.Tool, s.AgentID, deps, s.Attempts)
	}
	fmt.Fprintf(&b, "Progress: %.0f%%  Estimated: %ds  Cost: $%.4f\n",
		p.Progress()*100, p.TotalEstimatedSeconds(), p.EstimatedCost(costPer1kByAgent, defaultTokensByAgent))
	return b.String()
}

// Portable is the stable serialised form of a Plan (§6).
type Portable struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Approved    bool             `json:"approved"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	Steps       []PortableStep   `json:"steps"`
}

// PortableStep is one step's serialised form.
type PortableStep struct {
	ID               string                 `json:"id"`
	Description      string                 `json:"description"`
	AgentID          string                 `json:"agent_id"`
	Tool             toolexec.Spec          `json:"tool"`
	Arguments        map[string]interface{} `json:"arguments"`
	Dependencies     []string               `json:"dependencies"`
	EstimatedSeconds int                    `json:"estimated_seconds"`
	Status           StepStatus             `json:"status"`
	Attempts         int                    `json:"attempts"`
}

// ToPortable produces a stable, round-trippable serialisation of p.
func (p *Plan) ToPortable() Portable {
	steps := make([]PortableStep, len(p.Steps))
	for i, s := range p.Steps {
		deps := append([]string(nil), s.Dependencies...)
		steps[i] = PortableStep{
			ID:               s.ID,
			Description:      s.Description,
			AgentID:          s.AgentID,
			Tool:             s.Tool,
			Arguments:        s.Arguments,
			Dependencies:     deps,
			EstimatedSeconds: s.EstimatedSeconds,
			Status:           s.Status,
			Attempts:         s.Attempts,
		}
	}
	return Portable{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Approved:    p.Approved,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		Steps:       steps,
	}
}

// FromPortable reconstructs a Plan from its serialised form.
func FromPortable(pt Portable) *Plan {
	steps := make([]*Step, len(pt.Steps))
	for i, s := range pt.Steps {
		steps[i] = &Step{
			ID:               s.ID,
			Description:      s.Description,
			AgentID:          s.AgentID,
			Tool:             s.Tool,
			Arguments:        s.Arguments,
			Dependencies:     append([]string(nil), s.Dependencies...),
			EstimatedSeconds: s.EstimatedSeconds,
			Status:           s.Status,
			Attempts:         s.Attempts,
		}
	}
	return &Plan{
		ID:          pt.ID,
		Name:        pt.Name,
		Description: pt.Description,
		Approved:    pt.Approved,
		Status:      pt.Status,
		CreatedAt:   pt.CreatedAt,
		Steps:       steps,
	}
}
