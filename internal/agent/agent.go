// Package agent owns one conversation's state: message history, the
// streaming completion loop, and dispatch of the tags a model emits
// (thinking/response text, summaries, plans, file operations) back into
// the runtime.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/security"

	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/llmclient"
	"github.com/davidkarpay/agentrt/internal/outputsink"
	"github.com/davidkarpay/agentrt/internal/respparser"
	"github.com/davidkarpay/agentrt/internal/toolexec"
)

// Status is the agent lifecycle state machine's current node (§4.6).
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusWorking      Status = "working"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusTerminated   Status = "terminated"
)

// MessageRole is a conversation turn's speaker.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one turn in an agent's history.
type ConversationMessage struct {
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// StructuredSummary is text extracted verbatim from a [SUMMARY] tag.
type StructuredSummary struct {
	SourceAgentID   string
	TaskDescription string
	Text            string
	CreatedAt       time.Time
}

// ToolExecutor is the subset of toolexec.Executor an agent needs to
// dispatch file operations. Isolated as an interface so tests can stub it.
type ToolExecutor interface {
	Dispatch(ctx context.Context, spec toolexec.Spec, args map[string]interface{}) toolexec.Result
}

// maxToolLoopIterations bounds the "tool loop": a completion that keeps
// requesting file ops re-issues a completion, but never forever.
const maxToolLoopIterations = 25

// Agent composes a streaming client, a tag parser, and a tool-executor
// handle around one isolated conversation history.
type Agent struct {
	ID         string
	ParentID   string
	Profile    config.AgentProfile
	IsMain     bool
	Persistent bool // idle after a clean stream close, rather than completed

	client           *llmclient.Client
	executor         ToolExecutor
	sink             outputsink.Sink
	log              *logging.Logger
	onPlan           func(agentID, planText string)
	securityVerifier *security.Verifier

	mu             sync.Mutex
	status         Status
	planMode       bool
	history        []ConversationMessage
	pendingSummary *StructuredSummary
	spawnTime      time.Time
	taintSeq       uint64
}

// SetSecurityVerifier attaches a verifier used to taint file-read output as
// untrusted before it re-enters the model's context. Nil disables tainting.
func (a *Agent) SetSecurityVerifier(v *security.Verifier) {
	a.securityVerifier = v
}

// New constructs an agent seeded with its role's system prompt.
func New(id string, profile config.AgentProfile, client *llmclient.Client, executor ToolExecutor, sink outputsink.Sink, isMain bool, planMode bool, onPlan func(agentID, planText string)) *Agent {
	a := &Agent{
		ID:         id,
		Profile:    profile,
		IsMain:     isMain,
		Persistent: isMain,
		client:     client,
		executor:   executor,
		sink:       sink,
		log:        logging.New().WithComponent("agent"),
		onPlan:     onPlan,
		status:     StatusInitializing,
		planMode:   planMode,
		spawnTime:  time.Now(),
	}
	if profile.SystemPromptText != "" {
		a.history = append(a.history, ConversationMessage{Role: RoleSystem, Content: profile.SystemPromptText, CreatedAt: a.spawnTime})
	}
	return a
}

// Status returns the agent's current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// TakePendingSummary returns and clears the most recently observed
// summary, used by the Agent Manager's atomic-swap hand-off (§4.6).
func (a *Agent) TakePendingSummary() *StructuredSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.pendingSummary
	a.pendingSummary = nil
	return s
}

// HasPendingSummary reports whether a summary is waiting for delivery,
// without consuming it.
func (a *Agent) HasPendingSummary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingSummary != nil
}

func (a *Agent) appendMessage(role MessageRole, content string) {
	a.mu.Lock()
	a.history = append(a.history, ConversationMessage{Role: role, Content: content, CreatedAt: time.Now()})
	a.mu.Unlock()
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// ResetHistory clears history except the system prompt.
func (a *Agent) ResetHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) > 0 && a.history[0].Role == RoleSystem {
		a.history = a.history[:1]
	} else {
		a.history = nil
	}
	a.pendingSummary = nil
}

// ReceiveMessage appends an attributed turn from another agent without
// triggering a completion — the caller decides when to run one.
func (a *Agent) ReceiveMessage(fromAgentID, text string) {
	a.appendMessage(RoleUser, fmt.Sprintf("[FROM %s] %s", fromAgentID, text))
}

func (a *Agent) snapshotHistory() []llmclient.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := make([]llmclient.Message, len(a.history))
	for i, m := range a.history {
		msgs[i] = llmclient.Message{Role: string(m.Role), Content: m.Content}
	}
	return msgs
}

// SendUserTurn appends a user turn and drives the completion/tool loop
// until the model stops requesting tool executions or the loop bound is
// reached. It returns once the underlying stream(s) have closed.
func (a *Agent) SendUserTurn(ctx context.Context, text string) error {
	a.appendMessage(RoleUser, text)
	return a.runCompletionLoop(ctx)
}

func (a *Agent) runCompletionLoop(ctx context.Context) error {
	a.setStatus(StatusWorking)

	for i := 0; i < maxToolLoopIterations; i++ {
		events, assistantText, err := a.completeOnce(ctx)
		if err != nil {
			a.setStatus(StatusError)
			return err
		}
		a.appendMessage(RoleAssistant, assistantText)

		requestedAnotherTurn := a.dispatchEvents(ctx, events)

		summary := lastSummary(events)
		if summary != nil {
			a.mu.Lock()
			a.pendingSummary = summary
			a.mu.Unlock()
		}

		if !requestedAnotherTurn {
			if a.Persistent {
				a.setStatus(StatusIdle)
			} else {
				a.setStatus(StatusCompleted)
			}
			return nil
		}
	}

	a.log.Warn("tool loop exhausted iteration bound", map[string]interface{}{"agent_id": a.ID})
	if a.Persistent {
		a.setStatus(StatusIdle)
	} else {
		a.setStatus(StatusCompleted)
	}
	return nil
}

// completeOnce issues one completion request and returns the parsed event
// sequence and the raw assistant text (for history).
func (a *Agent) completeOnce(ctx context.Context) ([]respparser.Event, string, error) {
	ctx, span := a.startCompletionSpan(ctx)

	req := llmclient.Request{
		Model:       a.Profile.ModelID,
		Messages:    a.snapshotHistory(),
		Temperature: a.Profile.Temperature,
		MaxTokens:   a.Profile.MaxTokens,
		Stream:      a.Profile.StreamEnabled,
	}

	parser := respparser.New()
	var full string

	if a.Profile.StreamEnabled {
		sink := func(delta string) {
			full += delta
			for _, evt := range parser.Feed(delta) {
				a.forwardText(evt)
			}
		}
		content, _, err := a.client.StreamComplete(ctx, req, sink)
		if err != nil {
			err = fmt.Errorf("agent %s: stream completion: %w", a.ID, err)
			a.endCompletionSpan(span, len(full), err)
			return nil, "", err
		}
		if content != "" && content != full {
			full = content
		}
	} else {
		content, _, err := a.client.Complete(ctx, req)
		if err != nil {
			err = fmt.Errorf("agent %s: completion: %w", a.ID, err)
			a.endCompletionSpan(span, 0, err)
			return nil, "", err
		}
		full = content
		for _, evt := range parser.Feed(content) {
			a.forwardText(evt)
		}
	}

	finalEvents := parser.Final()
	for _, evt := range finalEvents {
		a.forwardText(evt)
	}

	a.endCompletionSpan(span, len(full), nil)
	all := respparser.ParseAll(full)
	return all, full, nil
}

func (a *Agent) forwardText(evt respparser.Event) {
	if evt.Kind != respparser.EventText {
		return
	}
	role := outputsink.RoleResponse
	if evt.Role == respparser.RoleThinking {
		role = outputsink.RoleThinking
	}
	if a.sink != nil {
		a.sink.Emit(outputsink.Chunk{AgentID: a.ID, Role: role, Text: evt.Text})
	}
}

// dispatchEvents handles Plan and FileOp events per the file-op dispatch
// policy (§4.5) and returns whether a tool result was appended, meaning
// the caller should re-issue a completion to let the model react.
func (a *Agent) dispatchEvents(ctx context.Context, events []respparser.Event) bool {
	toolResultAppended := false
	for _, evt := range events {
		switch evt.Kind {
		case respparser.EventPlan:
			if a.onPlan != nil {
				a.onPlan(a.ID, evt.Text)
			}
		case respparser.EventFileOp:
			if a.IsMain && a.planMode {
				a.appendMessage(RoleUser, "[QUEUED SUGGESTION] file operation deferred to plan approval: "+evt.FileOp.Path)
				continue
			}
			result := a.executeFileOp(ctx, evt.FileOp)
			a.appendMessage(RoleUser, "[TOOL RESULT] "+summarizeResult(result))
			toolResultAppended = true
		}
	}
	return toolResultAppended
}

func (a *Agent) executeFileOp(ctx context.Context, op respparser.FileOperation) toolexec.Result {
	if a.executor == nil {
		return toolexec.Result{Success: false, Error: "no tool executor configured"}
	}
	switch op.Kind {
	case respparser.FileOpRead:
		result := a.executor.Dispatch(ctx, toolexec.ReadFileTool, map[string]interface{}{"path": op.Path})
		if result.Success {
			a.taintUntrustedContent(result.Stdout, "file_read:"+op.Path)
		}
		return result
	case respparser.FileOpWrite:
		return a.executor.Dispatch(ctx, toolexec.WriteFileTool, map[string]interface{}{"path": op.Path, "content": op.Content, "overwrite": true})
	case respparser.FileOpEdit:
		return a.executor.Dispatch(ctx, toolexec.EditFileTool, map[string]interface{}{"path": op.Path, "find": op.Find, "replace": op.Replace})
	default:
		return toolexec.Result{Success: false, Error: "unknown file operation kind"}
	}
}

// taintUntrustedContent registers file-read output with the security
// verifier as untrusted, mutable data, so downstream policy can trace which
// parts of an agent's context originated outside the model's own output.
func (a *Agent) taintUntrustedContent(content, source string) {
	if a.securityVerifier == nil || content == "" {
		return
	}
	a.mu.Lock()
	a.taintSeq++
	seq := a.taintSeq
	a.mu.Unlock()

	a.securityVerifier.AddBlockWithTaint(
		security.TrustUntrusted,
		security.TypeData,
		true,
		content,
		source,
		string(a.Profile.Role),
		seq,
		nil,
	)
}

func summarizeResult(r toolexec.Result) string {
	if r.Success {
		return "success"
	}
	return "error: " + r.Error
}

func lastSummary(events []respparser.Event) *StructuredSummary {
	var last *StructuredSummary
	for _, evt := range events {
		if evt.Kind == respparser.EventSummary {
			last = &StructuredSummary{Text: evt.Text, CreatedAt: time.Now()}
		}
	}
	return last
}
