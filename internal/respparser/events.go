// Package respparser extracts the tag protocol ([THINKING], [RESPONSE],
// [SUMMARY], [PLAN], [FILE_READ|WRITE|EDIT]) from a growing buffer of model
// output, emitting a deterministic, order-preserving event sequence.
package respparser

// TextRole distinguishes thinking commentary from user-facing response text.
type TextRole string

const (
	RoleThinking TextRole = "thinking"
	RoleResponse TextRole = "response"
)

// FileOpKind is the tagged-union discriminator for FileOperation.
type FileOpKind string

const (
	FileOpRead  FileOpKind = "read"
	FileOpWrite FileOpKind = "write"
	FileOpEdit  FileOpKind = "edit"
)

// FileOperation is produced from an embedded [FILE_READ|WRITE|EDIT] tag.
type FileOperation struct {
	Kind    FileOpKind
	Path    string
	Content string // for write
	Find    string // for edit
	Replace string // for edit
}

// EventKind discriminates the parser's event stream.
type EventKind string

const (
	EventText    EventKind = "text"
	EventSummary EventKind = "summary"
	EventPlan    EventKind = "plan"
	EventFileOp  EventKind = "file_op"
)

// Event is one item of the parser's lazy, order-preserving output.
type Event struct {
	Kind    EventKind
	Role    TextRole // set when Kind == EventText
	Text    string   // chunk text, summary text, or plan text depending on Kind
	FileOp  FileOperation
}
