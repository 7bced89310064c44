package respparser

import (
	"regexp"
	"strings"
)

// tagNames are the recognised opening tags, matched literally and
// case-sensitively as the spec requires.
var tagNames = []string{"THINKING", "RESPONSE", "SUMMARY", "PLAN", "FILE_READ", "FILE_WRITE", "FILE_EDIT"}

var (
	pathRe    = regexp.MustCompile(`path:\s*(.+?)(?:\n|$)`)
	contentRe = regexp.MustCompile(`(?s)content:\s*` + "```" + `(?:\w+)?\n(.*?)` + "```")
	findRe    = regexp.MustCompile(`(?s)find:\s*\|\n(.*?)\nreplace:`)
	replaceRe = regexp.MustCompile(`(?s)replace:\s*\|\n(.*?)(?:\n\[|$)`)
)

// Parser is a small state machine over a growing text buffer. It holds
// partially-buffered tags until they close and emits a deterministic,
// order-preserving event sequence — the same sequence whether fed
// incrementally or given the final buffer in one Feed call.
type Parser struct {
	buf    strings.Builder
	cursor int
}

// New returns a Parser ready to consume streamed model output.
func New() *Parser {
	return &Parser{}
}

// Feed appends chunk to the internal buffer and returns any events that
// are now fully resolvable. Unclosed tags remain buffered for the next
// call (or for Final).
func (p *Parser) Feed(chunk string) []Event {
	p.buf.WriteString(chunk)
	return p.drain()
}

// Final signals the stream has closed; any tag still open at this point is
// treated per its own rule (RESPONSE has no closer and is always emitted;
// unterminated THINKING/SUMMARY/PLAN/FILE_* tags are dropped as malformed,
// per "malformedness is not an exception").
func (p *Parser) Final() []Event {
	events := p.drain()
	remaining := p.buf.String()[p.cursor:]
	if remaining != "" {
		// drain stops either on plain text or on an opener whose closer
		// never arrived; only the former is emitted.
		if idx, _ := earliestTagOpen(remaining); idx != 0 {
			events = append(events, Event{Kind: EventText, Role: RoleResponse, Text: remaining})
		}
		p.cursor = p.buf.Len()
	}
	return events
}

func (p *Parser) drain() []Event {
	var events []Event
	for {
		full := p.buf.String()
		remaining := full[p.cursor:]

		idx, tag := earliestTagOpen(remaining)
		if idx == -1 {
			// Untagged text is held until the next tag opener or Final, so it
			// becomes one event however the stream was chunked.
			return events
		}

		if idx > 0 {
			events = append(events, Event{Kind: EventText, Role: RoleResponse, Text: remaining[:idx]})
			p.cursor += idx
			remaining = full[p.cursor:]
		}

		opener := "[" + tag + "]"
		switch tag {
		case "RESPONSE":
			p.cursor += len(opener)
			continue
		case "THINKING", "SUMMARY", "PLAN":
			closer := "[/" + tag + "]"
			body := remaining[len(opener):]
			closeIdx := strings.Index(body, closer)
			if closeIdx == -1 {
				return events
			}
			content := body[:closeIdx]
			switch tag {
			case "THINKING":
				events = append(events, Event{Kind: EventText, Role: RoleThinking, Text: content})
			case "SUMMARY":
				events = append(events, Event{Kind: EventSummary, Text: strings.TrimSpace(content)})
			case "PLAN":
				events = append(events, Event{Kind: EventPlan, Text: content})
			}
			p.cursor += len(opener) + closeIdx + len(closer)
			continue
		case "FILE_READ", "FILE_WRITE", "FILE_EDIT":
			closer := "[/" + tag + "]"
			body := remaining[len(opener):]
			closeIdx := strings.Index(body, closer)
			if closeIdx == -1 {
				return events
			}
			inner := body[:closeIdx]
			op, ok := parseFileOp(tag, inner)
			if ok {
				events = append(events, Event{Kind: EventFileOp, FileOp: op})
			}
			p.cursor += len(opener) + closeIdx + len(closer)
			continue
		}
	}
}

// earliestTagOpen finds the earliest fully-present opening tag in s and
// returns its byte offset and name, or (-1, "") if none is present yet.
func earliestTagOpen(s string) (int, string) {
	best := -1
	bestTag := ""
	for _, tag := range tagNames {
		opener := "[" + tag + "]"
		if i := strings.Index(s, opener); i != -1 && (best == -1 || i < best) {
			best = i
			bestTag = tag
		}
	}
	return best, bestTag
}

// safeTextLength returns how much of s can be safely emitted as plain text
// without risking splitting a tag opener that hasn't fully arrived yet. If
// s ends with an unmatched "[", everything from that point on is held back.
func safeTextLength(s string) int {
	lastOpen := strings.LastIndex(s, "[")
	if lastOpen == -1 {
		return len(s)
	}
	if strings.Contains(s[lastOpen:], "]") {
		return len(s)
	}
	return lastOpen
}

func parseFileOp(tag, inner string) (FileOperation, bool) {
	pathMatch := pathRe.FindStringSubmatch(inner)
	if pathMatch == nil {
		return FileOperation{}, false
	}
	path := strings.TrimSpace(pathMatch[1])

	switch tag {
	case "FILE_READ":
		return FileOperation{Kind: FileOpRead, Path: path}, true
	case "FILE_WRITE":
		contentMatch := contentRe.FindStringSubmatch(inner)
		if contentMatch == nil {
			return FileOperation{}, false
		}
		return FileOperation{Kind: FileOpWrite, Path: path, Content: contentMatch[1]}, true
	case "FILE_EDIT":
		findMatch := findRe.FindStringSubmatch(inner)
		replaceMatch := replaceRe.FindStringSubmatch(inner)
		if findMatch == nil || replaceMatch == nil {
			return FileOperation{}, false
		}
		replace := strings.TrimSuffix(replaceMatch[1], "\n") // the line break before the closer, like find's
		return FileOperation{Kind: FileOpEdit, Path: path, Find: findMatch[1], Replace: replace}, true
	}
	return FileOperation{}, false
}

// ParseAll runs the parser over a complete, non-streamed buffer and returns
// its full event sequence — used to verify incremental/final equivalence.
func ParseAll(text string) []Event {
	p := New()
	events := p.Feed(text)
	events = append(events, p.Final()...)
	return events
}
