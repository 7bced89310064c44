package respparser

import (
	"reflect"
	"strings"
	"testing"
)

func collect(chunks []string) []Event {
	p := New()
	var events []Event
	for _, c := range chunks {
		events = append(events, p.Feed(c)...)
	}
	events = append(events, p.Final()...)
	return events
}

func TestThinkingAndResponse(t *testing.T) {
	text := "[THINKING]let me think[/THINKING][RESPONSE]here is the answer"
	events := collect([]string{text})

	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Kind != EventText || events[0].Role != RoleThinking || events[0].Text != "let me think" {
		t.Fatalf("bad thinking event: %+v", events[0])
	}
	if events[1].Kind != EventText || events[1].Role != RoleResponse || events[1].Text != "here is the answer" {
		t.Fatalf("bad response event: %+v", events[1])
	}
}

func TestSummaryEvent(t *testing.T) {
	events := collect([]string{"work done\n[SUMMARY]  did the thing  [/SUMMARY]"})
	var found bool
	for _, e := range events {
		if e.Kind == EventSummary {
			found = true
			if e.Text != "did the thing" {
				t.Fatalf("got %q", e.Text)
			}
		}
	}
	if !found {
		t.Fatalf("no summary event found in %+v", events)
	}
}

func TestFileReadOp(t *testing.T) {
	events := collect([]string{"[FILE_READ]path: ./a.txt\n[/FILE_READ]"})
	if len(events) != 1 || events[0].Kind != EventFileOp || events[0].FileOp.Kind != FileOpRead || events[0].FileOp.Path != "./a.txt" {
		t.Fatalf("got %+v", events)
	}
}

func TestFileWriteOp(t *testing.T) {
	text := "[FILE_WRITE]path: ./out.txt\ncontent: ```\nhello\n```\n[/FILE_WRITE]"
	events := collect([]string{text})
	if len(events) != 1 || events[0].FileOp.Kind != FileOpWrite {
		t.Fatalf("got %+v", events)
	}
	if events[0].FileOp.Path != "./out.txt" || events[0].FileOp.Content != "hello\n" {
		t.Fatalf("got %+v", events[0].FileOp)
	}
}

func TestFileEditOp(t *testing.T) {
	text := "[FILE_EDIT]path: ./e.txt\nfind: |\nold\nreplace: |\nnew\n[/FILE_EDIT]"
	events := collect([]string{text})
	if len(events) != 1 || events[0].FileOp.Kind != FileOpEdit {
		t.Fatalf("got %+v", events)
	}
	if events[0].FileOp.Find != "old" || events[0].FileOp.Replace != "new" {
		t.Fatalf("got %+v", events[0].FileOp)
	}
}

// TestIncrementalMatchesFinal verifies property: a parser fed one byte at a
// time yields the same event sequence as one fed the whole buffer at once.
func TestIncrementalMatchesFinal(t *testing.T) {
	text := "intro [THINKING]hmm[/THINKING] middle [SUMMARY]done[/SUMMARY] tail"

	whole := collect([]string{text})

	var byByte []string
	for _, r := range text {
		byByte = append(byByte, string(r))
	}
	incremental := collect(byByte)

	if !reflect.DeepEqual(whole, incremental) {
		t.Fatalf("incremental parse diverged:\nwhole=%+v\nincremental=%+v", whole, incremental)
	}
}

func TestPartialTagAcrossChunksHeldUntilClosed(t *testing.T) {
	p := New()
	events := p.Feed("[SUM")
	if len(events) != 0 {
		t.Fatalf("expected no events for partial tag opener, got %+v", events)
	}
	events = p.Feed("MARY]content[/SUMMARY]")
	if len(events) != 1 || events[0].Kind != EventSummary || events[0].Text != "content" {
		t.Fatalf("got %+v", events)
	}
}

func TestPlanEvent(t *testing.T) {
	text := "[PLAN]\n## Workflow: test\n[/PLAN]"
	events := collect([]string{text})
	if len(events) != 1 || events[0].Kind != EventPlan || !strings.Contains(events[0].Text, "Workflow: test") {
		t.Fatalf("got %+v", events)
	}
}
