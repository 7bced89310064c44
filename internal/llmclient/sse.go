package llmclient

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024 // 1 MB

// Event is one decoded step of the SSE stream: either a content delta, the
// terminal [DONE] marker, or a decode error.
type Event struct {
	Content string
	Usage   *Usage
	Done    bool
	Err     error
}

// sseChunk mirrors an OpenAI-compatible streaming delta payload.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Parse reads "data: " prefixed SSE lines from r and sends decoded events
// on the returned channel. The channel closes on EOF, on the "[DONE]"
// terminator, or when ctx is cancelled.
func Parse(ctx context.Context, r io.Reader) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				ch <- Event{Done: true}
				return
			}

			var chunk sseChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				ch <- Event{Err: err}
				return
			}

			content := ""
			if len(chunk.Choices) > 0 {
				content = chunk.Choices[0].Delta.Content
			}
			ch <- Event{Content: content, Usage: chunk.Usage}
		}

		if err := scanner.Err(); err != nil {
			ch <- Event{Err: err}
		}
	}()
	return ch
}
