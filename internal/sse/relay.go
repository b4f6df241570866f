// Package sse re-frames an upstream chat-completion event stream into the
// minimal delta frames served to the web client.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"iter"
	"strings"

	"github.com/Davincible/omnitalk-relay/internal/openrouter"
)

const (
	dataPrefix  = "data:"
	doneMessage = "[DONE]"

	maxLineSize = 1 << 20
)

type frameDelta struct {
	Content string `json:"content"`
}

type frameChoice struct {
	Delta        frameDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

type frame struct {
	Choices []frameChoice `json:"choices"`
}

type failure struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

// DeltaFrame encodes one outbound event carrying a text increment and an
// optional finish reason.
func DeltaFrame(text, finishReason string) []byte {
	return encode(frame{Choices: []frameChoice{{
		Delta:        frameDelta{Content: text},
		FinishReason: finishReason,
	}}})
}

// DoneFrame is the terminal event of every relayed stream.
func DoneFrame() []byte {
	return []byte("data: " + doneMessage + "\n\n")
}

// FailureFrames is the uniform sequence emitted when a stream cannot start:
// a stop frame, an error descriptor, then the terminal frame.
func FailureFrames(msg string) [][]byte {
	return [][]byte{
		DeltaFrame("", "stop"),
		encode(failure{Success: false, Msg: msg}),
		DoneFrame(),
	}
}

func encode(v any) []byte {
	var buf bytes.Buffer
	buf.WriteString("data: ")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return DoneFrame()
	}

	// Encode terminates with a newline; one more closes the event.
	buf.WriteByte('\n')

	return buf.Bytes()
}

// Relay reads an upstream SSE body and yields outbound frames. Lines that
// are not data lines, empty payloads, the upstream [DONE] marker and frames
// that fail to decode are dropped. Exactly one DoneFrame is yielded last,
// whether the source ends normally or with a read error. The sequence is
// single-use.
//
// The returned func reports the read error that cut the source short, if
// any, once the sequence has been consumed.
func Relay(r io.Reader) (iter.Seq[[]byte], func() error) {
	var readErr error

	seq := func(yield func([]byte) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, dataPrefix) {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
			if data == "" || data == doneMessage {
				continue
			}

			var chunk openrouter.ChatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if text := chunk.Text(); text != "" {
				if !yield(DeltaFrame(text, "")) {
					return
				}
			}

			if reason := chunk.FinishReason(); reason != "" {
				if !yield(DeltaFrame("", reason)) {
					return
				}
			}
		}

		readErr = scanner.Err()

		yield(DoneFrame())
	}

	return seq, func() error { return readErr }
}
