package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reply is what the tutor service returned for a question: either plain text
// or a structured JSON payload, never both.
type Reply struct {
	Text    string
	Payload json.RawMessage
}

// TextReply wraps a plain-text answer.
func TextReply(text string) Reply {
	return Reply{Text: text}
}

// PayloadReply wraps an already-encoded JSON value.
func PayloadReply(raw json.RawMessage) Reply {
	return Reply{Payload: raw}
}

// NewPayloadReply encodes v as a structured reply. HTML characters are left
// unescaped so the value reads the same as the service sent it.
func NewPayloadReply(v any) (Reply, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return Reply{}, fmt.Errorf("domain: encode payload: %w", err)
	}
	return Reply{Payload: bytes.TrimSpace(buf.Bytes())}, nil
}

// Structured reports whether the reply carries a JSON payload instead of text.
func (r Reply) Structured() bool {
	return r.Payload != nil
}
