package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/Tegami/internal/tegami/chat"
)

// ErrInvalidPayload wraps schema violations in an ingested payload.
var ErrInvalidPayload = errors.New("dispatch: invalid payload")

// JustNow is the time label for ingested messages that carry none.
const JustNow = "刚刚"

// A payload is either a batch {from, messages:[{text, timestamp}]} or a
// single message {from, message, timestamp}.
const ingestSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["from"],
  "properties": {
    "from": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "message": {"type": "string", "minLength": 1},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["text"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "timestamp": {"type": "string"}
        }
      }
    }
  },
  "oneOf": [
    {"required": ["messages"], "not": {"required": ["message"]}},
    {"required": ["message"], "not": {"required": ["messages"]}}
  ]
}`

var ingestSchema = jsonschema.MustCompileString("ingest.schema.json", ingestSchemaJSON)

// Payload is a backend-initiated message batch.
type Payload struct {
	From      string         `json:"from"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Messages  []IncomingText `json:"messages,omitempty"`
}

type IncomingText struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParsePayload validates and decodes raw JSON in either accepted shape.
func ParsePayload(raw []byte) (Payload, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := ingestSchema.Validate(doc); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// texts flattens both shapes into one list.
func (p Payload) texts() []IncomingText {
	if p.Message != "" {
		return []IncomingText{{Text: p.Message, Timestamp: p.Timestamp}}
	}
	return p.Messages
}

// Received reports where an ingested payload landed.
type Received struct {
	ThreadID string         `json:"threadId"`
	Messages []chat.Message `json:"messages"`
}

// Receive appends a backend-initiated payload to the thread named by its
// sender, creating contact and thread when needed. Message text and
// timestamp label are stored verbatim (a missing timestamp reads "刚刚");
// the narrative clock supplies the epoch that orders the thread list.
func (p *Pipeline) Receive(ctx context.Context, h *chat.Scoped, raw []byte) (Received, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return Received{}, err
	}
	from := strings.TrimSpace(payload.From)
	thread, err := h.EnsureThread(ctx, from)
	if err != nil {
		return Received{}, err
	}

	now := p.resolver.Resolve(h.Snapshot())
	out := Received{ThreadID: thread.ID}
	for _, in := range payload.texts() {
		stamp := in.Timestamp
		if stamp == "" {
			stamp = JustNow
		}
		msg, err := h.AppendMessage(ctx, thread.ID, chat.Message{
			Sender:      from,
			Content:     in.Text,
			Time:        stamp,
			Kind:        chat.KindText,
			Avatar:      thread.Avatar,
			EpochMillis: now.EpochMillis,
			Provenance:  string(now.Provenance),
		})
		if err != nil {
			if len(out.Messages) > 0 {
				p.notifier.Rerender(h.Scope(), thread.ID)
			}
			return out, err
		}
		out.Messages = append(out.Messages, msg)
	}
	p.logger.Info("dispatch: ingested messages", "scope", h.Scope().String(), "from", from, "count", len(out.Messages))
	p.notifier.Rerender(h.Scope(), thread.ID)
	return out, nil
}
