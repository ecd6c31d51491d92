package testutil

import (
	"time"

	"github.com/hupe1980/agentcrew/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().From("a1").To("coordinator").Result(core.OK(nil)).Task("t1", "echo").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	id       string
	sender   string
	receiver string
	typ      core.MessageType
	payload  core.Payload
	md       core.Metadata
	at       *time.Time
}

// NewMessageBuilder creates a builder for a text message from "tester".
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{sender: "tester", typ: core.MessageText}
}

// ID overrides the generated message id (chainable). Use it to provoke
// duplicate deliveries.
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// From sets the sender (chainable).
func (b *MessageBuilder) From(id string) *MessageBuilder { b.sender = id; return b }

// To sets the receiver (chainable).
func (b *MessageBuilder) To(id string) *MessageBuilder { b.receiver = id; return b }

// Broadcast addresses every agent but the sender (chainable).
func (b *MessageBuilder) Broadcast() *MessageBuilder {
	b.receiver = core.Broadcast
	b.typ = core.MessageBroadcast
	return b
}

// At fixes the timestamp (chainable).
func (b *MessageBuilder) At(ts time.Time) *MessageBuilder { b.at = &ts; return b }

// Task correlates the message with a task (chainable).
func (b *MessageBuilder) Task(id string, typ core.TaskType) *MessageBuilder {
	b.md.TaskID = id
	b.md.TaskType = typ
	return b
}

// Extra adds a free-form metadata key (chainable).
func (b *MessageBuilder) Extra(key string, value any) *MessageBuilder {
	if b.md.Extra == nil {
		b.md.Extra = map[string]any{}
	}
	b.md.Extra[key] = value
	return b
}

// Text sets a text payload (chainable).
func (b *MessageBuilder) Text(text string) *MessageBuilder {
	b.payload = core.Text{Text: text}
	return b
}

// Kind makes the message a task carrying kind (chainable).
func (b *MessageBuilder) Kind(kind core.TaskKind) *MessageBuilder {
	b.typ = core.MessageTask
	b.payload = kind
	b.md.TaskType = kind.TaskType()
	return b
}

// Result makes the message a task_result (chainable).
func (b *MessageBuilder) Result(r core.Result) *MessageBuilder {
	b.typ = core.MessageTaskResult
	b.payload = r
	return b
}

// Error makes the message a typed error response (chainable).
func (b *MessageBuilder) Error(code, text string) *MessageBuilder {
	b.typ = core.MessageError
	b.payload = core.ErrorPayload{Code: code, Message: text}
	return b
}

// Type overrides the message type (chainable).
func (b *MessageBuilder) Type(t core.MessageType) *MessageBuilder { b.typ = t; return b }

// Payload overrides the payload (chainable).
func (b *MessageBuilder) Payload(p core.Payload) *MessageBuilder { b.payload = p; return b }

// Build constructs the message.
func (b *MessageBuilder) Build() core.Message {
	m := core.NewMessage(b.sender, b.receiver, b.typ, b.payload, b.md)
	if b.id != "" {
		m.ID = b.id
	}
	if b.at != nil {
		m.Timestamp = *b.at
	}
	return m
}
