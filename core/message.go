package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Broadcast is the receiver id that fans a message out to every agent except
// the sender.
const Broadcast = "broadcast"

// MessageType is the protocol level type of a message.
type MessageType string

const (
	MessageTask          MessageType = "task"
	MessageTaskResult    MessageType = "task_result"
	MessageTaskCompleted MessageType = "task_completed"
	MessageError         MessageType = "error"
	MessageRegister      MessageType = "register"
	MessageHeartbeat     MessageType = "heartbeat"
	MessageBroadcast     MessageType = "broadcast"
	MessageText          MessageType = "text"
)

// Metadata correlates a message with a task. Extra carries free-form keys that
// are flattened into the metadata object on the wire.
type Metadata struct {
	TaskID   string
	TaskType TaskType
	Extra    map[string]any
}

// Message is the unit exchanged between agents. Treat it as immutable after
// construction; ownership passes to the bus on delivery.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Type       MessageType
	Payload    Payload
	Metadata   Metadata
	Timestamp  time.Time
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

// NewMessage creates a message with a fresh id and UTC timestamp. The metadata
// extra map is copied so the caller cannot mutate the message afterwards.
func NewMessage(sender, receiver string, typ MessageType, payload Payload, md Metadata) Message {
	return Message{
		ID:         NewID(),
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       typ,
		Payload:    payload,
		Metadata:   md.clone(),
		Timestamp:  time.Now().UTC(),
	}
}

// NewTaskMessage addresses a task kind to an agent.
func NewTaskMessage(sender, receiver, taskID string, kind TaskKind) Message {
	return NewMessage(sender, receiver, MessageTask, kind, Metadata{TaskID: taskID, TaskType: kind.TaskType()})
}

// Reply builds a response to m addressed to its sender, keeping the task
// correlation.
func (m Message) Reply(sender string, typ MessageType, payload Payload) Message {
	return NewMessage(sender, m.SenderID, typ, payload, Metadata{TaskID: m.Metadata.TaskID, TaskType: m.Metadata.TaskType})
}

// IsBroadcast reports whether the message fans out to every agent.
func (m Message) IsBroadcast() bool { return m.ReceiverID == Broadcast }

func (md Metadata) clone() Metadata {
	if md.Extra == nil {
		return md
	}
	extra := make(map[string]any, len(md.Extra))
	for k, v := range md.Extra {
		extra[k] = v
	}
	md.Extra = extra
	return md
}

// Result is the answer an agent gives to a task.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(data map[string]any) Result { return Result{Success: true, Data: data} }

// Fail builds an unsuccessful result.
func Fail(err error) Result {
	if err == nil {
		return Result{Error: "unknown error"}
	}
	return Result{Error: err.Error()}
}

// Failf builds an unsuccessful result from a format string.
func Failf(format string, args ...any) Result { return Result{Error: fmt.Sprintf(format, args...)} }

// String returns a string value from Data or "".
func (r Result) String(key string) string {
	s, _ := r.Data[key].(string)
	return s
}

// Decode converts Data[key] into v. It works both for in-process values and
// for values that went through the JSON wire format.
func (r Result) Decode(key string, v any) error {
	raw, ok := r.Data[key]
	if !ok {
		return fmt.Errorf("result has no %q", key)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// ErrorPayload is the typed error response for unrecognised messages and
// failed processing.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorPayload.
const (
	CodeUnsupportedTask    = "unsupported_task"
	CodeUnsupportedMessage = "unsupported_message"
	CodeInvalidPayload     = "invalid_payload"
	CodeRegistration       = "registration_failed"
)

// Completion notifies a requester that a task reached a terminal state.
type Completion struct {
	TaskID  string            `json:"task_id"`
	Status  TaskStatus        `json:"status"`
	Results map[string]Result `json:"results"`
	Forced  bool              `json:"forced,omitempty"`
}

// Registration announces an agent to the coordinator.
type Registration struct {
	Role        Role   `json:"role"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Heartbeat keeps an agent marked active.
type Heartbeat struct{}

// Text is a plain text payload.
type Text struct {
	Text string `json:"text"`
}

func (Result) isPayload()       {}
func (ErrorPayload) isPayload() {}
func (Completion) isPayload()   {}
func (Registration) isPayload() {}
func (Heartbeat) isPayload()    {}
func (Text) isPayload()         {}

type wireMessage struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"sender_id"`
	ReceiverID  string          `json:"receiver_id"`
	Content     json.RawMessage `json:"content"`
	MessageType MessageType     `json:"message_type"`
	Metadata    map[string]any  `json:"metadata"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MarshalJSON encodes the message in the wire format
// {id, sender_id, receiver_id, content, message_type, metadata, timestamp}.
func (m Message) MarshalJSON() ([]byte, error) {
	content := json.RawMessage("null")
	if m.Payload != nil {
		b, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}
		content = b
	}
	md := make(map[string]any, len(m.Metadata.Extra)+2)
	for k, v := range m.Metadata.Extra {
		md[k] = v
	}
	if m.Metadata.TaskID != "" {
		md["task_id"] = m.Metadata.TaskID
	}
	if m.Metadata.TaskType != "" {
		md["task_type"] = string(m.Metadata.TaskType)
	}
	return json.Marshal(wireMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     content,
		MessageType: m.Type,
		Metadata:    md,
		Timestamp:   m.Timestamp,
	})
}

// UnmarshalJSON decodes the wire format, selecting the payload variant from
// message_type and metadata.task_type.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	md := Metadata{}
	for k, v := range w.Metadata {
		switch k {
		case "task_id":
			md.TaskID, _ = v.(string)
		case "task_type":
			s, _ := v.(string)
			md.TaskType = TaskType(s)
		default:
			if md.Extra == nil {
				md.Extra = map[string]any{}
			}
			md.Extra[k] = v
		}
	}
	payload, err := decodePayload(w.MessageType, md.TaskType, w.Content)
	if err != nil {
		return err
	}
	*m = Message{
		ID:         w.ID,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Type:       w.MessageType,
		Payload:    payload,
		Metadata:   md,
		Timestamp:  w.Timestamp,
	}
	return nil
}

func decodePayload(typ MessageType, taskType TaskType, content json.RawMessage) (Payload, error) {
	if len(content) == 0 || string(content) == "null" {
		return nil, nil
	}
	var (
		p   Payload
		err error
	)
	switch typ {
	case MessageTask:
		p, err = DecodeTaskKind(taskType, content)
	case MessageTaskResult:
		var v Result
		err = json.Unmarshal(content, &v)
		p = v
	case MessageTaskCompleted:
		var v Completion
		err = json.Unmarshal(content, &v)
		p = v
	case MessageError:
		var v ErrorPayload
		err = json.Unmarshal(content, &v)
		p = v
	case MessageRegister:
		var v Registration
		err = json.Unmarshal(content, &v)
		p = v
	case MessageHeartbeat:
		p = Heartbeat{}
	case MessageBroadcast, MessageText:
		if taskType != "" {
			p, err = DecodeTaskKind(taskType, content)
			break
		}
		var v Text
		err = json.Unmarshal(content, &v)
		p = v
	default:
		return nil, NewValidationError("message_type", typ, "unknown message type")
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", typ, err)
	}
	return p, nil
}
