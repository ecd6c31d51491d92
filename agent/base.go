package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/logging"
)

// ErrUnsupportedTask is returned by a Handler for task kinds it does not
// handle. Base answers it with a typed error response instead of a result.
var ErrUnsupportedTask = errors.New("unsupported task")

// Handler processes one task kind addressed to an agent. Implementations
// switch over the concrete core.TaskKind types.
type Handler interface {
	Handle(ctx context.Context, msg core.Message, kind core.TaskKind) (core.Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg core.Message, kind core.TaskKind) (core.Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg core.Message, kind core.TaskKind) (core.Result, error) {
	return f(ctx, msg, kind)
}

// Options configure a Base.
type Options struct {
	// ID defaults to "<role>_agent".
	ID          string
	Name        string
	Description string
	Logger      logging.Logger
	// SeenLimit bounds the duplicate detection set. Oldest ids are evicted
	// first.
	SeenLimit int
	// Intercept sees every message before the built-in handling. Returning
	// handled=true skips it. The coordinator uses this for results,
	// registrations and heartbeats.
	Intercept func(ctx context.Context, msg core.Message) (out []core.Message, handled bool)
}

// DefaultSeenLimit is the default size of the duplicate detection set.
const DefaultSeenLimit = 4096

const maxCompletions = 100

// Base supplies the inbox, the FIFO drain loop and the protocol level
// handling shared by every agent. Embed it and pass the concrete agent as
// the Handler. All exported methods are goroutine-safe.
type Base struct {
	id          string
	role        core.Role
	name        string
	description string
	handler     Handler
	intercept   func(ctx context.Context, msg core.Message) ([]core.Message, bool)
	logger      logging.Logger

	mu          sync.Mutex
	inbox       []core.Message
	seen        map[string]struct{}
	seenOrder   []string
	seenLimit   int
	completions []core.Completion
	drainMu     sync.Mutex

	notify chan struct{}
}

// NewBase constructs a Base for role dispatching task kinds to h.
func NewBase(role core.Role, h Handler, optFns ...func(o *Options)) *Base {
	opts := Options{SeenLimit: DefaultSeenLimit}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = string(role) + "_agent"
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Agent %s", opts.Name)
	}
	if opts.SeenLimit <= 0 {
		opts.SeenLimit = DefaultSeenLimit
	}
	return &Base{
		id:          opts.ID,
		role:        role,
		name:        opts.Name,
		description: opts.Description,
		handler:     h,
		intercept:   opts.Intercept,
		logger:      logging.ForAgent(logging.OrNoOp(opts.Logger), opts.ID),
		seen:        make(map[string]struct{}),
		seenLimit:   opts.SeenLimit,
		notify:      make(chan struct{}, 1),
	}
}

// ID returns the unique agent id.
func (b *Base) ID() string { return b.id }

// Role returns the agent's role.
func (b *Base) Role() core.Role { return b.role }

// Name returns the human-readable name.
func (b *Base) Name() string { return b.name }

// Description returns what the agent does.
func (b *Base) Description() string { return b.description }

// Logger returns the agent's logger.
func (b *Base) Logger() logging.Logger { return b.logger }

// Notify is signalled whenever a message is queued.
func (b *Base) Notify() <-chan struct{} { return b.notify }

// Receive enqueues msg. It returns false when a message with the same id was
// already received.
func (b *Base) Receive(msg core.Message) bool {
	b.mu.Lock()
	if _, dup := b.seen[msg.ID]; dup {
		b.mu.Unlock()
		b.logger.Debug("duplicate message ignored", "message_id", msg.ID)
		return false
	}
	b.seen[msg.ID] = struct{}{}
	b.seenOrder = append(b.seenOrder, msg.ID)
	if len(b.seenOrder) > b.seenLimit {
		delete(b.seen, b.seenOrder[0])
		b.seenOrder = b.seenOrder[1:]
	}
	b.inbox = append(b.inbox, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued messages.
func (b *Base) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inbox)
}

// Drain processes queued messages in FIFO order until the inbox is empty or
// ctx is done, and returns the messages produced. Messages received while
// draining are processed in the same call. Concurrent drains are serialized.
func (b *Base) Drain(ctx context.Context) []core.Message {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	var out []core.Message
	for ctx.Err() == nil {
		msg, ok := b.pop()
		if !ok {
			break
		}
		out = append(out, b.process(ctx, msg)...)
	}
	return out
}

// Completions returns the most recent task completion notifications.
func (b *Base) Completions() []core.Completion {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Completion(nil), b.completions...)
}

func (b *Base) pop() (core.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbox) == 0 {
		return core.Message{}, false
	}
	msg := b.inbox[0]
	b.inbox[0] = core.Message{}
	b.inbox = b.inbox[1:]
	return msg, true
}

func (b *Base) process(ctx context.Context, msg core.Message) (out []core.Message) {
	if b.intercept != nil {
		if res, handled := b.intercept(ctx, msg); handled {
			return res
		}
	}

	switch msg.Type {
	case core.MessageTask:
		return []core.Message{b.handleTask(ctx, msg)}
	case core.MessageTaskCompleted:
		if c, ok := msg.Payload.(core.Completion); ok {
			b.mu.Lock()
			b.completions = append(b.completions, c)
			if len(b.completions) > maxCompletions {
				b.completions = b.completions[1:]
			}
			b.mu.Unlock()
			b.logger.Info("task completed", "task_id", c.TaskID, "status", string(c.Status))
		}
		return nil
	case core.MessageBroadcast, core.MessageText:
		b.logger.Info("message received", "from", msg.SenderID, "type", string(msg.Type))
		return nil
	case core.MessageError:
		if e, ok := msg.Payload.(core.ErrorPayload); ok {
			b.logger.Warn("error response received", "from", msg.SenderID, "code", e.Code, "error", e.Message)
		}
		return nil
	case core.MessageHeartbeat:
		return nil
	default:
		b.logger.Warn("unsupported message", "from", msg.SenderID, "type", string(msg.Type))
		return []core.Message{ErrorReply(b.id, msg, core.CodeUnsupportedMessage,
			fmt.Sprintf("agent %s does not handle %s messages", b.id, msg.Type))}
	}
}

func (b *Base) handleTask(ctx context.Context, msg core.Message) (reply core.Message) {
	kind, ok := msg.Payload.(core.TaskKind)
	if !ok {
		return ErrorReply(b.id, msg, core.CodeInvalidPayload, fmt.Sprintf("task message carries %T", msg.Payload))
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("task handler panicked", "task_id", msg.Metadata.TaskID, "panic", fmt.Sprint(r))
			reply = msg.Reply(b.id, core.MessageTaskResult, core.Failf("agent %s panicked: %v", b.id, r))
		}
	}()

	res, err := b.handler.Handle(ctx, msg, kind)
	switch {
	case errors.Is(err, ErrUnsupportedTask):
		b.logger.Warn("unsupported task", "task_id", msg.Metadata.TaskID, "task_type", string(kind.TaskType()))
		return ErrorReply(b.id, msg, core.CodeUnsupportedTask,
			fmt.Sprintf("agent %s does not handle %s tasks", b.id, kind.TaskType()))
	case err != nil:
		b.logger.Warn("task failed", "task_id", msg.Metadata.TaskID, "error", err.Error())
		res = core.Fail(err)
	}
	return msg.Reply(b.id, core.MessageTaskResult, res)
}

// ErrorReply builds the typed error response to msg.
func ErrorReply(sender string, msg core.Message, code, text string) core.Message {
	return msg.Reply(sender, core.MessageError, core.ErrorPayload{Code: code, Message: text})
}

var _ core.Agent = (*Base)(nil)
