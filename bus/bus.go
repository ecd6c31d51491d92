// Package bus routes messages between agent inboxes.
//
// Direct messages are enqueued into the named receiver only; messages
// addressed to core.Broadcast fan out to every attached inbox except the
// sender's. Each inbox is FIFO; there is no ordering guarantee across
// inboxes. Delivering to an unknown receiver is a *core.RoutingError and is
// never dropped silently.
package bus

import (
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/logging"
)

// Inbox is the receiving side of an agent.
type Inbox interface {
	ID() string
	Receive(msg core.Message) bool
}

// Options configures a Bus.
type Options struct {
	Logger logging.Logger
	// Tap, when set, observes every message handed to Deliver.
	Tap func(core.Message)
}

// Bus is an in-process message router. It is safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]Inbox
	logger  logging.Logger
	tap     func(core.Message)
}

// New creates an empty bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bus{
		inboxes: make(map[string]Inbox),
		logger:  logging.OrNoOp(opts.Logger),
		tap:     opts.Tap,
	}
}

// Attach makes an inbox reachable. Attaching the same id again replaces it.
func (b *Bus) Attach(in Inbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[in.ID()] = in
}

// Detach removes an inbox.
func (b *Bus) Detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, id)
}

// Has reports whether id is attached.
func (b *Bus) Has(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inboxes[id]
	return ok
}

// IDs returns the attached ids in sorted order.
func (b *Bus) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deliver routes a single message.
func (b *Bus) Deliver(msg core.Message) error {
	if b.tap != nil {
		b.tap(msg)
	}

	if msg.IsBroadcast() {
		b.mu.RLock()
		targets := make([]Inbox, 0, len(b.inboxes))
		for id, in := range b.inboxes {
			if id == msg.SenderID {
				continue
			}
			targets = append(targets, in)
		}
		b.mu.RUnlock()

		for _, in := range targets {
			in.Receive(msg)
		}
		b.logger.Debug("Broadcast delivered", "message_id", msg.ID, "sender_id", msg.SenderID, "receivers", len(targets))
		return nil
	}

	b.mu.RLock()
	in, ok := b.inboxes[msg.ReceiverID]
	b.mu.RUnlock()
	if !ok {
		err := &core.RoutingError{MessageID: msg.ID, SenderID: msg.SenderID, Receiver: msg.ReceiverID}
		b.logger.Warn("Message not routable", "message_id", msg.ID, "receiver_id", msg.ReceiverID, "error", err)
		return err
	}
	if !in.Receive(msg) {
		b.logger.Debug("Duplicate message ignored", "message_id", msg.ID, "receiver_id", msg.ReceiverID)
	}
	return nil
}

// DeliverAll routes every message, continuing past failures, and returns the
// joined routing errors.
func (b *Bus) DeliverAll(msgs []core.Message) error {
	var errs []error
	for _, m := range msgs {
		if err := b.Deliver(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
