package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcrew/core"
)

type recordingInbox struct {
	id   string
	mu   sync.Mutex
	seen map[string]bool
	got  []core.Message
}

func newInbox(id string) *recordingInbox {
	return &recordingInbox{id: id, seen: map[string]bool{}}
}

func (r *recordingInbox) ID() string { return r.id }

func (r *recordingInbox) Receive(m core.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[m.ID] {
		return false
	}
	r.seen[m.ID] = true
	r.got = append(r.got, m)
	return true
}

func TestBus_DirectDelivery(t *testing.T) {
	b := New()
	a1, a2 := newInbox("a1"), newInbox("a2")
	b.Attach(a1)
	b.Attach(a2)

	m := core.NewMessage("a1", "a2", core.MessageText, core.Text{Text: "hi"}, core.Metadata{})
	require.NoError(t, b.Deliver(m))
	assert.Len(t, a2.got, 1)
	assert.Empty(t, a1.got)
}

func TestBus_BroadcastSkipsSender(t *testing.T) {
	b := New()
	x, y, z := newInbox("x"), newInbox("y"), newInbox("z")
	b.Attach(x)
	b.Attach(y)
	b.Attach(z)

	m := core.NewMessage("x", core.Broadcast, core.MessageBroadcast, core.Text{Text: "all"}, core.Metadata{})
	require.NoError(t, b.Deliver(m))

	assert.Empty(t, x.got)
	assert.Len(t, y.got, 1)
	assert.Len(t, z.got, 1)
}

func TestBus_UnknownReceiverIsRoutingError(t *testing.T) {
	b := New()
	m := core.NewMessage("a", "ghost", core.MessageText, core.Text{Text: "?"}, core.Metadata{})
	err := b.Deliver(m)

	var re *core.RoutingError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ghost", re.Receiver)
}

func TestBus_DeliverAllJoinsErrors(t *testing.T) {
	b := New()
	a := newInbox("a")
	b.Attach(a)
	msgs := []core.Message{
		core.NewMessage("s", "a", core.MessageText, core.Text{Text: "1"}, core.Metadata{}),
		core.NewMessage("s", "nope", core.MessageText, core.Text{Text: "2"}, core.Metadata{}),
		core.NewMessage("s", "a", core.MessageText, core.Text{Text: "3"}, core.Metadata{}),
	}
	err := b.DeliverAll(msgs)
	require.Error(t, err)
	assert.Len(t, a.got, 2, "valid messages are still delivered")
	assert.Equal(t, "1", a.got[0].Payload.(core.Text).Text)
	assert.Equal(t, "3", a.got[1].Payload.(core.Text).Text)
}

func TestBus_TapAndDetach(t *testing.T) {
	var tapped []string
	b := New(func(o *Options) { o.Tap = func(m core.Message) { tapped = append(tapped, m.ID) } })
	a := newInbox("a")
	b.Attach(a)
	assert.True(t, b.Has("a"))
	assert.Equal(t, []string{"a"}, b.IDs())

	b.Detach("a")
	assert.False(t, b.Has("a"))
	err := b.Deliver(core.NewMessage("s", "a", core.MessageText, core.Text{}, core.Metadata{}))
	assert.Error(t, err)
	assert.Len(t, tapped, 1)
}
