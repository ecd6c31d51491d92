package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, _ core.Message, kind core.TaskKind) (core.Result, error) {
		switch k := kind.(type) {
		case core.Generic:
			if k.Type == "boom" {
				return core.Result{}, errors.New("exploded")
			}
			if k.Type == "panic" {
				panic("handler bug")
			}
			return core.OK(map[string]any{"echo": k.Data["text"]}), nil
		default:
			return core.Result{}, ErrUnsupportedTask
		}
	})
}

func genericTask(sender, receiver, typ string, data map[string]any) core.Message {
	return core.NewTaskMessage(sender, receiver, core.NewID(), core.Generic{Type: core.TaskType(typ), Data: data})
}

func TestBase_Defaults(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler())
	assert.Equal(t, "reasoning_agent", b.ID())
	assert.Equal(t, core.RoleReasoning, b.Role())
	assert.Equal(t, "reasoning_agent", b.Name())
	assert.NotEmpty(t, b.Description())
}

func TestBase_ReceiveIsIdempotent(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) { o.ID = "a1" })
	msg := genericTask("coordinator", "a1", "echo", map[string]any{"text": "hi"})

	assert.True(t, b.Receive(msg))
	assert.False(t, b.Receive(msg))
	assert.Equal(t, 1, b.Pending())

	out := b.Drain(context.Background())
	require.Len(t, out, 1)
	assert.False(t, b.Receive(msg), "drained messages stay deduplicated")
	assert.Empty(t, b.Drain(context.Background()))
}

func TestBase_DrainFIFOAndCorrelation(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) { o.ID = "a1" })
	first := genericTask("coordinator", "a1", "echo", map[string]any{"text": "one"})
	second := genericTask("coordinator", "a1", "echo", map[string]any{"text": "two"})
	b.Receive(first)
	b.Receive(second)

	out := b.Drain(context.Background())
	require.Len(t, out, 2)
	for i, want := range []core.Message{first, second} {
		assert.Equal(t, core.MessageTaskResult, out[i].Type)
		assert.Equal(t, "coordinator", out[i].ReceiverID)
		assert.Equal(t, "a1", out[i].SenderID)
		assert.Equal(t, want.Metadata.TaskID, out[i].Metadata.TaskID)
	}
	assert.Equal(t, "one", out[0].Payload.(core.Result).Data["echo"])
	assert.Equal(t, "two", out[1].Payload.(core.Result).Data["echo"])
}

func TestBase_ErrorResponses(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) { o.ID = "a1" })

	b.Receive(core.NewTaskMessage("coordinator", "a1", "t1", core.WebSearch{Query: "x"}))
	b.Receive(core.NewMessage("coordinator", "a1", core.MessageRegister, core.Registration{Role: core.RoleKnowledge}, core.Metadata{}))
	b.Receive(core.NewMessage("coordinator", "a1", core.MessageTask, core.Text{Text: "not a kind"}, core.Metadata{TaskID: "t2"}))

	out := b.Drain(context.Background())
	require.Len(t, out, 3)
	codes := make([]string, 0, 3)
	for _, m := range out {
		require.Equal(t, core.MessageError, m.Type)
		codes = append(codes, m.Payload.(core.ErrorPayload).Code)
	}
	assert.Equal(t, []string{core.CodeUnsupportedTask, core.CodeUnsupportedMessage, core.CodeInvalidPayload}, codes)
	assert.Equal(t, "t1", out[0].Metadata.TaskID)
}

func TestBase_HandlerFailures(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) { o.ID = "a1" })
	b.Receive(genericTask("coordinator", "a1", "boom", nil))
	b.Receive(genericTask("coordinator", "a1", "panic", nil))

	out := b.Drain(context.Background())
	require.Len(t, out, 2)
	for _, m := range out {
		require.Equal(t, core.MessageTaskResult, m.Type)
		res := m.Payload.(core.Result)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	}
}

func TestBase_NotificationsProduceNoReplies(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) { o.ID = "a1" })
	b.Receive(core.NewMessage("coordinator", "a1", core.MessageTaskCompleted, core.Completion{TaskID: "t1", Status: core.TaskCompleted}, core.Metadata{TaskID: "t1"}))
	b.Receive(core.NewMessage("x", core.Broadcast, core.MessageBroadcast, core.Text{Text: "hello"}, core.Metadata{}))
	b.Receive(core.NewMessage("x", "a1", core.MessageError, core.ErrorPayload{Code: "c", Message: "m"}, core.Metadata{}))
	b.Receive(core.NewMessage("x", "a1", core.MessageHeartbeat, core.Heartbeat{}, core.Metadata{}))

	assert.Empty(t, b.Drain(context.Background()))
	require.Len(t, b.Completions(), 1)
	assert.Equal(t, "t1", b.Completions()[0].TaskID)
}

func TestBase_InterceptAndNotify(t *testing.T) {
	intercepted := 0
	b := NewBase(core.RoleCoordinator, echoHandler(), func(o *Options) {
		o.ID = "coordinator"
		o.Intercept = func(_ context.Context, msg core.Message) ([]core.Message, bool) {
			if msg.Type == core.MessageTaskResult {
				intercepted++
				return nil, true
			}
			return nil, false
		}
	})
	b.Receive(core.NewMessage("a1", "coordinator", core.MessageTaskResult, core.OK(nil), core.Metadata{TaskID: "t"}))

	select {
	case <-b.Notify():
	default:
		t.Fatal("expected notification")
	}
	assert.Empty(t, b.Drain(context.Background()))
	assert.Equal(t, 1, intercepted)
}

func TestBase_SeenLimitEvictsOldest(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) { o.SeenLimit = 2 })
	m1 := genericTask("c", "reasoning_agent", "echo", nil)
	m2 := genericTask("c", "reasoning_agent", "echo", nil)
	m3 := genericTask("c", "reasoning_agent", "echo", nil)
	b.Receive(m1)
	b.Receive(m2)
	b.Receive(m3)
	assert.False(t, b.Receive(m3))
	assert.True(t, b.Receive(m1), "evicted id is accepted again")
}

func TestBase_ConcurrentReceive(t *testing.T) {
	b := NewBase(core.RoleReasoning, echoHandler())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Receive(genericTask("c", b.ID(), "echo", nil))
		}()
	}
	done := make(chan int)
	go func() {
		n := 0
		for n < 50 {
			n += len(b.Drain(context.Background()))
		}
		done <- n
	}()
	wg.Wait()
	assert.Equal(t, 50, <-done)
}

func TestBase_LogsCarryAgentID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	b := NewBase(core.RoleReasoning, echoHandler(), func(o *Options) {
		o.ID = "a1"
		o.Logger = logger
	})

	msg := genericTask("system", "a1", "echo", nil)
	require.True(t, b.Receive(msg))
	require.False(t, b.Receive(msg))

	assert.Contains(t, buf.String(), `"msg":"duplicate message ignored"`)
	assert.Contains(t, buf.String(), `"agent_id":"a1"`)
}
