package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*CrewLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Level = level
	cfg.AddSource = false
	return NewLogger(cfg), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestCrewLogger_KeyValueArgsAndContext(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	l.WithComponent("coordinator").WithAgent("coordinator").WithTask("t-1").WithContext("plan_id", "p-1").
		Info("Task created", "targets", 2)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "Task created", entry["msg"])
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "coordinator", entry["agent_id"])
	assert.Equal(t, "t-1", entry["task_id"])
	assert.Equal(t, "p-1", entry["plan_id"])
	assert.EqualValues(t, 2, entry["targets"])
}

func TestCrewLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too")
	assert.Len(t, decodeLines(t, buf), 2)
}

func TestCrewLogger_WithIsCopyOnWrite(t *testing.T) {
	base, buf := newBufferLogger(LogLevelInfo)
	_ = base.WithContext("k", "v")
	base.Info("plain")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	_, ok := lines[0]["k"]
	assert.False(t, ok, "context added to a clone must not leak into the parent")
}

func TestHelpers_DispatchOnLoggerType(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	TaskTransition(l, "t-1", "processing", "completed", true)
	ToolCall(l, "web_search", time.Millisecond, false, errors.New("timeout"))
	PlanExecution(l, "p-1", 2, 1, time.Second, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "Task status changed", lines[0]["msg"])
	assert.Equal(t, true, lines[0]["forced"])
	assert.Equal(t, "Tool execution failed", lines[1]["msg"])
	assert.Equal(t, "Plan execution finished with failures", lines[2]["msg"])

	// Plain loggers still work.
	assert.NotPanics(t, func() {
		TaskTransition(NoOpLogger{}, "t", "a", "b", false)
		LLMCall(OrNoOp(nil), "m", 1, time.Millisecond, nil)
	})
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug":   LogLevelDebug,
		"":        LogLevelInfo,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		" error ": LogLevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}

type recordingLogger struct {
	NoOpLogger
	args [][]any
}

func (r *recordingLogger) Info(_ string, args ...any) { r.args = append(r.args, args) }

func TestForAgentAndForTask(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	ForTask(ForAgent(l, "a1"), "t-1").Info("Handled")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "a1", lines[0]["agent_id"])
	assert.Equal(t, "t-1", lines[0]["task_id"])

	rec := &recordingLogger{}
	ForTask(ForAgent(rec, "a2"), "t-2").Info("Handled", "k", "v")
	require.Len(t, rec.args, 1)
	assert.Equal(t, []any{"agent_id", "a2", "task_id", "t-2", "k", "v"}, rec.args[0])

	assert.Equal(t, NoOpLogger{}, ForAgent(NoOpLogger{}, "a3"))
}

func TestTimerLogsDuration(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	stop := Timer(l, "generate_plan")
	stop()

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "generate_plan", lines[0]["operation"])
	assert.Contains(t, lines[0], "duration")
}
