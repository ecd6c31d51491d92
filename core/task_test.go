package core

import (
	"errors"
	"testing"
)

func TestTaskStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskCreated, TaskProcessing, true},
		{TaskCreated, TaskFailed, true},
		{TaskCreated, TaskCompleted, false},
		{TaskProcessing, TaskCompleted, true},
		{TaskProcessing, TaskFailed, true},
		{TaskProcessing, TaskCreated, false},
		{TaskCompleted, TaskFailed, false},
		{TaskFailed, TaskProcessing, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTask_CoveredAndMissing(t *testing.T) {
	task := Task{Targets: []string{"a1", "a2"}, Results: map[string]Result{"a1": OK(nil)}}
	if task.Covered() {
		t.Fatal("task with one missing result must not be covered")
	}
	if m := task.Missing(); len(m) != 1 || m[0] != "a2" {
		t.Fatalf("unexpected missing %v", m)
	}
	task.Results["a2"] = Failf("boom")
	if !task.Covered() {
		t.Fatal("expected covered")
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	task := Task{Targets: []string{"a1"}, Results: map[string]Result{"a1": OK(nil)}}
	c := task.Clone()
	c.Results["x"] = OK(nil)
	c.Targets[0] = "z"
	if len(task.Results) != 1 || task.Targets[0] != "a1" {
		t.Fatal("clone aliases original")
	}
}

func TestNormalizeTargets(t *testing.T) {
	got := NormalizeTargets([]string{"b", "a", "", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestOutcomeOf(t *testing.T) {
	task := Task{
		ID:      "t1",
		Status:  TaskCompleted,
		Targets: []string{"a1", "a2"},
		Results: map[string]Result{"a1": Failf("nope"), "a2": OK(map[string]any{"v": 1})},
	}
	o := OutcomeOf(task)
	if !o.Success || o.Result.Data["v"] != 1 {
		t.Fatalf("expected first successful result, got %+v", o)
	}

	task.Status = TaskFailed
	task.Results = map[string]Result{"a1": Failf("nope")}
	o = OutcomeOf(task)
	if o.Success || o.Error != "nope" {
		t.Fatalf("unexpected failed outcome %+v", o)
	}
	var tf *TaskFailure
	if !errors.As(o.Err, &tf) || tf.TaskID != "t1" {
		t.Fatalf("expected TaskFailure, got %v", o.Err)
	}
}

func TestDecodeTaskKind(t *testing.T) {
	k, err := DecodeTaskKind(TypeWebSearch, []byte(`{"query":"go generics","max_results":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ws, ok := k.(WebSearch); !ok || ws.Query != "go generics" || ws.MaxResults != 3 {
		t.Fatalf("unexpected %#v", k)
	}

	if _, err := DecodeTaskKind("", nil); err == nil {
		t.Fatal("empty type must fail")
	}
	var ve *ValidationError
	_, err = DecodeTaskKind("", nil)
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	if IsBuiltinType("echo") || !IsBuiltinType(TypeGeneratePlan) {
		t.Fatal("builtin detection wrong")
	}
}

func TestIsTransient(t *testing.T) {
	err := &TransientCapabilityError{Capability: "llm", Err: errors.New("503")}
	wrapped := errors.Join(errors.New("outer"), err)
	if !IsTransient(wrapped) {
		t.Fatal("expected transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatal("plain error is not transient")
	}
}
