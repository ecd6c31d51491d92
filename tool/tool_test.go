package tool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentcrew/code"
	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(context.Context, map[string]any) (any, error) {
		return 0, nil
	})
	_, err := tTool.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	execTool := NewFunctionTool("fail", "Fails", params, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Error(), "boom")
}

func TestFunctionTool_TransientPassesThrough(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	flaky := NewFunctionTool("flaky", "Flaky", params, func(context.Context, map[string]any) (any, error) {
		return nil, &core.TransientCapabilityError{Capability: "flaky", Err: errors.New("try again")}
	})
	_, err := flaky.Call(context.Background(), map[string]any{})
	assert.True(t, core.IsTransient(err))
}

// -------------------- Registry Tests --------------------

func TestRegistry_RetriesTransient(t *testing.T) {
	calls := 0
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	flaky := NewFunctionTool("flaky", "Flaky", params, func(context.Context, map[string]any) (any, error) {
		calls++
		if calls < 3 {
			return nil, &core.TransientCapabilityError{Capability: "flaky", Err: errors.New("unavailable")}
		}
		return "ok", nil
	})
	reg := NewRegistry([]Tool{flaky}, func(o *RegistryOptions) { o.Retry = fastRetry })

	res := reg.Execute(context.Background(), "flaky", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, 3, calls)
}

func TestRegistry_PermanentFailureNotRetried(t *testing.T) {
	calls := 0
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	broken := NewFunctionTool("broken", "Broken", params, func(context.Context, map[string]any) (any, error) {
		calls++
		return nil, errors.New("bad input")
	})
	reg := NewRegistry([]Tool{broken}, func(o *RegistryOptions) { o.Retry = fastRetry })

	res := reg.Execute(context.Background(), "broken", nil)
	assert.False(t, res.Success)
	assert.Equal(t, CodeExecution, res.Code)
	assert.Equal(t, 1, calls)
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	res := reg.Execute(context.Background(), "missing", nil)
	assert.False(t, res.Success)
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry(NewSimulatedTools())
	assert.Equal(t, []string{NameExecuteCode, NameFetchURL, NameWebSearch}, reg.Names())
}

// -------------------- Built-in Tool Tests --------------------

func TestSimulatedWebSearch(t *testing.T) {
	reg := NewRegistry(NewSimulatedTools())
	res := reg.Execute(context.Background(), NameWebSearch, map[string]any{"query": "go channels", "max_results": 2})
	require.True(t, res.Success, res.Error)
	hits, ok := res.Output.([]SearchHit)
	require.True(t, ok)
	assert.Len(t, hits, 2)
	assert.Contains(t, hits[0].Title, "go channels")
}

func TestExecuteCodeTool(t *testing.T) {
	reg := NewRegistry([]Tool{NewExecuteCodeTool(code.NewSimulated())})

	ok := reg.Execute(context.Background(), NameExecuteCode, map[string]any{"code": `print("hi")`})
	require.True(t, ok.Success, ok.Error)
	assert.Equal(t, "hi\n", ok.Output.(map[string]any)["output"])

	bad := reg.Execute(context.Background(), NameExecuteCode, map[string]any{"code": "raise ValueError()"})
	assert.False(t, bad.Success)
	assert.Equal(t, CodeExecution, bad.Code)
	assert.Contains(t, bad.Error, "ValueError")
}

func TestHTTPSearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Go","url":"https://go.dev","content":"The Go language"},{"title":"Tour","url":"https://go.dev/tour","content":"A tour"}]}`))
	}))
	defer srv.Close()

	s := &HTTPSearcher{Endpoint: srv.URL + "/search"}
	hits, err := s.Search(context.Background(), "golang", 1)
	require.NoError(t, err)
	assert.Equal(t, []SearchHit{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}, hits)
}

func TestHTTPFetcher_StatusClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(strings.Repeat("x", 32)))
	}))
	defer srv.Close()

	f := &HTTPFetcher{MaxBytes: 8}
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.True(t, core.IsTransient(err))

	status.Store(http.StatusNotFound)
	_, err = f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.False(t, core.IsTransient(err))

	status.Store(http.StatusOK)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.Len(t, page.Content, 8)
}

func TestHTTPFetcher_RejectsNonHTTP(t *testing.T) {
	f := &HTTPFetcher{}
	_, err := f.Fetch(context.Background(), "file:///etc/passwd")
	var vErr *core.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
