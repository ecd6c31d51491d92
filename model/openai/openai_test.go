package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/model"
)

func newTestModel(t *testing.T, status int, body string) *Model {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
	})
}

func TestModel_Generate(t *testing.T) {
	m := newTestModel(t, http.StatusOK, `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o-mini",
		"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)

	resp, err := m.Generate(context.Background(), model.Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", m.Info().Provider)
}

func TestModel_RateLimitIsTransient(t *testing.T) {
	m := newTestModel(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	_, err := m.Generate(context.Background(), model.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestModel_BadRequestIsPermanent(t *testing.T) {
	m := newTestModel(t, http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	_, err := m.Generate(context.Background(), model.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))
}
