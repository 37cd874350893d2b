package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/gtoxlili/echoGuard/config"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "deepseek-chat",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func newTestAgent(t *testing.T, handler http.HandlerFunc, timeoutSeconds int) *Agent {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAgent(config.OracleConfig{
		Model:          "deepseek-chat",
		BaseURL:        srv.URL + "/v1",
		APIKey:         "test-key",
		Temperature:    0.2,
		TimeoutSeconds: timeoutSeconds,
	}, prompts.SystemParams{Symbols: []string{"BTC"}, MinLeverage: 5, MaxLeverage: 15})
}

func TestDecide_ParsesRepairedJSON(t *testing.T) {
	var request map[string]any
	agent := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &request)

		w.Header().Set("Content-Type", "application/json")
		// 结尾多余的逗号由 jsonrepair 修复
		_, _ = io.WriteString(w, completionBody(`{"analysis": "BTC trending up", "actions": [
			{"tool": "open_position", "symbol": "BTC", "side": "long", "leverage": 10, "margin_usdt": 50, "stop_loss": 58000,},
		]}`))
	}, 5)

	decision, err := agent.Decide(context.Background(), entity.PromptData{Iteration: 1})
	require.NoError(t, err)
	assert.Equal(t, "BTC trending up", decision.Analysis)
	require.Len(t, decision.Actions, 1)
	a := decision.Actions[0]
	assert.Equal(t, entity.OpenPosition, a.Tool)
	assert.Equal(t, entity.Long, a.Side)
	assert.Equal(t, 10, a.Leverage)
	assert.Equal(t, 50.0, a.MarginUsdt)
	assert.Equal(t, 58000.0, a.StopLoss)

	assert.Equal(t, "deepseek-chat", request["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, request["response_format"])
	messages, ok := request["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestDecide_EmptyChoices(t *testing.T) {
	agent := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}, 5)

	_, err := agent.Decide(context.Background(), entity.PromptData{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestDecide_ServerErrorIsNotRetried(t *testing.T) {
	calls := 0
	agent := newTestAgent(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}, 5)

	_, err := agent.Decide(context.Background(), entity.PromptData{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDecide_HardTimeout(t *testing.T) {
	agent := newTestAgent(t, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, 1)

	start := time.Now()
	_, err := agent.Decide(context.Background(), entity.PromptData{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
