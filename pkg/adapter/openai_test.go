package adapter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/adapter"
)

type chatRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	MaxComplete int     `json:"max_completion_tokens"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newFakeOpenAI(t *testing.T, reply string, status int, requests *[]chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if requests != nil {
			*requests = append(*requests, req)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"unavailable"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
}

func TestOpenAIComplete(t *testing.T) {
	var requests []chatRequest
	srv := newFakeOpenAI(t, `{"packs":["web"]}`, http.StatusOK, &requests)
	defer srv.Close()

	client, err := adapter.NewOpenAI(
		adapter.WithOpenAIBaseURL(srv.URL+"/v1/"),
		adapter.WithOpenAIModel("qwen-turbo"),
	)
	gt.NoError(t, err)

	text, err := client.Complete(context.Background(), "you are a router", "hello", 150)
	gt.NoError(t, err)
	gt.V(t, text).Equal(`{"packs":["web"]}`)

	gt.A(t, requests).Length(1)
	gt.V(t, requests[0].Model).Equal("qwen-turbo")
	gt.V(t, max(requests[0].MaxTokens, requests[0].MaxComplete)).Equal(150)
	gt.A(t, requests[0].Messages).Length(2)
	gt.V(t, requests[0].Messages[0].Role).Equal("system")
	gt.V(t, requests[0].Messages[0].Content).Equal("you are a router")
	gt.V(t, requests[0].Messages[1].Role).Equal("user")
	gt.V(t, requests[0].Messages[1].Content).Equal("hello")
}

func TestOpenAIEmptyReply(t *testing.T) {
	srv := newFakeOpenAI(t, "   ", http.StatusOK, nil)
	defer srv.Close()

	client, err := adapter.NewOpenAI(adapter.WithOpenAIBaseURL(srv.URL + "/v1"))
	gt.NoError(t, err)

	_, err = client.Complete(context.Background(), "s", "u", 10)
	gt.Error(t, err)
}

func TestOpenAIServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"unavailable"}}`))
	}))
	defer srv.Close()

	client, err := adapter.NewOpenAI(adapter.WithOpenAIBaseURL(srv.URL + "/v1"))
	gt.NoError(t, err)

	guarded := adapter.NewGuarded(client, adapter.WithRetries(2), adapter.WithBackoff(0))
	_, err = guarded.Complete(context.Background(), "s", "u", 10)
	gt.Error(t, err)
	gt.True(t, calls.Load() >= 1)
}
