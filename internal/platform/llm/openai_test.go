package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatible_Models(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"gemma-2b","object":"model"},{"id":"qwen","object":"model"}]}`))
	}))
	defer srv.Close()

	models, err := NewOpenAICompatible(OpenAIConfig{BaseURL: srv.URL}).Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 || models[0] != "gemma-2b" {
		t.Errorf("unexpected models %v", models)
	}
}

func TestOpenAICompatible_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"alterados\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	text, err := NewOpenAICompatible(OpenAIConfig{BaseURL: srv.URL + "/v1"}).Generate(context.Background(), GenerateRequest{
		Model:   "gemma-2b",
		System:  "sys",
		Prompt:  "user",
		JSON:    true,
		Options: Options{NumPredict: 100},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"alterados":[]}` {
		t.Errorf("unexpected text %q", text)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %v", body["messages"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", body["response_format"])
	}
	if body["max_tokens"] != float64(100) {
		t.Errorf("expected max_tokens 100, got %v", body["max_tokens"])
	}
}

func TestOpenAICompatible_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICompatible(OpenAIConfig{BaseURL: srv.URL}).Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "p"})
	if err != ErrEmptyReply {
		t.Errorf("expected ErrEmptyReply, got %v", err)
	}
}
