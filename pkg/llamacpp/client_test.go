package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/menta2k/image-annotator/pkg/client"
)

func TestDescribe(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"qwen2-vl","choices":[{"index":0,"message":{"role":"assistant","content":"a cat"}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL+"/", "qwen2-vl")
	desc, err := c.Describe(context.Background(), client.Request{Prompt: "what?", ImageB64: "AAAA"})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Text != "a cat" {
		t.Errorf("Expected 'a cat', got %q", desc.Text)
	}
	if desc.Usage == nil || desc.Usage.TotalTokens != 12 {
		t.Errorf("Expected usage 12, got %+v", desc.Usage)
	}
	if got.Model != "qwen2-vl" || got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}

	parts, ok := got.Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected two content parts, got %#v", got.Messages[0].Content)
	}
	img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	if img["url"] != "data:image/jpeg;base64,AAAA" {
		t.Errorf("Unexpected image url %v", img["url"])
	}
}

func TestDescribeArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"two "},{"type":"text","text":"parts"}]}}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "m")
	desc, err := c.Describe(context.Background(), client.Request{Prompt: "p", ImageURL: "https://example.com/x.png"})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Text != "two parts" {
		t.Errorf("Expected 'two parts', got %q", desc.Text)
	}
	if desc.Usage != nil {
		t.Errorf("Expected no usage, got %+v", desc.Usage)
	}
}

func TestDescribeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Type"), "json") && r.ContentLength > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("model loading"))
		}
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "m")
	_, err := c.Describe(context.Background(), client.Request{Prompt: "p", ImageB64: "AAAA"})
	if err == nil || !strings.Contains(err.Error(), "model loading") {
		t.Errorf("Expected remote message in error, got %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()

	c, _ = NewClient(empty.URL, "m")
	_, err = c.Describe(context.Background(), client.Request{Prompt: "p", ImageB64: "AAAA"})
	if !errors.Is(err, client.ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}
