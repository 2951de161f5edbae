package ollama

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
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"A red square."},"done":true,"prompt_eval_count":50,"eval_count":7}` + "\n"))
	}))
	defer server.Close()

	c, err := NewClient(server.URL+"/api/chat", "llava")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	desc, err := c.Describe(context.Background(), client.Request{Prompt: "describe", ImageB64: "AAAA"})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc.Text != "A red square." {
		t.Errorf("Expected 'A red square.', got %q", desc.Text)
	}
	if desc.Usage == nil || desc.Usage.TotalTokens != 57 {
		t.Errorf("Expected 57 total tokens, got %+v", desc.Usage)
	}
	if got["model"] != "llava" {
		t.Errorf("Expected model llava, got %v", got["model"])
	}
	if got["stream"] != false {
		t.Errorf("Expected non-streaming request, got %v", got["stream"])
	}
}

func TestDescribeEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":""},"done":true}` + "\n"))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "llava")
	_, err := c.Describe(context.Background(), client.Request{Prompt: "p", ImageB64: "AAAA"})
	if !errors.Is(err, client.ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestDescribeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "nope")
	_, err := c.Describe(context.Background(), client.Request{Prompt: "p", ImageB64: "AAAA"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected remote message in error, got %v", err)
	}
}

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("not a url", "m"); err == nil {
		t.Error("Expected error for invalid URL")
	}
}

func TestIsMiniCPM(t *testing.T) {
	if !isMiniCPM("openbmb/MiniCPM-V4.5") {
		t.Error("Expected MiniCPM-V4 match")
	}
	if isMiniCPM("llava:13b") {
		t.Error("Did not expect llava to match")
	}
}
