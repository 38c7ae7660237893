package anthropicprovider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

func TestBuildParams_BasicMessage(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "Hello"},
	}
	params := buildParams(messages, "claude-sonnet-4.6", 512)
	if string(params.Model) != "claude-sonnet-4.6" {
		t.Errorf("Model = %q, want %q", params.Model, "claude-sonnet-4.6")
	}
	if params.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(params.Messages))
	}
}

func TestBuildParams_SystemPromptAndHistory(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "Answer in one line"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "price?"},
	}
	params := buildParams(messages, "claude-sonnet-4.6", defaultMaxTokens)
	if len(params.System) != 1 {
		t.Fatalf("len(System) = %d, want 1", len(params.System))
	}
	if params.System[0].Text != "Answer in one line" {
		t.Errorf("System[0].Text = %q, want %q", params.System[0].Text, "Answer in one line")
	}
	if len(params.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(params.Messages))
	}
	if params.Messages[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("Messages[1].Role = %q, want assistant", params.Messages[1].Role)
	}
}

func TestParseResponse_Usage(t *testing.T) {
	resp := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{},
		Usage: anthropic.Usage{
			InputTokens:  10,
			OutputTokens: 20,
		},
	}
	result := parseResponse(resp)
	if result.Usage.PromptTokens != 10 {
		t.Errorf("PromptTokens = %d, want 10", result.Usage.PromptTokens)
	}
	if result.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", result.Usage.TotalTokens)
	}
	if result.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want %q", result.FinishReason, "stop")
	}
}

func TestParseResponse_StopReasons(t *testing.T) {
	tests := []struct {
		stopReason anthropic.StopReason
		want       string
	}{
		{anthropic.StopReasonEndTurn, "stop"},
		{anthropic.StopReasonMaxTokens, "length"},
		{anthropic.StopReasonRefusal, "stop"},
	}
	for _, tt := range tests {
		result := parseResponse(&anthropic.Message{StopReason: tt.stopReason})
		if result.FinishReason != tt.want {
			t.Errorf("StopReason %q: FinishReason = %q, want %q", tt.stopReason, result.FinishReason, tt.want)
		}
	}
}

func messagesHandler(t *testing.T, wantAuth func(*http.Request) bool, text string, requests *int32) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if requests != nil {
			atomic.AddInt32(requests, 1)
		}
		if !wantAuth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var reqBody map[string]any
		json.NewDecoder(r.Body).Decode(&reqBody)

		resp := map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       reqBody["model"],
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"usage": map[string]any{
				"input_tokens":  15,
				"output_tokens": 8,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestProvider_GenerateRoundTrip(t *testing.T) {
	server := httptest.NewServer(messagesHandler(t, func(r *http.Request) bool {
		return r.Header.Get("X-Api-Key") == "test-key"
	}, "Opening hours are 9 to 5.", nil))
	defer server.Close()

	provider := NewProviderWithBaseURL("test-key", server.URL)
	messages := []Message{{Role: "user", Content: "when are you open"}}
	resp, err := provider.Generate(t.Context(), "claude-sonnet-4.6", messages)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Content != "Opening hours are 9 to 5." {
		t.Errorf("Content = %q, want %q", resp.Content, "Opening hours are 9 to 5.")
	}
	if resp.Usage.PromptTokens != 15 {
		t.Errorf("PromptTokens = %d, want 15", resp.Usage.PromptTokens)
	}
}

func TestProvider_GenerateWithExtraRequestOptions(t *testing.T) {
	server := httptest.NewServer(messagesHandler(t, func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer test-token"
	}, "ok", nil))
	defer server.Close()

	provider := NewProviderWithBaseURL("", server.URL, anthropicoption.WithAuthToken("test-token"))
	resp, err := provider.Generate(t.Context(), "claude-sonnet-4.6", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
}

func TestNormalizeBaseURL_StripsSuffixes(t *testing.T) {
	for _, in := range []string{
		"https://api.anthropic.com/v1/",
		"https://api.anthropic.com/v1/messages",
		"https://api.anthropic.com",
	} {
		if got := normalizeBaseURL(in); got != "https://api.anthropic.com" {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, "https://api.anthropic.com")
		}
	}
}

func TestProvider_GenerateUsesTokenSource(t *testing.T) {
	var requests int32
	server := httptest.NewServer(messagesHandler(t, func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer refreshed-token"
	}, "ok", &requests))
	defer server.Close()

	p := NewProviderWithTokenSource(func() (string, error) {
		return "refreshed-token", nil
	}, server.URL)

	_, err := p.Generate(t.Context(), "claude-sonnet-4.6", []Message{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}
