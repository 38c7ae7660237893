package openaiprovider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, wantAuth string, body string, got *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+wantAuth {
			http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

const okCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "We open at nine."}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func TestProvider_GenerateSendsTurnsInOrder(t *testing.T) {
	var got capturedRequest
	srv := completionServer(t, "sk-test", okCompletion, &got)
	defer srv.Close()

	p := NewProviderWithBaseURL("sk-test", srv.URL+"/v1/chat/completions")
	resp, err := p.Generate(t.Context(), "gpt-4o-mini", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "when do you open"},
	})
	require.NoError(t, err)

	assert.Equal(t, "We open at nine.", resp.Content)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "when do you open", got.Messages[3].Content)
}

func TestProvider_GenerateNoChoices(t *testing.T) {
	srv := completionServer(t, "sk-test", `{"id":"x","object":"chat.completion","choices":[],"usage":{}}`, nil)
	defer srv.Close()

	p := NewProviderWithBaseURL("sk-test", srv.URL+"/v1")
	resp, err := p.Generate(t.Context(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
}

func TestProvider_GenerateAPIError(t *testing.T) {
	srv := completionServer(t, "sk-right", okCompletion, nil)
	defer srv.Close()

	p := NewProviderWithBaseURL("sk-wrong", srv.URL+"/v1")
	_, err := p.Generate(t.Context(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
}

func TestProvider_GenerateUsesTokenSource(t *testing.T) {
	srv := completionServer(t, "oauth-token", okCompletion, nil)
	defer srv.Close()

	calls := 0
	p := NewProviderWithTokenSource(func() (string, error) {
		calls++
		return "oauth-token", nil
	}, srv.URL+"/v1")

	_, err := p.Generate(t.Context(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, defaultBaseURL, normalizeBaseURL(""))
	assert.Equal(t, "https://api.example.com/v1/", normalizeBaseURL("https://api.example.com/v1/chat/completions"))
	assert.Equal(t, "https://api.example.com/v1/", normalizeBaseURL("https://api.example.com/v1"))
}
