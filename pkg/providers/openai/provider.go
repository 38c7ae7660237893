package openaiprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
)

type (
	LLMResponse = protocoltypes.LLMResponse
	UsageInfo   = protocoltypes.UsageInfo
	Message     = protocoltypes.Message
)

const defaultBaseURL = "https://api.openai.com/v1/"

// Provider talks to any OpenAI-compatible chat completions endpoint.
type Provider struct {
	client      *openai.Client
	tokenSource func() (string, error)
}

func NewProviderWithBaseURL(apiKey, apiBase string, opts ...option.RequestOption) *Provider {
	baseURL := normalizeBaseURL(apiBase)
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}, opts...)
	client := openai.NewClient(opts...)
	return &Provider{client: &client}
}

// NewProviderWithTokenSource authenticates each request with a bearer
// token fetched from tokenSource.
func NewProviderWithTokenSource(tokenSource func() (string, error), apiBase string, opts ...option.RequestOption) *Provider {
	p := NewProviderWithBaseURL("", apiBase, opts...)
	p.tokenSource = tokenSource
	return p
}

func (p *Provider) Generate(ctx context.Context, model string, messages []Message) (*LLMResponse, error) {
	var opts []option.RequestOption
	if p.tokenSource != nil {
		tok, err := p.tokenSource()
		if err != nil {
			return nil, fmt.Errorf("refreshing token: %w", err)
		}
		opts = append(opts, option.WithAPIKey(tok))
	}

	resp, err := p.client.Chat.Completions.New(ctx, buildParams(messages, model), opts...)
	if err != nil {
		return nil, fmt.Errorf("chat completions call: %w", err)
	}
	return parseResponse(resp), nil
}

func buildParams(messages []Message, model string) openai.ChatCompletionNewParams {
	turns := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case protocoltypes.RoleSystem:
			turns = append(turns, openai.SystemMessage(msg.Content))
		case protocoltypes.RoleAssistant:
			turns = append(turns, openai.AssistantMessage(msg.Content))
		default:
			turns = append(turns, openai.UserMessage(msg.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: turns,
	}
}

// parseResponse takes the first choice. No choices yields empty content.
func parseResponse(resp *openai.ChatCompletion) *LLMResponse {
	out := &LLMResponse{
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out
}

// normalizeBaseURL accepts either an API root or a full chat completions
// URL and returns the root with a trailing slash.
func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	if b, ok := strings.CutSuffix(base, "/chat/completions"); ok {
		base = b
	}
	if base == "" {
		return defaultBaseURL
	}
	return base + "/"
}
