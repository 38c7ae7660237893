package providers

import (
	"context"

	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
)

type (
	Message     = protocoltypes.Message
	LLMResponse = protocoltypes.LLMResponse
	UsageInfo   = protocoltypes.UsageInfo
)

const (
	ProtocolOpenAI    = "openai"
	ProtocolAnthropic = "anthropic"
)

// DiagnosticContent replaces a generation reply that could not be decoded.
const DiagnosticContent = "test error, please check config"

// Generator produces one assistant turn from an ordered conversation.
type Generator interface {
	Generate(ctx context.Context, model string, messages []Message) (*LLMResponse, error)
}

// Profile is a named generation setup a reply can point at.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
	Token  string `json:"token"`
	Model  string `json:"model"`
	Prompt string `json:"prompt,omitempty"`
}

// OAuth configures a client-credentials exchange for endpoints behind an
// OAuth gateway. The exchanged token replaces the profile token.
type OAuth struct {
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Endpoint is a generation backend a profile's Source refers to by ID.
type Endpoint struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	Protocol string   `json:"protocol"`
	Models   []string `json:"models,omitempty"`
	OAuth    *OAuth   `json:"oauth,omitempty"`
}

// Binding is a profile resolved against its endpoint.
type Binding struct {
	Profile  Profile
	Endpoint Endpoint
}

// DiagnosticTurn is the fixed assistant turn substituted for an
// undecodable generation response.
func DiagnosticTurn() Message {
	return Message{Role: protocoltypes.RoleAssistant, Content: DiagnosticContent}
}
