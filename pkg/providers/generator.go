package providers

import (
	"context"
	"fmt"
	"net/http"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/v3/option"

	anthropicprovider "github.com/tinyland-inc/wxclaw/pkg/providers/anthropic"
	openaiprovider "github.com/tinyland-inc/wxclaw/pkg/providers/openai"
)

// NewGenerator builds the client for b's endpoint protocol. hc may be nil.
func NewGenerator(ctx context.Context, b Binding, hc *http.Client) (Generator, error) {
	tokenSource := OAuthTokenSource(ctx, b.Endpoint.OAuth, hc)

	switch b.Endpoint.Protocol {
	case "", ProtocolOpenAI:
		var opts []openaioption.RequestOption
		if hc != nil {
			opts = append(opts, openaioption.WithHTTPClient(hc))
		}
		if tokenSource != nil {
			return openaiprovider.NewProviderWithTokenSource(tokenSource, b.Endpoint.URL, opts...), nil
		}
		return openaiprovider.NewProviderWithBaseURL(b.Profile.Token, b.Endpoint.URL, opts...), nil

	case ProtocolAnthropic:
		var opts []anthropicoption.RequestOption
		if hc != nil {
			opts = append(opts, anthropicoption.WithHTTPClient(hc))
		}
		if tokenSource != nil {
			return anthropicprovider.NewProviderWithTokenSource(tokenSource, b.Endpoint.URL, opts...), nil
		}
		return anthropicprovider.NewProviderWithBaseURL(b.Profile.Token, b.Endpoint.URL, opts...), nil

	default:
		return nil, fmt.Errorf("endpoint %s: unsupported protocol %q", b.Endpoint.ID, b.Endpoint.Protocol)
	}
}
