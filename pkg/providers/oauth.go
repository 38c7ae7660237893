package providers

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthTokenSource returns a function yielding a cached client-credentials
// access token, or nil when cfg is nil.
func OAuthTokenSource(ctx context.Context, cfg *OAuth, hc *http.Client) func() (string, error) {
	if cfg == nil || cfg.TokenURL == "" {
		return nil
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ts := cc.TokenSource(ctx)
	return func() (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}
}
