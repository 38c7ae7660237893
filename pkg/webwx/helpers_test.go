package webwx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wxclaw/pkg/retry"
	"github.com/tinyland-inc/wxclaw/pkg/webwx/webwxtest"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{
		UserAgent:     "wxclaw-test",
		ClientVersion: "2.0.0",
		Timeout:       5 * time.Second,
		Retry:         retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
	})
	require.NoError(t, err)
	return c
}

func newTestManager(t *testing.T, srv *webwxtest.Server) *Manager {
	t.Helper()
	return NewManager(newTestClient(t), ManagerOptions{
		AppID:         "wx782c26e4c19acffb",
		LoginBaseURL:  srv.URL,
		CheckBaseURL:  srv.URL,
		Hosts:         HostTable{srv.Host(): {File: srv.Host(), Sync: srv.Host()}},
		PollInterval:  time.Millisecond,
		MaxQRReissues: 1,
	})
}

func loggedIn(t *testing.T, srv *webwxtest.Server) (*Client, *Session) {
	t.Helper()
	m := newTestManager(t, srv)
	s, err := m.EstablishSession(context.Background(), srv.RedirectURI())
	require.NoError(t, err)
	return m.client, s
}
