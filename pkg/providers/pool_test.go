package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wxclaw/pkg/providers/protocoltypes"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    [][]Message
	model    string
	response *LLMResponse
	err      error
	block    bool
}

func (f *fakeGenerator) Generate(ctx context.Context, model string, messages []Message) (*LLMResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.model = model
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.response, f.err
}

type recordedUsage struct {
	profile string
	usage   *UsageInfo
	err     error
}

type usageSink struct {
	records []recordedUsage
}

func (u *usageSink) RecordGeneration(profileID, _ string, usage *UsageInfo, err error) {
	u.records = append(u.records, recordedUsage{profileID, usage, err})
}

func binding() Binding {
	return Binding{
		Profile:  Profile{ID: "p1", Source: "ep1", Token: "sk", Model: "gpt-4o-mini", Prompt: "be brief"},
		Endpoint: Endpoint{ID: "ep1", URL: "https://api.example.com/v1", Protocol: ProtocolOpenAI},
	}
}

func poolWith(gen Generator, opts ...PoolOption) *Pool {
	opts = append(opts, WithFactory(func(context.Context, Binding, *http.Client) (Generator, error) {
		return gen, nil
	}))
	return NewPool(time.Second, opts...)
}

func TestPool_PrependsSystemPrompt(t *testing.T) {
	gen := &fakeGenerator{response: &LLMResponse{Content: "nine"}}
	sink := &usageSink{}
	p := poolWith(gen, WithUsageRecorder(sink))

	out, err := p.Complete(context.Background(), binding(), []Message{
		{Role: protocoltypes.RoleUser, Content: "when"},
	})
	require.NoError(t, err)
	assert.Equal(t, "nine", out.Content)
	assert.Equal(t, protocoltypes.RoleAssistant, out.Role)

	require.Len(t, gen.calls, 1)
	require.Len(t, gen.calls[0], 2)
	assert.Equal(t, Message{Role: protocoltypes.RoleSystem, Content: "be brief"}, gen.calls[0][0])
	assert.Equal(t, "gpt-4o-mini", gen.model)
	require.Len(t, sink.records, 1)
	assert.Equal(t, "p1", sink.records[0].profile)
}

func TestPool_NoPromptNoSystemTurn(t *testing.T) {
	gen := &fakeGenerator{response: &LLMResponse{Content: "ok"}}
	p := poolWith(gen)
	b := binding()
	b.Profile.Prompt = ""

	_, err := p.Complete(context.Background(), b, []Message{{Role: protocoltypes.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, gen.calls[0], 1)
	assert.Equal(t, protocoltypes.RoleUser, gen.calls[0][0].Role)
}

func TestPool_DecodeFailureYieldsDiagnostic(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("invalid character '<' looking for beginning of value")}
	p := poolWith(gen)

	out, err := p.Complete(context.Background(), binding(), nil)
	require.NoError(t, err)
	assert.Equal(t, DiagnosticTurn(), out)
}

func TestPool_TransportFailureIsError(t *testing.T) {
	gen := &fakeGenerator{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}}
	p := poolWith(gen)

	_, err := p.Complete(context.Background(), binding(), nil)
	assert.Error(t, err)
}

func TestPool_TimeoutIsError(t *testing.T) {
	gen := &fakeGenerator{block: true}
	p := poolWith(gen)
	p.timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := p.Complete(context.Background(), binding(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPool_CachesGeneratorPerCredential(t *testing.T) {
	built := 0
	p := NewPool(time.Second, WithFactory(func(context.Context, Binding, *http.Client) (Generator, error) {
		built++
		return &fakeGenerator{response: &LLMResponse{}}, nil
	}))

	b := binding()
	_, _ = p.Complete(context.Background(), b, nil)
	_, _ = p.Complete(context.Background(), b, nil)
	assert.Equal(t, 1, built)

	b.Profile.Token = "other"
	_, _ = p.Complete(context.Background(), b, nil)
	assert.Equal(t, 2, built)
}

func TestNewGenerator_UnsupportedProtocol(t *testing.T) {
	b := binding()
	b.Endpoint.Protocol = "grpc"
	_, err := NewGenerator(context.Background(), b, nil)
	assert.Error(t, err)
}

func TestOAuthTokenSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gw-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	assert.Nil(t, OAuthTokenSource(context.Background(), nil, nil))

	ts := OAuthTokenSource(context.Background(), &OAuth{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}, srv.Client())
	require.NotNil(t, ts)

	tok, err := ts()
	require.NoError(t, err)
	assert.Equal(t, "gw-token", tok)
}
