package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wxclaw/pkg/config"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/retry"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/webwx"
	"github.com/tinyland-inc/wxclaw/pkg/webwx/webwxtest"
)

const contacts = `{"BaseResponse":{"Ret":0,"ErrMsg":""},"MemberCount":2,"MemberList":[
	{"UserName":"@alice-new","NickName":"Alice","PYQuanPin":"alice","HeadImgUrl":"/icon/a"},
	{"UserName":"@@room","NickName":"Room","PYQuanPin":"room","HeadImgUrl":"/icon/r"}
]}`

func completionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1].Content
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "c1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "re: " + last},
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Status.Enabled = false
	cfg.Sync.IntervalMS = 1
	cfg.Login.PollIntervalMS = 1
	cfg.Contacts.FetchAvatars = false
	return cfg
}

func newApp(t *testing.T, srv *webwxtest.Server) *App {
	t.Helper()
	client, err := webwx.NewClient(webwx.ClientOptions{
		UserAgent: "wxclaw-test",
		Timeout:   5 * time.Second,
		Retry:     retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2},
	})
	require.NoError(t, err)

	app, err := New(testConfig(t),
		WithClient(client),
		WithManagerOptions(webwx.ManagerOptions{
			LoginBaseURL:  srv.URL,
			CheckBaseURL:  srv.URL,
			Hosts:         webwx.HostTable{srv.Host(): {File: srv.Host(), Sync: srv.Host()}},
			PollInterval:  time.Millisecond,
			MaxQRReissues: 1,
		}),
	)
	require.NoError(t, err)
	return app
}

func seedRules(t *testing.T, app *App, llmURL string) {
	t.Helper()
	_, err := app.Store.Endpoints().Create(providers.Endpoint{ID: "llm", URL: llmURL + "/v1", Protocol: providers.ProtocolOpenAI})
	require.NoError(t, err)
	_, err = app.Store.Profiles().Create(providers.Profile{ID: "helper", Source: "llm", Token: "sk-test", Model: "test-model"})
	require.NoError(t, err)
	_, err = app.Store.Groups().Create(rules.Group{ID: "friends", Members: []rules.Member{{UserName: "@alice-old", Key: "alice"}}})
	require.NoError(t, err)
	_, err = app.Store.Rules().Create(rules.Rule{
		ID: "price", Name: "price", Enabled: true, GroupID: rules.GroupAll,
		Replies: []rules.Reply{{Type: rules.ReplyTemplate, Keywords: []string{"price"}, Content: "10 yuan"}},
	})
	require.NoError(t, err)
	_, err = app.Store.Rules().Create(rules.Rule{
		ID: "chat", Name: "chat", Enabled: true, GroupID: "friends",
		Replies: []rules.Reply{{Type: rules.ReplyGenerate, ProfileID: "helper"}},
	})
	require.NoError(t, err)
}

func TestApp_RunEndToEnd(t *testing.T) {
	llm := completionServer(t)
	srv := webwxtest.NewServer()
	defer srv.Close()

	srv.SetScanCodes("408", "201", "200")
	srv.SetContacts(contacts)
	srv.SetSyncChecks(
		webwxtest.SyncCheckBody("0", "2"),
		webwxtest.SyncCheckBody("1102", "0"),
	)
	srv.SetSyncBodies(webwxtest.SyncBody(0, [][2]int64{{1, 101}},
		webwxtest.TextTo("m1", "@alice-new", "what is the price"),
		webwxtest.TextTo("m2", "@alice-new", "how are you"),
		webwxtest.TextTo("m3", "@stranger", "how are you"),
	))

	app := newApp(t, srv)
	seedRules(t, app, llm.URL)

	var qrPath string
	err := app.Run(context.Background(), func(qr *webwx.QRCode) {
		p, err := app.SaveQR(qr)
		require.NoError(t, err)
		qrPath = p
	})
	require.ErrorIs(t, err, webwx.ErrSessionInvalid)

	data, err := os.ReadFile(qrPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	sent := srv.Sent()
	require.Len(t, sent, 4)
	assert.Equal(t, webwxtest.Sent{From: webwxtest.SelfUserName, To: "@alice-new", Content: "10 yuan", Skey: webwxtest.SKey}, sent[0])
	assert.Equal(t, "filehelper", sent[1].To)
	assert.Equal(t, "@alice-new", sent[2].To)
	assert.Equal(t, "re: how are you", sent[2].Content)
	assert.Equal(t, "filehelper", sent[3].To)

	g, err := app.Store.Groups().Get("friends")
	require.NoError(t, err)
	assert.Equal(t, "@alice-new", g.Members[0].UserName, "members rebound by key after login")

	assert.Len(t, app.History.Get("@alice-new"), 4)
	assert.Equal(t, webwx.StateInvalid, app.Manager.State())
	assert.False(t, app.Ready())

	snap := app.Snapshot()
	assert.Equal(t, "invalid", snap.State)
	require.NotNil(t, snap.Sync)
	assert.Equal(t, 1, snap.Sync.Generation)
	assert.Equal(t, int64(1), snap.Meters.Profiles["helper"].Calls)
	assert.Equal(t, int64(5), snap.Meters.Profiles["helper"].TotalTokens)
	assert.Equal(t, int64(1), snap.Meters.Rules["price"].Hits)
	assert.Equal(t, int64(1), snap.Meters.Rules["chat"].Hits)
	assert.Equal(t, 3, snap.Contacts, "two contacts plus self")
}

func TestApp_PeersExcludeSelf(t *testing.T) {
	srv := webwxtest.NewServer()
	defer srv.Close()
	srv.SetContacts(contacts)

	app := newApp(t, srv)
	_, err := app.Login(context.Background(), nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"@alice-new", "@@room"}, app.Peers(rules.Group{ID: rules.GroupAll}))
	assert.Equal(t, []string{"@@room"}, app.Peers(rules.Group{ID: rules.GroupAllClassroom}))
	assert.True(t, app.Ready())
}

func TestApp_ScheduledSendRequiresSession(t *testing.T) {
	srv := webwxtest.NewServer()
	defer srv.Close()
	app := newApp(t, srv)

	err := sessionSender{app}.SendText(context.Background(), "@alice", "hi")
	assert.ErrorIs(t, err, webwx.ErrNotLoggedIn)
}

func TestApp_ShutdownLogsOut(t *testing.T) {
	srv := webwxtest.NewServer()
	defer srv.Close()
	srv.SetContacts(contacts)
	app := newApp(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, nil) }()

	require.Eventually(t, app.Ready, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, webwx.StateUnauthenticated, app.Manager.State())
	assert.Nil(t, app.Manager.Session())
}

func TestApp_LoginFetchesAvatarsInBackground(t *testing.T) {
	srv := webwxtest.NewServer()
	defer srv.Close()
	srv.SetContacts(contacts)
	srv.SetAvatarDelay(50 * time.Millisecond)

	client, err := webwx.NewClient(webwx.ClientOptions{UserAgent: "wxclaw-test", Timeout: 5 * time.Second})
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Contacts.FetchAvatars = true
	app, err := New(cfg, WithClient(client), WithManagerOptions(webwx.ManagerOptions{
		LoginBaseURL: srv.URL,
		CheckBaseURL: srv.URL,
		Hosts:        webwx.HostTable{srv.Host(): {File: srv.Host(), Sync: srv.Host()}},
		PollInterval: time.Millisecond,
	}))
	require.NoError(t, err)

	_, err = app.Login(context.Background(), nil)
	require.NoError(t, err)
	entries, _ := os.ReadDir(cfg.AvatarPath())
	assert.Empty(t, entries, "login returns before avatars are written")

	app.avatars.Wait()
	entries, err = os.ReadDir(cfg.AvatarPath())
	require.NoError(t, err)
	assert.Len(t, entries, 3, "two contacts plus self")
}
