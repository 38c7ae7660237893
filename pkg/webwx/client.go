package webwx

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/tinyland-inc/wxclaw/pkg/config"
	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/retry"
)

// DefaultExtSpam is the device attestation blob the desktop web client
// sends with every request. Servers reject logins from clients that omit it.
const DefaultExtSpam = "Go8FCIkFEokFCggwMDAwMDAwMRAGGvAESySibk50w5Wb3uTl2c2h64jVVrV7gNs06GFlWplHQbY/5FfiO++1yH4ykCyNPWKXmco+wfQzK5R98D3so7rJ5LmGFvBLjGceleySrc3SOf2Pc1gVehzJgODeS0lDL3/I/0S2SSE98YgKleq6Uqx6ndTy9yaL9qFxJL7eiA/R3SEfTaW1SBoSITIu+EEkXff+Pv8NHOk7N57rcGk1w0ZzRrQDkXTOXFN2iHYIzAAZPIOY45Lsh+A4slpgnDiaOvRtlQYCt97nmPLuTipOJ8Qc5pM7ZsOsAPPrCQL7nK0I7aPrFDF0q4ziUUKettzW8MrAaiVfmbD1/VkmLNVqqZVvBCtRblXb5FHmtS8FxnqCzYP4WFvz3T0TcrOqwLX1M/DQvcHaGGw0B0y4bZMs7lVScGBFxMj3vbFi2SRKbKhaitxHfYHAOAa0X7/MSS0RNAjdwoyGHeOepXOKY+h3iHeqCvgOH6LOifdHf/1aaZNwSkGotYnYScW8Yx63LnSwba7+hESrtPa/huRmB9KWvMCKbDThL/nne14hnL277EDCSocPu3rOSYjuB9gKSOdVmWsj9Dxb/iZIe+S6AiG29Esm+/eUacSba0k8wn5HhHg9d4tIcixrxveflc8vi2/wNQGVFNsGO6tB5WF0xf/plngOvQ1/ivGV/C1Qpdhzznh0ExAVJ6dwzNg7qIEBaw+BzTJTUuRcPk92Sn6QDn2Pu3mpONaEumacjW4w6ipPnPw+g2TfywJjeEcpSZaP4Q3YV5HG8D6UjWA4GSkBKculWpdCMadx0usMomsSS/74QgpYqcPkmamB4nVv1JxczYITIqItIKjD35IGKAUwAA=="

type ClientOptions struct {
	UserAgent     string
	ClientVersion string
	ExtSpam       string
	Proxy         string
	Timeout       time.Duration
	Retry         retry.Policy
}

// Client is the single HTTP session shared by every protocol call. The
// cookie jar persists server-assigned affinity cookies across login, init
// and sync, so one Client must be used for the whole lifetime of a session.
type Client struct {
	http  *resty.Client
	retry retry.Policy
}

func NewClient(opts ClientOptions) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	extspam := opts.ExtSpam
	if extspam == "" {
		extspam = DefaultExtSpam
	}

	rc := resty.New().
		SetCookieJar(jar).
		SetTimeout(opts.Timeout).
		SetLogger(restyLogger{}).
		SetHeaders(map[string]string{
			"extspam":        extspam,
			"client-version": opts.ClientVersion,
			"User-Agent":     opts.UserAgent,
		})
	if opts.Proxy != "" {
		rc.SetProxy(opts.Proxy)
	}

	return &Client{http: rc, retry: opts.Retry}, nil
}

// NewClientFromConfig builds a Client from the protocol section of the
// config file.
func NewClientFromConfig(cfg config.ProtocolConfig) (*Client, error) {
	return NewClient(ClientOptions{
		UserAgent:     cfg.UserAgent,
		ClientVersion: cfg.ClientVersion,
		ExtSpam:       cfg.ExtSpam,
		Proxy:         cfg.Proxy,
		Timeout:       cfg.RequestTimeout(),
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			Multiplier:  cfg.RetryMultiplier,
		},
	})
}

// get issues a GET under the retry policy. Non-2xx responses are returned
// as-is; only transport failures are retried.
func (c *Client) get(ctx context.Context, op, url string, query map[string]string) (*resty.Response, error) {
	return retry.Value(ctx, c.retry, op, func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(url)
	})
}

func (c *Client) postJSON(ctx context.Context, op, url string, query map[string]string, body any) (*resty.Response, error) {
	return retry.Value(ctx, c.retry, op, func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetHeader("Content-Type", "application/json;charset=UTF-8").
			SetBody(body).
			Post(url)
	})
}

// restyLogger routes resty's internal diagnostics into the webwx component.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	logger.ErrorCF("webwx", fmt.Sprintf(format, v...), nil)
}

func (restyLogger) Warnf(format string, v ...any) {
	logger.WarnCF("webwx", fmt.Sprintf(format, v...), nil)
}

func (restyLogger) Debugf(format string, v ...any) {
	logger.DebugCF("webwx", fmt.Sprintf(format, v...), nil)
}
