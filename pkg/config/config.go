package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
)

type Config struct {
	DataDir  string         `env:"WXCLAW_DATA_DIR"  json:"data_dir"`
	LogLevel string         `env:"WXCLAW_LOG_LEVEL" json:"log_level,omitempty"`
	LogFile  string         `env:"WXCLAW_LOG_FILE"  json:"log_file,omitempty"`
	Protocol ProtocolConfig `json:"protocol"`
	Login    LoginConfig    `json:"login"`
	Sync     SyncConfig     `json:"sync"`
	Contacts ContactsConfig `json:"contacts"`
	Status   StatusConfig   `json:"status"`
}

// ProtocolConfig controls the shared HTTP session used for every
// protocol call.
type ProtocolConfig struct {
	AppID                 string  `env:"WXCLAW_PROTOCOL_APP_ID"                  json:"app_id"`
	LoginBaseURL          string  `env:"WXCLAW_PROTOCOL_LOGIN_BASE_URL"          json:"login_base_url"`
	CheckBaseURL          string  `env:"WXCLAW_PROTOCOL_CHECK_BASE_URL"          json:"check_base_url"`
	UserAgent             string  `env:"WXCLAW_PROTOCOL_USER_AGENT"              json:"user_agent"`
	ClientVersion         string  `env:"WXCLAW_PROTOCOL_CLIENT_VERSION"          json:"client_version"`
	ExtSpam               string  `env:"WXCLAW_PROTOCOL_EXTSPAM"                 json:"extspam,omitempty"`
	Proxy                 string  `env:"WXCLAW_PROTOCOL_PROXY"                   json:"proxy,omitempty"`
	RequestTimeoutSeconds int     `env:"WXCLAW_PROTOCOL_REQUEST_TIMEOUT_SECONDS" json:"request_timeout_seconds"`
	RetryAttempts         int     `env:"WXCLAW_PROTOCOL_RETRY_ATTEMPTS"          json:"retry_attempts"`
	RetryBaseDelayMS      int     `env:"WXCLAW_PROTOCOL_RETRY_BASE_DELAY_MS"     json:"retry_base_delay_ms"`
	RetryMultiplier       float64 `env:"WXCLAW_PROTOCOL_RETRY_MULTIPLIER"        json:"retry_multiplier"`
}

type LoginConfig struct {
	MaxQRReissues  int `env:"WXCLAW_LOGIN_MAX_QR_REISSUES"  json:"max_qr_reissues"`
	PollIntervalMS int `env:"WXCLAW_LOGIN_POLL_INTERVAL_MS" json:"poll_interval_ms"`
}

type SyncConfig struct {
	IntervalMS               int    `env:"WXCLAW_SYNC_INTERVAL_MS"                json:"interval_ms"`
	StallTimeoutSeconds      int    `env:"WXCLAW_SYNC_STALL_TIMEOUT_SECONDS"      json:"stall_timeout_seconds"`
	GenerationTimeoutSeconds int    `env:"WXCLAW_SYNC_GENERATION_TIMEOUT_SECONDS" json:"generation_timeout_seconds"`
	HistorySize              int    `env:"WXCLAW_SYNC_HISTORY_SIZE"               json:"history_size"`
	SelfNotesPeer            string `env:"WXCLAW_SYNC_SELF_NOTES_PEER"            json:"self_notes_peer"`
}

type ContactsConfig struct {
	FetchAvatars      bool `env:"WXCLAW_CONTACTS_FETCH_AVATARS"      json:"fetch_avatars"`
	AvatarConcurrency int  `env:"WXCLAW_CONTACTS_AVATAR_CONCURRENCY" json:"avatar_concurrency"`
}

type StatusConfig struct {
	Enabled bool   `env:"WXCLAW_STATUS_ENABLED" json:"enabled"`
	Host    string `env:"WXCLAW_STATUS_HOST"    json:"host"`
	Port    int    `env:"WXCLAW_STATUS_PORT"    json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:  "~/.wxclaw",
		LogLevel: "info",
		Protocol: ProtocolConfig{
			AppID:                 "wx782c26e4c19acffb",
			LoginBaseURL:          "https://login.wx.qq.com",
			CheckBaseURL:          "https://login.weixin.qq.com",
			UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
			ClientVersion:         "2.0.0",
			RequestTimeoutSeconds: 35,
			RetryAttempts:         3,
			RetryBaseDelayMS:      1000,
			RetryMultiplier:       2,
		},
		Login: LoginConfig{
			MaxQRReissues:  3,
			PollIntervalMS: 1000,
		},
		Sync: SyncConfig{
			IntervalMS:               1000,
			StallTimeoutSeconds:      60,
			GenerationTimeoutSeconds: 30,
			HistorySize:              10,
			SelfNotesPeer:            "filehelper",
		},
		Contacts: ContactsConfig{
			FetchAvatars:      true,
			AvatarConcurrency: 10,
		},
		Status: StatusConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18790,
		},
	}
}

// LoadConfig reads path over the defaults, then applies WXCLAW_*
// environment overrides. A missing file yields the defaults. The file
// may contain comments and trailing commas.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Protocol.RetryAttempts < 1 {
		return errors.New("protocol.retry_attempts must be at least 1")
	}
	if c.Sync.HistorySize < 2 || c.Sync.HistorySize%2 != 0 {
		return fmt.Errorf("sync.history_size must be an even number >= 2, got %d", c.Sync.HistorySize)
	}
	if c.Sync.StallTimeoutSeconds <= 0 {
		return errors.New("sync.stall_timeout_seconds must be positive")
	}
	if c.Contacts.AvatarConcurrency < 1 {
		return errors.New("contacts.avatar_concurrency must be at least 1")
	}
	return nil
}

func (c *Config) DataPath() string {
	return expandHome(c.DataDir)
}

func (c *Config) StorePath() string {
	return filepath.Join(c.DataPath(), "data")
}

func (c *Config) AvatarPath() string {
	return filepath.Join(c.DataPath(), "image", "avatar")
}

func (c *Config) QRCodePath() string {
	return filepath.Join(c.DataPath(), "image", "code", "qr_code.jpg")
}

func (p ProtocolConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

func (p ProtocolConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMS) * time.Millisecond
}

func (l LoginConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalMS) * time.Millisecond
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

func (s SyncConfig) StallTimeout() time.Duration {
	return time.Duration(s.StallTimeoutSeconds) * time.Second
}

func (s SyncConfig) GenerationTimeout() time.Duration {
	return time.Duration(s.GenerationTimeoutSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
