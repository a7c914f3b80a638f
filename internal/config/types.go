package config

import (
	"strings"
)

// Config is the root document (config.json or config.yaml).
//
// All durations are Go duration strings (e.g. "500ms", "2m", "24h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Steam    SteamConfig    `json:"steam"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notify   NotifyConfig   `json:"notify"`
	LLM      LLMConfig      `json:"llm"`
	Meme     MemeConfig     `json:"meme"`
	Render   RenderConfig   `json:"render"`
	Storage  StorageConfig  `json:"storage"`
	Digest   DigestConfig   `json:"digest"`
	Ops      OpsConfig      `json:"ops"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AdminTargets receive access-denied alerts ("chat_id" or "chat_id:thread_id").
	AdminTargets []string `json:"admin_targets,omitempty"`
	// LogChat receives WARN+ log lines when logging.chat is enabled.
	LogChat     string `json:"log_chat,omitempty"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SteamConfig configures the community-page status provider.
//
// Cookies are optional; without them only public friend lists can be read.
type SteamConfig struct {
	GroupProfileURL   string `json:"group_profile_url"`
	LoginSecureCookie string `json:"login_secure_cookie,omitempty"` // do not log
	SessionIDCookie   string `json:"session_id_cookie,omitempty"`   // do not log
	ProxyURL          string `json:"proxy_url,omitempty"`
	RequestTimeout    string `json:"request_timeout,omitempty"` // default 15s
	UserAgent         string `json:"user_agent,omitempty"`
}

type MonitorConfig struct {
	Timezone          string           `json:"timezone,omitempty"`
	GroupInterval     string           `json:"group_interval"`
	Individual        IndividualConfig `json:"individual"`
	ReresolveInterval string           `json:"reresolve_interval"`
	// FetchConcurrency bounds concurrent per-entity fetches in one individual pass.
	FetchConcurrency int `json:"fetch_concurrency,omitempty"`
}

// IndividualConfig holds the adaptive polling tiers.
type IndividualConfig struct {
	InGame  string `json:"ingame"`
	Online  string `json:"online"`
	Offline string `json:"offline"`
}

type NotifyConfig struct {
	// LLMEnabled is a pointer so an omitted key keeps the enabled default.
	LLMEnabled   *bool  `json:"llm_enabled,omitempty"`
	ImageEnabled bool   `json:"image_enabled"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
}

// LLMEnabledOrDefault reports the effective enrichment toggle.
func (n NotifyConfig) LLMEnabledOrDefault() bool {
	if n.LLMEnabled == nil {
		return true
	}
	return *n.LLMEnabled
}

// LLMConfig points at an OpenAI-compatible chat completion API.
type LLMConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	APIKey    string `json:"api_key,omitempty"` // do not log
	Model     string `json:"model,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (c LLMConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.BaseURL) != ""
}

type MemeConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default http://127.0.0.1:2233
	Timeout string `json:"timeout,omitempty"`  // per step, default 20s
}

// RenderConfig points at an HTML-to-image service. Empty endpoint disables cards.
type RenderConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Width    int    `json:"width,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/steamwatch" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "55 23 * * *"
}

// OpsConfig controls the optional health/metrics/pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback address needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
