package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"steamwatch/internal/transport"
)

// Defaults applied when a field is omitted or zero.
const (
	DefaultGroupInterval     = 120 * time.Second
	DefaultInGameInterval    = 60 * time.Second
	DefaultOnlineInterval    = 300 * time.Second
	DefaultOfflineInterval   = 900 * time.Second
	DefaultReresolveInterval = 24 * time.Hour
	DefaultRequestTimeout    = 15 * time.Second
	DefaultMemeTimeout       = 20 * time.Second
	DefaultRenderTimeout     = 30 * time.Second
	DefaultLLMTimeout        = 30 * time.Second
	DefaultSendTimeout       = 10 * time.Second
	DefaultMemeBaseURL       = "http://127.0.0.1:2233"
	DefaultDigestSchedule    = "55 23 * * *"
	DefaultOpsAddr           = "127.0.0.1:6060"
)

// Environment overrides for secrets.
const (
	EnvTelegramToken    = "STEAMWATCH_TELEGRAM_TOKEN"
	EnvLLMAPIKey        = "STEAMWATCH_LLM_API_KEY"
	EnvSteamLoginSecure = "STEAMWATCH_STEAM_LOGIN_SECURE"
	EnvSteamSessionID   = "STEAMWATCH_STEAM_SESSION_ID"
)

// ApplyEnv overrides secrets from the environment. Non-empty variables win over the file.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.LLM.APIKey, EnvLLMAPIKey)
	set(&cfg.Steam.LoginSecureCookie, EnvSteamLoginSecure)
	set(&cfg.Steam.SessionIDCookie, EnvSteamSessionID)
}

// Validate checks the parts of the document that cannot be defaulted.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check("steam.request_timeout", cfg.Steam.RequestTimeout)
	check("monitor.group_interval", cfg.Monitor.GroupInterval)
	check("monitor.individual.ingame", cfg.Monitor.Individual.InGame)
	check("monitor.individual.online", cfg.Monitor.Individual.Online)
	check("monitor.individual.offline", cfg.Monitor.Individual.Offline)
	check("notify.send_timeout", cfg.Notify.SendTimeout)
	check("llm.timeout", cfg.LLM.Timeout)
	check("meme.timeout", cfg.Meme.Timeout)
	check("render.timeout", cfg.Render.Timeout)
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if _, err := ParseInterval("monitor.reresolve_interval", cfg.Monitor.ReresolveInterval, DefaultReresolveInterval); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Monitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("monitor.timezone: %w", err))
		}
	}
	if cfg.Monitor.FetchConcurrency < 0 {
		errs = append(errs, errors.New("monitor.fetch_concurrency must be >= 0"))
	}
	if u := strings.TrimSpace(cfg.Steam.GroupProfileURL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			errs = append(errs, fmt.Errorf("steam.group_profile_url: %w", err))
		}
	}
	if p := strings.TrimSpace(cfg.Steam.ProxyURL); p != "" {
		if _, err := url.Parse(p); err != nil {
			errs = append(errs, fmt.Errorf("steam.proxy_url: %w", err))
		}
	}
	for i, t := range cfg.Telegram.AdminTargets {
		if _, err := transport.ParseTarget(t); err != nil {
			errs = append(errs, fmt.Errorf("telegram.admin_targets[%d]: %w", i, err))
		}
	}
	if lc := strings.TrimSpace(cfg.Telegram.LogChat); lc != "" {
		if _, err := transport.ParseTarget(lc); err != nil {
			errs = append(errs, fmt.Errorf("telegram.log_chat: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Ops.Enabled {
		addr := strings.TrimSpace(cfg.Ops.Addr)
		if addr == "" {
			addr = DefaultOpsAddr
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("ops.addr: %w", err))
		} else if !isLoopbackHost(host) && strings.TrimSpace(cfg.Ops.Token) == "" && !cfg.Ops.AllowInsecure {
			errs = append(errs, errors.New("ops.addr is not loopback: set ops.token or ops.allow_insecure"))
		}
	}
	return errors.Join(errs...)
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(host)
	if h == "" {
		// ":6060" binds every interface.
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
