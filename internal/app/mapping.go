package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/digest"
	"steamwatch/internal/llm"
	"steamwatch/internal/meme"
	"steamwatch/internal/model"
	"steamwatch/internal/monitor"
	"steamwatch/internal/notifier"
	"steamwatch/internal/observability/ops"
	"steamwatch/internal/render"
	"steamwatch/internal/steam"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

const defaultStoragePath = "./data/steamwatch"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// logChatTarget returns the zero target when telegram.log_chat is unset.
func logChatTarget(cfg *config.Config) kit.ChatTarget {
	raw := strings.TrimSpace(cfg.Telegram.LogChat)
	if raw == "" {
		return kit.ChatTarget{}
	}
	t, err := kit.ParseTarget(raw)
	if err != nil {
		return kit.ChatTarget{}
	}
	return t
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = defaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultStoragePath + ".db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: filepath.Clean(path), BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSteamConfig(cfg *config.Config) (steam.Config, error) {
	timeout, err := config.ParseDurationOrDefault("steam.request_timeout", cfg.Steam.RequestTimeout, config.DefaultRequestTimeout)
	if err != nil {
		return steam.Config{}, err
	}
	return steam.Config{
		ProxyURL:    cfg.Steam.ProxyURL,
		Timeout:     timeout,
		UserAgent:   cfg.Steam.UserAgent,
		Credentials: configCredentials(cfg),
	}, nil
}

func configCredentials(cfg *config.Config) model.Credentials {
	return model.Credentials{
		LoginSecure: strings.TrimSpace(cfg.Steam.LoginSecureCookie),
		SessionID:   strings.TrimSpace(cfg.Steam.SessionIDCookie),
	}
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Monitor.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("monitor.timezone: %w", err)
	}
	return loc, nil
}

func mapSchedulerConfig(cfg *config.Config) (monitor.SchedulerConfig, error) {
	m := cfg.Monitor
	group, err := config.ParseDurationOrDefault("monitor.group_interval", m.GroupInterval, config.DefaultGroupInterval)
	if err != nil {
		return monitor.SchedulerConfig{}, err
	}
	inGame, err := config.ParseDurationOrDefault("monitor.individual.ingame", m.Individual.InGame, config.DefaultInGameInterval)
	if err != nil {
		return monitor.SchedulerConfig{}, err
	}
	online, err := config.ParseDurationOrDefault("monitor.individual.online", m.Individual.Online, config.DefaultOnlineInterval)
	if err != nil {
		return monitor.SchedulerConfig{}, err
	}
	offline, err := config.ParseDurationOrDefault("monitor.individual.offline", m.Individual.Offline, config.DefaultOfflineInterval)
	if err != nil {
		return monitor.SchedulerConfig{}, err
	}

	reresolve, err := config.ParseInterval("monitor.reresolve_interval", m.ReresolveInterval, config.DefaultReresolveInterval)
	if err != nil {
		return monitor.SchedulerConfig{}, err
	}

	var resource string
	if u := strings.TrimSpace(cfg.Steam.GroupProfileURL); u != "" {
		resource = steam.ProfileURL(steam.Normalize(u))
	}
	return monitor.SchedulerConfig{
		GroupResource:     resource,
		GroupInterval:     group,
		Tiers:             monitor.Tiers{InGame: inGame, Online: online, Offline: offline},
		ReresolveInterval: reresolve,
		FetchConcurrency:  m.FetchConcurrency,
	}, nil
}

func mapComposerConfig(cfg *config.Config) monitor.ComposerConfig {
	return monitor.ComposerConfig{
		LLMEnabled:   cfg.Notify.LLMEnabledOrDefault() && cfg.LLM.Configured(),
		ImageEnabled: cfg.Notify.ImageEnabled,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	timeout, err := config.ParseDurationOrDefault("notify.send_timeout", cfg.Notify.SendTimeout, config.DefaultSendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	admins := make([]kit.ChatTarget, 0, len(cfg.Telegram.AdminTargets))
	for i, raw := range cfg.Telegram.AdminTargets {
		t, err := kit.ParseTarget(raw)
		if err != nil {
			return notifier.Config{}, fmt.Errorf("telegram.admin_targets[%d]: %w", i, err)
		}
		admins = append(admins, t)
	}
	return notifier.Config{
		Workers:      cfg.Notify.Workers,
		QueueSize:    cfg.Notify.QueueSize,
		RatePerSec:   cfg.Notify.RatePerSec,
		SendTimeout:  timeout,
		AdminTargets: admins,
	}, nil
}

func mapLLMConfig(cfg *config.Config) (llm.Config, error) {
	timeout, err := config.ParseDurationOrDefault("llm.timeout", cfg.LLM.Timeout, config.DefaultLLMTimeout)
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		Timeout:   timeout,
		MaxTokens: cfg.LLM.MaxTokens,
	}, nil
}

func mapMemeConfig(cfg *config.Config) (meme.Config, error) {
	timeout, err := config.ParseDurationOrDefault("meme.timeout", cfg.Meme.Timeout, config.DefaultMemeTimeout)
	if err != nil {
		return meme.Config{}, err
	}
	base := strings.TrimSpace(cfg.Meme.BaseURL)
	if base == "" {
		base = config.DefaultMemeBaseURL
	}
	return meme.Config{BaseURL: base, Timeout: timeout}, nil
}

func mapRenderConfig(cfg *config.Config) (render.Config, error) {
	timeout, err := config.ParseDurationOrDefault("render.timeout", cfg.Render.Timeout, config.DefaultRenderTimeout)
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{Endpoint: strings.TrimSpace(cfg.Render.Endpoint), Timeout: timeout, Width: cfg.Render.Width}, nil
}

func mapDigestConfig(cfg *config.Config, loc *time.Location) digest.Config {
	schedule := strings.TrimSpace(cfg.Digest.Schedule)
	if schedule == "" {
		schedule = config.DefaultDigestSchedule
	}
	return digest.Config{Enabled: cfg.Digest.Enabled, Schedule: schedule, Location: loc}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	addr := strings.TrimSpace(cfg.Ops.Addr)
	if addr == "" {
		addr = config.DefaultOpsAddr
	}
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		ReadTimeout:   10 * time.Second,
		// pprof profile/trace stream for up to 30s by default.
		WriteTimeout: 60 * time.Second,
	}
}

// validate runs every mapping so a reload is rejected before commit.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSteamConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLLMConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMemeConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRenderConfig(cfg); err != nil {
		return err
	}
	if cfg.Digest.Enabled {
		if err := digest.Validate(mapDigestConfig(cfg, time.Local).Schedule); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}
	return nil
}
