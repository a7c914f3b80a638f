package config

import (
	"reflect"
	"sort"
	"strings"

	logx "steamwatch/pkg/logx"
)

// Change describes a reload: the changed sections, safe log attrs (never
// secrets) and whether any changed field needs a process restart.
type Change struct {
	Sections        []string
	Attrs           []logx.Field
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}
	secretSet := func(s string) bool { return strings.TrimSpace(s) != "" }

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.token")
	}
	if ot.PollTimeout != nt.PollTimeout || ot.LogChat != nt.LogChat ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		!reflect.DeepEqual(ot.AdminTargets, nt.AdminTargets) || ot.Token != nt.Token {
		mark("telegram",
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.admin_target_count", len(nt.AdminTargets)),
			logx.Bool("telegram.log_chat_set", nt.LogChat != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	oSt, nSt := oldCfg.Steam, newCfg.Steam
	if oSt.GroupProfileURL != nSt.GroupProfileURL || oSt.ProxyURL != nSt.ProxyURL ||
		oSt.RequestTimeout != nSt.RequestTimeout || oSt.UserAgent != nSt.UserAgent ||
		oSt.LoginSecureCookie != nSt.LoginSecureCookie || oSt.SessionIDCookie != nSt.SessionIDCookie {
		mark("steam",
			logx.Bool("steam.group_profile_set", nSt.GroupProfileURL != ""),
			logx.Bool("steam.proxy_set", nSt.ProxyURL != ""),
			logx.String("steam.request_timeout", nSt.RequestTimeout),
			logx.Bool("steam.cookies_set", secretSet(nSt.LoginSecureCookie)),
		)
	}

	if oSt.ProxyURL != nSt.ProxyURL || oSt.RequestTimeout != nSt.RequestTimeout || oSt.UserAgent != nSt.UserAgent {
		ch.RestartRequired = append(ch.RestartRequired, "steam.transport")
	}

	if !reflect.DeepEqual(oldCfg.Monitor, newCfg.Monitor) {
		nm := newCfg.Monitor
		if oldCfg.Monitor.Timezone != nm.Timezone {
			ch.RestartRequired = append(ch.RestartRequired, "monitor.timezone")
		}
		mark("monitor",
			logx.String("monitor.group_interval", nm.GroupInterval),
			logx.String("monitor.ingame", nm.Individual.InGame),
			logx.String("monitor.online", nm.Individual.Online),
			logx.String("monitor.offline", nm.Individual.Offline),
			logx.String("monitor.reresolve_interval", nm.ReresolveInterval),
			logx.String("monitor.timezone", nm.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		nn := newCfg.Notify
		mark("notify",
			logx.Bool("notify.llm_enabled", nn.LLMEnabledOrDefault()),
			logx.Bool("notify.image_enabled", nn.ImageEnabled),
			logx.Int("notify.rate_per_sec", nn.RatePerSec),
			logx.Int("notify.workers", nn.Workers),
		)
		if oldCfg.Notify.Workers != nn.Workers || oldCfg.Notify.QueueSize != nn.QueueSize {
			ch.RestartRequired = append(ch.RestartRequired, "notify.workers/queue_size")
		}
	}

	ol, nl := oldCfg.LLM, newCfg.LLM
	if ol.BaseURL != nl.BaseURL || ol.Model != nl.Model || ol.Timeout != nl.Timeout ||
		ol.MaxTokens != nl.MaxTokens || ol.APIKey != nl.APIKey {
		mark("llm",
			logx.Bool("llm.base_url_set", nl.BaseURL != ""),
			logx.String("llm.model", nl.Model),
			logx.Bool("llm.api_key_set", secretSet(nl.APIKey)),
		)
		ch.RestartRequired = append(ch.RestartRequired, "llm")
	}
	if oldCfg.Meme != newCfg.Meme {
		mark("meme", logx.String("meme.base_url", newCfg.Meme.BaseURL))
		ch.RestartRequired = append(ch.RestartRequired, "meme")
	}
	if oldCfg.Render != newCfg.Render {
		mark("render", logx.Bool("render.endpoint_set", newCfg.Render.Endpoint != ""))
		ch.RestartRequired = append(ch.RestartRequired, "render")
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", newCfg.Storage.Path != ""),
		)
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}

	if oldCfg.Digest != newCfg.Digest {
		mark("digest",
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", newCfg.Digest.Schedule),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Enabled != no.Enabled || oo.Addr != no.Addr || oo.AllowInsecure != no.AllowInsecure ||
		oo.Pprof != no.Pprof || oo.Token != no.Token {
		mark("ops",
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.token_set", secretSet(no.Token)),
			logx.Bool("ops.pprof", no.Pprof),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}
