package app

import (
	"context"
	"strings"

	"steamwatch/internal/config"
	logx "steamwatch/pkg/logx"
)

// reloadLoop applies every committed config to the running components.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			ch := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if ch.Empty() {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.apply(c, newCfg, ch)
			fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) apply(c context.Context, cfg *config.Config, ch config.Change) {
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config change needs a restart to take effect",
			logx.String("fields", strings.Join(ch.RestartRequired, ",")))
	}
	changed := map[string]bool{}
	for _, s := range ch.Sections {
		changed[s] = true
	}

	if changed["logging"] || changed["telegram"] {
		// Target first so Apply doesn't warn about an enabled sink without a chat.
		a.logs.SetChatTarget(logChatTarget(cfg))
		a.logs.Apply(mapLogConfig(cfg))
	}
	if changed["telegram"] {
		a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	}
	if changed["telegram"] || changed["notify"] {
		if ncfg, err := mapNotifierConfig(cfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}
	if changed["notify"] || changed["llm"] {
		a.composer.SetConfig(mapComposerConfig(cfg))
	}
	if changed["steam"] {
		if creds := configCredentials(cfg); !creds.Empty() {
			a.steam.SetCredentials(creds)
		}
	}
	if changed["monitor"] || changed["steam"] {
		if sc, err := mapSchedulerConfig(cfg); err != nil {
			a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
		} else {
			a.sched.SetConfig(sc)
		}
	}
	if changed["digest"] {
		loc, err := mapLocation(cfg)
		if err != nil {
			a.log.Warn("invalid timezone; keeping previous digest config", logx.Err(err))
		} else if err := a.digest.Apply(mapDigestConfig(cfg, loc)); err != nil {
			a.log.Warn("digest reschedule failed", logx.Err(err))
		}
	}
	if changed["ops"] {
		a.ops.Reconfigure(c, mapOpsConfig(cfg))
	}
}
