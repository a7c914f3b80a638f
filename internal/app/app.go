package app

import (
	"context"
	"fmt"
	"time"

	"steamwatch/internal/commands"
	"steamwatch/internal/config"
	"steamwatch/internal/digest"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/llm"
	"steamwatch/internal/meme"
	"steamwatch/internal/metrics"
	"steamwatch/internal/monitor"
	"steamwatch/internal/notifier"
	"steamwatch/internal/observability/ops"
	"steamwatch/internal/render"
	rtsup "steamwatch/internal/runtime/supervisor"
	"steamwatch/internal/steam"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	telegram "steamwatch/internal/transport/telegram/adapter"
	"steamwatch/internal/transport/telegram/router"
	logx "steamwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	// monSup owns the three monitor loops so they can stop before the notifier drains.
	monSup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	steam   *steam.Client

	sched    *monitor.Scheduler
	composer *monitor.Composer
	monitor  *monitor.Service
	notif    *notifier.Service
	digest   *digest.Service
	ops      *ops.Service
	metrics  *metrics.Metrics

	cmdm     *router.CommandManager
	handlers *commands.Handlers

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink starts disabled so Apply does not warn before the target is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(logChatTarget(cfg))
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, comp("storage"))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	loc, _ := mapLocation(cfg)
	stc, _ := mapSteamConfig(cfg)
	steamc, err := steam.New(stc, comp("steam"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	met := metrics.New()

	ncfg, _ := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, ad, comp("notifier"), bus, met)

	engine := monitor.NewEngine(nil, loc)
	rules := monitor.NewRuleStore(store, comp("rules"))
	idents := monitor.NewIdentityCache(steamc, store, time.Now, comp("identity"))

	// Collaborators stay untyped nil when unconfigured.
	var completer monitor.Completer
	if cfg.LLM.Configured() {
		lc, _ := mapLLMConfig(cfg)
		completer = llm.New(lc, comp("llm"))
	}
	mc, _ := mapMemeConfig(cfg)
	var card monitor.CardRenderer
	rc, _ := mapRenderConfig(cfg)
	if rc.Endpoint != "" {
		card = render.New(rc, comp("render"))
	}
	composer := monitor.NewComposer(mapComposerConfig(cfg), monitor.ComposerDeps{
		Engine:     engine,
		Completer:  completer,
		Meme:       meme.New(mc, comp("meme")),
		Card:       card,
		Dispatcher: notif,
		Metrics:    met,
		Log:        comp("composer"),
	})

	schedCfg, _ := mapSchedulerConfig(cfg)
	sched := monitor.NewScheduler(schedCfg, monitor.SchedulerDeps{
		Engine:     engine,
		Rules:      rules,
		Identities: idents,
		Provider:   steamc,
		Notifier:   composer,
		Alerter:    notif,
		Bus:        bus,
		Metrics:    met,
		Log:        comp("scheduler"),
	})
	mon := monitor.NewService(monitor.ServiceDeps{
		Engine:      engine,
		Rules:       rules,
		Identities:  idents,
		Scheduler:   sched,
		Store:       store,
		Credentials: steamc,
		Log:         comp("monitor"),
	})

	handlers := commands.New(commands.Deps{
		Monitor:  mon,
		Audit:    store,
		Bus:      bus,
		Location: loc,
		Log:      comp("commands"),
	})
	cmdm := router.NewCommandManager(comp("router"), ad, cfg.Telegram.OwnerUserIDs)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		steam:    steamc,
		sched:    sched,
		composer: composer,
		monitor:  mon,
		notif:    notif,
		digest:   digest.New(mapDigestConfig(cfg, loc), mon, notif, comp("digest")),
		metrics:  met,
		cmdm:     cmdm,
		handlers: handlers,
		updates:  make(chan kit.Update, 256),
	}
	a.ops = ops.New(mapOpsConfig(cfg), a.health, met.Handler(), comp("ops"))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.monSup = rtsup.NewSupervisor(a.sup.Context(),
		rtsup.WithLogger(a.log.With(logx.String("comp", "scheduler"))),
		rtsup.WithCancelOnError(false),
	)
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.monitor.Load(run); err != nil {
		return fmt.Errorf("load monitor state: %w", err)
	}

	a.notif.Start(run)
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sched.Start(a.monSup)
	if err := a.digest.Start(run); err != nil {
		return err
	}
	a.ops.Reconfigure(run, mapOpsConfig(a.cfgm.Get()))

	a.cmdm.SetRegistry(run, a.handlers.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("rules", len(a.monitor.ListRules(""))),
		logx.Bool("group_resource", a.sched.Config().GroupResource != ""),
	)
	return nil
}

// health feeds /healthz.
func (a *App) health() map[string]any {
	out := map[string]any{}
	add := func(name string, sup *rtsup.Supervisor) {
		if sup != nil {
			out[name] = sup.Snapshot()
		}
	}
	add("app", a.sup)
	add("monitor", a.monSup)
	add("notifier", a.notif.Supervisor())
	add("telegram", a.adapter.Supervisor())
	add("router", a.cmdm.Supervisor())
	out["scheduler"] = a.sched.Status()
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	routerSup := a.cmdm.Supervisor()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(stepCtx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("commands", 3*time.Second, func(c context.Context) error {
		if routerSup == nil {
			return nil
		}
		return routerSup.Wait(c)
	})
	step("monitor", 3*time.Second, func(c context.Context) error {
		a.monSup.Cancel()
		return a.monSup.Wait(c)
	})
	step("digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
