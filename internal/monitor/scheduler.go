package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"steamwatch/internal/eventbus"
	"steamwatch/internal/metrics"
	"steamwatch/internal/model"
	"steamwatch/internal/runtime/supervisor"
	logx "steamwatch/pkg/logx"
)

const (
	LoopGroup      = "group"
	LoopIndividual = "individual"
	LoopCache      = "cache"
)

// AccessDeniedAlert is sent to admins when the group friend list is forbidden.
const AccessDeniedAlert = "⚠️ steamwatch: friend list access denied (403). " +
	"Check that the group profile's friend list is visible or refresh the cookies with /steam update_cookies."

var ErrNoGroupResource = errors.New("no group profile configured")

// StatusProvider observes entities.
type StatusProvider interface {
	FetchGroupSnapshot(ctx context.Context, groupResource string) (*model.Snapshot, error)
	FetchEntityStatus(ctx context.Context, entityID string) (model.Status, error)
}

// Notifier receives every transition event after the pass that produced it.
type Notifier interface {
	Notify(ctx context.Context, r model.Rule, ev Event)
}

// Alerter reaches the operators.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// SchedulerConfig is hot-swappable via SetConfig.
type SchedulerConfig struct {
	GroupResource     string
	GroupInterval     time.Duration
	Tiers             Tiers
	ReresolveInterval time.Duration
	FetchConcurrency  int

	GroupDelay      time.Duration
	IndividualDelay time.Duration
	CacheDelay      time.Duration
	ResolvePause    time.Duration
	ForbiddenFactor int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.GroupInterval, 120*time.Second)
	def(&c.Tiers.InGame, 60*time.Second)
	def(&c.Tiers.Online, 300*time.Second)
	def(&c.Tiers.Offline, 900*time.Second)
	def(&c.GroupDelay, 5*time.Second)
	def(&c.IndividualDelay, 10*time.Second)
	def(&c.CacheDelay, 60*time.Second)
	def(&c.ResolvePause, 2*time.Second)
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.ForbiddenFactor <= 0 {
		c.ForbiddenFactor = 5
	}
	return c
}

type PassResult struct {
	Loop        string
	Rules       int
	Mutated     int
	Transitions int
	Skipped     bool
	Took        time.Duration
}

// SchedulerStatus is a point-in-time view for operators.
type SchedulerStatus struct {
	Rules              map[model.Mode]int
	LastGroupPass      time.Time
	LastIndividualPass time.Time
	LastSweep          time.Time
	GroupBackoff       bool
	IndividualTier     time.Duration
	SnapshotEntities   int
	SnapshotAt         time.Time
}

type SchedulerDeps struct {
	Engine     *Engine
	Rules      *RuleStore
	Identities *IdentityCache
	Provider   StatusProvider
	Notifier   Notifier
	Alerter    Alerter
	Bus        eventbus.Bus
	Metrics    *metrics.Metrics
	Log        logx.Logger
}

// Scheduler runs the group, individual and cache loops. Each loop is the only
// writer for the rules of its mode; manual passes take the same per-loop lock.
type Scheduler struct {
	cfg atomic.Pointer[SchedulerConfig]

	engine   *Engine
	rules    *RuleStore
	idents   *IdentityCache
	provider StatusProvider
	notifier Notifier
	alerter  Alerter
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	log      logx.Logger

	snapshot atomic.Pointer[model.Snapshot]

	groupMu sync.Mutex
	indivMu sync.Mutex
	cacheMu sync.Mutex

	lastGroup    atomic.Int64
	lastIndiv    atomic.Int64
	lastSweep    atomic.Int64
	groupBackoff atomic.Bool
	tier         atomic.Int64

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewScheduler(cfg SchedulerConfig, d SchedulerDeps) *Scheduler {
	s := &Scheduler{
		engine:   d.Engine,
		rules:    d.Rules,
		idents:   d.Identities,
		provider: d.Provider,
		notifier: d.Notifier,
		alerter:  d.Alerter,
		bus:      d.Bus,
		metrics:  d.Metrics,
		log:      d.Log,
		sleep:    sleepCtx,
	}
	if s.engine == nil {
		s.engine = NewEngine(nil, nil)
	}
	s.SetConfig(cfg)
	return s
}

func (s *Scheduler) SetConfig(cfg SchedulerConfig) {
	c := cfg.withDefaults()
	s.cfg.Store(&c)
}

func (s *Scheduler) Config() SchedulerConfig { return *s.cfg.Load() }

// LatestSnapshot is the last successful group snapshot, or nil.
func (s *Scheduler) LatestSnapshot() *model.Snapshot { return s.snapshot.Load() }

// Start launches the three loops under sup.
func (s *Scheduler) Start(sup *supervisor.Supervisor) {
	sup.Go0("monitor.group", s.groupLoop)
	sup.Go0("monitor.individual", s.individualLoop)
	sup.Go0("monitor.cache", s.cacheLoop)
}

func (s *Scheduler) groupLoop(ctx context.Context) {
	if !s.sleep(ctx, s.Config().GroupDelay) {
		return
	}
	for {
		cfg := s.Config()
		wait := cfg.GroupInterval
		_, err := s.safePass(ctx, LoopGroup, s.RunGroupPass)
		forbidden := errors.Is(err, model.ErrForbidden)
		s.groupBackoff.Store(forbidden)
		if forbidden {
			wait *= time.Duration(cfg.ForbiddenFactor)
		}
		if !s.sleep(ctx, wait) {
			return
		}
	}
}

func (s *Scheduler) individualLoop(ctx context.Context) {
	if !s.sleep(ctx, s.Config().IndividualDelay) {
		return
	}
	for {
		cfg := s.Config()
		rules := s.rules.Snapshot(model.ModeIndividual)
		wait := cfg.Tiers.Online
		if len(rules) > 0 {
			wait = cfg.Tiers.Next(rules)
		}
		s.tier.Store(int64(wait))
		s.metrics.SetTier(wait)
		s.log.Debug("next individual pass scheduled", logx.Duration("in", wait), logx.Int("rules", len(rules)))
		if !s.sleep(ctx, wait) {
			return
		}
		if len(rules) == 0 {
			continue
		}
		if _, err := s.safePass(ctx, LoopIndividual, s.RunIndividualPass); err != nil && ctx.Err() == nil {
			if !s.sleep(ctx, cfg.Tiers.Online) {
				return
			}
		}
	}
}

func (s *Scheduler) cacheLoop(ctx context.Context) {
	if s.Config().ReresolveInterval <= 0 {
		s.log.Info("identity re-resolution disabled")
		return
	}
	if !s.sleep(ctx, s.Config().CacheDelay) {
		return
	}
	for {
		iv := s.Config().ReresolveInterval
		if iv <= 0 {
			s.log.Info("identity re-resolution disabled")
			return
		}
		_, _ = s.safePass(ctx, LoopCache, s.RunCacheSweep)
		if !s.sleep(ctx, iv/2) {
			return
		}
	}
}

// safePass runs one pass with panic recovery and records its outcome.
func (s *Scheduler) safePass(ctx context.Context, loop string, pass func(context.Context) (PassResult, error)) (res PassResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s pass panic: %v", loop, r)
			s.log.Error("pass panicked", logx.String("loop", loop), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		s.record(loop, res, err)
	}()
	return pass(ctx)
}

func (s *Scheduler) record(loop string, res PassResult, err error) {
	result := "ok"
	switch {
	case res.Skipped && err == nil:
		result = "skipped"
	case errors.Is(err, model.ErrForbidden):
		result = "forbidden"
	case errors.Is(err, model.ErrUnavailable):
		result = "unavailable"
	case errors.Is(err, context.Canceled):
		result = "canceled"
	case err != nil:
		result = "error"
	}
	s.metrics.Poll(loop, result)
	for mode, n := range s.rules.Counts() {
		s.metrics.SetRules(string(mode), n)
	}
	switch {
	case errors.Is(err, model.ErrUnavailable):
		s.log.Debug("pass skipped: status unavailable", logx.String("loop", loop), logx.Err(err))
		return
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, model.ErrForbidden):
		s.log.Warn("pass failed", logx.String("loop", loop), logx.Err(err))
		return
	}
	if res.Skipped {
		return
	}
	s.log.Debug("pass done",
		logx.String("loop", loop),
		logx.Int("rules", res.Rules),
		logx.Int("transitions", res.Transitions),
		logx.Duration("took", res.Took),
	)
	if s.bus != nil && err == nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypePass, Time: time.Now(), Data: res})
	}
}

// RunGroupPass fetches one group snapshot and applies it to every group rule.
func (s *Scheduler) RunGroupPass(ctx context.Context) (PassResult, error) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	start := time.Now()
	cfg := s.Config()
	res := PassResult{Loop: LoopGroup}
	rules := s.rules.Snapshot(model.ModeGroupSnapshot)
	res.Rules = len(rules)
	if len(rules) == 0 || cfg.GroupResource == "" {
		res.Skipped = true
		return res, nil
	}

	snap, err := s.provider.FetchGroupSnapshot(ctx, cfg.GroupResource)
	if err != nil {
		res.Took = time.Since(start)
		if errors.Is(err, model.ErrForbidden) {
			s.accessDenied(ctx, err)
		}
		return res, fmt.Errorf("group snapshot: %w", err)
	}
	s.snapshot.Store(snap)

	observe := func(r model.Rule) *model.Status {
		st, ok := snap.Lookup(r.EntityID)
		if !ok {
			return nil
		}
		return &st
	}
	err = s.applyAndCommit(ctx, &res, rules, observe)
	res.Took = time.Since(start)
	s.lastGroup.Store(time.Now().Unix())
	return res, err
}

// EnsureSnapshot fetches a group snapshot when none has been taken yet. The
// group loop skips while it has no rules, so the first rule needs this to be
// placed in group mode.
func (s *Scheduler) EnsureSnapshot(ctx context.Context) (*model.Snapshot, error) {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}
	res := s.Config().GroupResource
	if res == "" {
		return nil, nil
	}
	snap, err := s.provider.FetchGroupSnapshot(ctx, res)
	if err != nil {
		if errors.Is(err, model.ErrForbidden) {
			s.accessDenied(ctx, err)
		}
		return nil, fmt.Errorf("group snapshot: %w", err)
	}
	if snap != nil {
		s.snapshot.Store(snap)
	}
	return snap, nil
}

type fetchResult struct {
	status model.Status
	err    error
}

// RunIndividualPass fetches every individual rule's entity concurrently, then
// applies the results in rule order.
func (s *Scheduler) RunIndividualPass(ctx context.Context) (PassResult, error) {
	s.indivMu.Lock()
	defer s.indivMu.Unlock()

	start := time.Now()
	cfg := s.Config()
	res := PassResult{Loop: LoopIndividual}
	rules := s.rules.Snapshot(model.ModeIndividual)
	res.Rules = len(rules)
	if len(rules) == 0 {
		res.Skipped = true
		return res, nil
	}

	results := make([]fetchResult, len(rules))
	var g errgroup.Group
	g.SetLimit(cfg.FetchConcurrency)
	for i := range rules {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("fetch panic: %v", r)
				}
			}()
			st, err := s.provider.FetchEntityStatus(ctx, rules[i].EntityID)
			results[i] = fetchResult{status: st, err: err}
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]*fetchResult, len(rules))
	for i := range rules {
		fr := &results[i]
		if fr.err != nil {
			s.log.Debug("entity status unavailable",
				logx.String("rule_id", rules[i].ID),
				logx.String("entity_id", rules[i].EntityID),
				logx.Err(fr.err))
		}
		byID[rules[i].ID] = fr
	}
	observe := func(r model.Rule) *model.Status {
		fr := byID[r.ID]
		if fr == nil || fr.err != nil {
			return nil
		}
		return &fr.status
	}
	err := s.applyAndCommit(ctx, &res, rules, observe)
	res.Took = time.Since(start)
	s.lastIndiv.Store(time.Now().Unix())
	return res, err
}

// applyAndCommit feeds each rule its observation, persists once, then notifies.
// Nothing is persisted or notified when ctx ended mid-pass.
func (s *Scheduler) applyAndCommit(ctx context.Context, res *PassResult, rules []model.Rule, observe func(model.Rule) *model.Status) error {
	type pending struct {
		rule model.Rule
		ev   Event
	}
	var (
		changed []model.Rule
		events  []pending
	)
	for i := range rules {
		r := &rules[i]
		out := s.engine.Apply(r, observe(*r))
		if out.Mutated {
			changed = append(changed, *r)
		}
		if out.Event != nil {
			events = append(events, pending{rule: *r, ev: *out.Event})
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res.Mutated = len(changed)
	res.Transitions = len(events)
	if len(changed) > 0 {
		// failures are logged by the store; memory stays authoritative
		_ = s.rules.Commit(ctx, changed)
	}
	for _, p := range events {
		s.transition(ctx, res.Loop, p.rule, p.ev)
	}
	return nil
}

func (s *Scheduler) transition(ctx context.Context, loop string, r model.Rule, ev Event) {
	s.log.Info("activity transition",
		logx.String("loop", loop),
		logx.String("rule_id", r.ID),
		logx.String("entity_id", r.EntityID),
		logx.String("name", r.DisplayName),
		logx.String("kind", string(ev.Kind)),
		logx.String("activity", ev.Activity),
		logx.String("previous", ev.PreviousActivity),
		logx.Int64("duration_s", ev.Duration),
	)
	s.metrics.Transition(string(ev.Kind))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTransition, Time: time.Now(), Data: TransitionData{
			RuleID:   r.ID,
			Kind:     ev.Kind,
			Activity: ev.Activity,
			Duration: ev.Duration,
		}})
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, r, ev)
	}
}

// TransitionData is the payload of eventbus.TypeTransition.
type TransitionData struct {
	RuleID   string
	Kind     model.EventKind
	Activity string
	Duration int64
}

func (s *Scheduler) accessDenied(ctx context.Context, err error) {
	s.log.Error("group friend list access denied", logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeAccessDenied, Time: time.Now()})
	}
	if s.alerter == nil {
		return
	}
	if aerr := s.alerter.Alert(ctx, AccessDeniedAlert); aerr != nil {
		s.log.Warn("admin alert failed", logx.Err(aerr))
	}
}

// RunCacheSweep force-refreshes stale identity entries one at a time.
func (s *Scheduler) RunCacheSweep(ctx context.Context) (PassResult, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	start := time.Now()
	cfg := s.Config()
	res := PassResult{Loop: LoopCache}
	if s.idents == nil || cfg.ReresolveInterval <= 0 {
		res.Skipped = true
		return res, nil
	}
	keys := s.idents.Stale(s.engine.Now(), cfg.ReresolveInterval)
	res.Rules = len(keys)
	for i, key := range keys {
		if i > 0 && !s.sleep(ctx, cfg.ResolvePause) {
			break
		}
		if _, err := s.idents.refresh(ctx, key); err != nil {
			s.log.Debug("identity refresh failed", logx.String("key", key), logx.Err(err))
			continue
		}
		res.Mutated++
	}
	if res.Mutated > 0 {
		_ = s.idents.Save(ctx)
		s.log.Info("identity cache refreshed", logx.Int("refreshed", res.Mutated), logx.Int("stale", len(keys)))
	}
	res.Took = time.Since(start)
	s.lastSweep.Store(time.Now().Unix())
	return res, ctx.Err()
}

// ForceRefresh runs one group pass and one individual pass now and reports
// the number of transitions detected.
func (s *Scheduler) ForceRefresh(ctx context.Context) (int, error) {
	g, gerr := s.safePass(ctx, LoopGroup, s.RunGroupPass)
	i, ierr := s.safePass(ctx, LoopIndividual, s.RunIndividualPass)
	return g.Transitions + i.Transitions, errors.Join(gerr, ierr)
}

func (s *Scheduler) Status() SchedulerStatus {
	st := SchedulerStatus{
		Rules:              s.rules.Counts(),
		LastGroupPass:      unixOrZero(s.lastGroup.Load()),
		LastIndividualPass: unixOrZero(s.lastIndiv.Load()),
		LastSweep:          unixOrZero(s.lastSweep.Load()),
		GroupBackoff:       s.groupBackoff.Load(),
		IndividualTier:     time.Duration(s.tier.Load()),
	}
	if snap := s.snapshot.Load(); snap != nil {
		st.SnapshotEntities = len(snap.Entities)
		st.SnapshotAt = snap.FetchedAt
	}
	return st
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
