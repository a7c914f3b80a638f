// Package digest sends each notification target a daily playtime summary on
// a cron schedule.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"steamwatch/internal/model"
	"steamwatch/internal/monitor"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

const (
	DefaultSchedule = "55 23 * * *"
	// PathDigest labels digest payloads in metrics and events.
	PathDigest = "digest"
	dayLayout  = "2006-01-02"
	runTimeout = 2 * time.Minute
)

// RuleLister returns the rules of a target ("" for all).
type RuleLister interface {
	ListRules(target string) []model.Rule
}

type Config struct {
	Enabled  bool
	Schedule string
	Location *time.Location
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context

	rules RuleLister
	out   monitor.Dispatcher
	now   func() time.Time
	log   logx.Logger
}

func New(cfg Config, rules RuleLister, out monitor.Dispatcher, log logx.Logger) *Service {
	return &Service{
		cfg:    normalize(cfg),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		rules:  rules,
		out:    out,
		now:    time.Now,
		log:    log,
	}
}

func normalize(cfg Config) Config {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

// Validate reports whether spec parses as a 5-field cron expression.
func Validate(spec string) error {
	_, err := cron.ParseStandard(strings.TrimSpace(spec))
	return err
}

// Start schedules the digest when enabled. ctx bounds every run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location))
	if _, err := c.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		return fmt.Errorf("digest schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("digest scheduled", logx.String("schedule", s.cfg.Schedule), logx.String("tz", s.cfg.Location.String()))
	return nil
}

func (s *Service) stopLocked() *cron.Cron {
	c := s.c
	s.c = nil
	return c
}

// Stop waits for a running digest until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.stopLocked()
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config, rescheduling when the service is running.
func (s *Service) Apply(cfg Config) error {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if old := s.stopLocked(); old != nil {
		old.Stop()
	}
	return s.startLocked()
}

func (s *Service) tick() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, runTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("digest run failed", logx.Err(err))
	}
}

// RunOnce builds and dispatches today's digests.
func (s *Service) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()

	digests := Build(s.rules.ListRules(""), s.now().In(loc))
	var errs []error
	for _, target := range sortedKeys(digests) {
		if err := s.out.Dispatch(ctx, target, kit.Payload{Text: digests[target]}, PathDigest); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	s.log.Info("digest sent", logx.Int("targets", len(digests)), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

type line struct {
	name    string
	played  int64
	playing string
}

// Build returns one message per target. Targets whose rules all have zero
// playtime today are left out. A running session counts up to now.
func Build(rules []model.Rule, now time.Time) map[string]string {
	today := now.Format(dayLayout)
	byTarget := map[string][]line{}
	for _, r := range rules {
		var played int64
		if r.LastResetDay == today {
			played = r.PlaytimeToday
		}
		if r.Active() && r.ActivityStartedAt > 0 {
			start := time.Unix(r.ActivityStartedAt, 0).In(now.Location())
			if start.Format(dayLayout) != today {
				start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			}
			played += max(0, int64(now.Sub(start).Seconds()))
		}
		if played <= 0 {
			continue
		}
		name := r.DisplayName
		if name == "" {
			name = "user (" + r.EntityID + ")"
		}
		byTarget[r.Target] = append(byTarget[r.Target], line{name: name, played: played, playing: r.CurrentActivity})
	}

	out := make(map[string]string, len(byTarget))
	for target, lines := range byTarget {
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].played > lines[j].played })
		var b strings.Builder
		fmt.Fprintf(&b, "🌙 Playtime today (%s)", today)
		var total int64
		for _, l := range lines {
			total += l.played
			fmt.Fprintf(&b, "\n• %s: %s", l.name, monitor.FormatDuration(l.played))
			if l.playing != "" {
				fmt.Fprintf(&b, " (still playing 《%s》)", l.playing)
			}
		}
		if len(lines) > 1 {
			fmt.Fprintf(&b, "\nTotal: %s", monitor.FormatDuration(total))
		}
		out[target] = b.String()
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
