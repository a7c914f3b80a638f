package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"steamwatch/internal/eventbus"
	"steamwatch/internal/metrics"
	rtsup "steamwatch/internal/runtime/supervisor"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrEmpty     = errors.New("empty payload")
)

const historyLimit = 300

type job struct {
	to      kit.ChatTarget
	payload kit.Payload
	path    string
}

// Service is the async delivery pipeline: queue + worker pool + rate limit.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	metrics *metrics.Metrics

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus, metrics: m}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Apply swaps rate, timeout and admin targets. Workers and queue size take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	cfg.AdminTargets = append([]kit.ChatTarget(nil), cfg.AdminTargets...)
	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight enqueues finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Dispatch enqueues p for target ("chat_id" or "chat_id:thread_id").
func (s *Service) Dispatch(ctx context.Context, target string, p kit.Payload, path string) error {
	to, err := kit.ParseTarget(target)
	if err != nil {
		s.metrics.Notification(path, "failed")
		return fmt.Errorf("notify target %q: %w", target, err)
	}
	return s.enqueue(ctx, to, p, path)
}

// Alert sends text to every admin target. Without admins it only logs.
func (s *Service) Alert(ctx context.Context, text string) error {
	s.mu.Lock()
	admins := append([]kit.ChatTarget(nil), s.cfg.AdminTargets...)
	s.mu.Unlock()
	if len(admins) == 0 {
		s.log.Warn("no admin targets configured, alert not delivered", logx.String("text", text))
		return nil
	}
	var errs []error
	for _, to := range admins {
		if err := s.enqueue(ctx, to, kit.Payload{Text: text}, PathAlert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) enqueue(ctx context.Context, to kit.ChatTarget, p kit.Payload, path string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if p.Text == "" && !p.IsImage() {
		return ErrEmpty
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{to: to, payload: p, path: path}:
		s.publish(eventbus.TypeNotifyQueued, path, to, nil)
		return nil
	default:
		s.metrics.Notification(path, "dropped")
		s.publish(eventbus.TypeNotifyDropped, path, to, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) publish(typ, path string, to kit.ChatTarget, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Path: path, ChatID: to.ChatID, ThreadID: to.ThreadID, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// Snapshot returns delivered payloads, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(j job) {
	item := HistoryItem{At: time.Now(), Target: j.to, Path: j.path, Text: j.payload.Text, Image: j.payload.IsImage()}
	if item.Image {
		item.Text = j.payload.Image.Caption
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, j)
		}
	}
}

func (s *Service) send(runCtx context.Context, j job) {
	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	ad := s.adapter
	s.mu.Unlock()
	if ad == nil {
		return
	}
	if err := lim.Wait(runCtx); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(runCtx, timeout)
	var err error
	if j.payload.IsImage() {
		_, err = ad.SendImage(ctx, j.to, *j.payload.Image, nil)
	} else {
		_, err = ad.SendText(ctx, j.to, j.payload.Text, &kit.SendOptions{DisablePreview: true})
	}
	cancel()

	if err != nil {
		s.log.Warn("notification send failed",
			logx.String("target", j.to.String()), logx.String("path", j.path), logx.Err(err))
		s.metrics.Notification(j.path, "failed")
		s.publish(eventbus.TypeNotifyFailed, j.path, j.to, err)
		return
	}
	s.appendHistory(j)
	s.metrics.Notification(j.path, "sent")
	s.publish(eventbus.TypeNotifySent, j.path, j.to, nil)
}
