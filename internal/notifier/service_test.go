package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/eventbus"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

type sent struct {
	to    kit.ChatTarget
	text  string
	image *kit.Image
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sent
	fail  error
	block chan struct{}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(ctx, sent{to: to, text: text})
}

func (f *fakeAdapter) SendImage(ctx context.Context, to kit.ChatTarget, img kit.Image, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(ctx, sent{to: to, image: &img})
}

func (f *fakeAdapter) record(ctx context.Context, s sent) (kit.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return kit.MessageRef{}, f.fail
	}
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: s.to.ChatID}, nil
}

func (f *fakeAdapter) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func startService(t *testing.T, cfg Config, ad kit.Adapter, bus eventbus.Bus) *Service {
	t.Helper()
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 100
	}
	s := New(cfg, ad, logx.Nop(), bus, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestDispatchTextAndImage(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := startService(t, Config{Workers: 1}, ad, nil)

	require.NoError(t, s.Dispatch(context.Background(), "-100:7", kit.Payload{Text: "hi"}, "text"))
	require.NoError(t, s.Dispatch(context.Background(), "42", kit.Payload{Image: &kit.Image{Name: "m.png", Data: []byte{1}, Caption: "cap"}}, "meme"))

	require.Eventually(t, func() bool { return len(ad.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
	got := ad.Sent()
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 7}, got[0].to)
	assert.Equal(t, "hi", got[0].text)
	require.NotNil(t, got[1].image)
	assert.Equal(t, "cap", got[1].image.Caption)

	hist := s.Snapshot()
	require.Len(t, hist, 2)
	assert.True(t, hist[1].Image)
	assert.Equal(t, "cap", hist[1].Text)
}

func TestDispatchRejectsBadTarget(t *testing.T) {
	t.Parallel()
	s := startService(t, Config{}, &fakeAdapter{}, nil)
	assert.Error(t, s.Dispatch(context.Background(), "not-a-chat", kit.Payload{Text: "x"}, "text"))
	assert.ErrorIs(t, s.Dispatch(context.Background(), "1", kit.Payload{}, "text"), ErrEmpty)
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{block: make(chan struct{})}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	s := startService(t, Config{Workers: 1, QueueSize: 1}, ad, bus)
	defer close(ad.block)

	var dropped bool
	for i := 0; i < 5 && !dropped; i++ {
		err := s.Dispatch(context.Background(), "1", kit.Payload{Text: "x"}, "text")
		dropped = errors.Is(err, ErrQueueFull)
	}
	require.True(t, dropped)

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !seen[eventbus.TypeNotifyDropped] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-timeout:
			t.Fatal("no dropped event")
		}
	}
	assert.True(t, seen[eventbus.TypeNotifyQueued])
}

func TestSendFailurePublishesFailed(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startService(t, Config{}, &fakeAdapter{fail: errors.New("boom")}, bus)

	require.NoError(t, s.Dispatch(context.Background(), "1", kit.Payload{Text: "x"}, "text"))
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.TypeNotifyFailed {
				continue
			}
			data := ev.Data.(NotificationEvent)
			assert.Equal(t, "boom", data.Error)
			assert.Empty(t, s.Snapshot())
			return
		case <-timeout:
			t.Fatal("no failed event")
		}
	}
}

func TestAlertFansOutToAdmins(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := startService(t, Config{AdminTargets: []kit.ChatTarget{{ChatID: 1}, {ChatID: 2}}}, ad, nil)

	require.NoError(t, s.Alert(context.Background(), "⚠️ denied"))
	require.Eventually(t, func() bool { return len(ad.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestAlertWithoutAdminsIsNoop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := startService(t, Config{}, ad, nil)
	require.NoError(t, s.Alert(context.Background(), "x"))
	assert.Empty(t, ad.Sent())
}

func TestStoppedRejects(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil, nil)
	assert.ErrorIs(t, s.Dispatch(context.Background(), "1", kit.Payload{Text: "x"}, "text"), ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Dispatch(context.Background(), "1", kit.Payload{Text: "x"}, "text"), ErrStopped)
}
