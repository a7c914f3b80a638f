package monitor

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"steamwatch/internal/metrics"
	"steamwatch/internal/model"
	"steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

// Completer produces a short text completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// MemeMaker composes a meme image from an avatar and a caption.
type MemeMaker interface {
	Make(ctx context.Context, avatarURL, text string) ([]byte, error)
}

// CardRenderer renders text and an avatar into an image card.
type CardRenderer interface {
	Render(ctx context.Context, text, avatarURL string) ([]byte, error)
}

// Dispatcher delivers a payload to a target. path names the render path for metrics.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string, p transport.Payload, path string) error
}

// Render paths.
const (
	PathMeme = "meme"
	PathCard = "card"
	PathText = "text"
)

type ComposerConfig struct {
	LLMEnabled   bool
	ImageEnabled bool
	// StepTimeout bounds enrichment and each render attempt.
	StepTimeout time.Duration
}

type ComposerDeps struct {
	Engine     *Engine
	Completer  Completer
	Meme       MemeMaker
	Card       CardRenderer
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Log        logx.Logger
}

// Composer turns a transition into a payload: base text, optional enrichment,
// then the first render path that succeeds (meme, card, text).
type Composer struct {
	cfg atomic.Pointer[ComposerConfig]

	engine  *Engine
	llm     Completer
	meme    MemeMaker
	card    CardRenderer
	out     Dispatcher
	metrics *metrics.Metrics
	log     logx.Logger
}

func NewComposer(cfg ComposerConfig, d ComposerDeps) *Composer {
	c := &Composer{
		engine:  d.Engine,
		llm:     d.Completer,
		meme:    d.Meme,
		card:    d.Card,
		out:     d.Dispatcher,
		metrics: d.Metrics,
		log:     d.Log,
	}
	if c.engine == nil {
		c.engine = NewEngine(nil, nil)
	}
	c.SetConfig(cfg)
	return c
}

func (c *Composer) SetConfig(cfg ComposerConfig) {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 60 * time.Second
	}
	c.cfg.Store(&cfg)
}

// Notify composes and dispatches. Filtered events produce no side effect.
func (c *Composer) Notify(ctx context.Context, r model.Rule, ev Event) {
	if !matchesFilter(r.GameFilter, ev.Activity) {
		c.log.Debug("notification suppressed by game filter",
			logx.String("rule_id", r.ID), logx.String("filter", r.GameFilter), logx.String("activity", ev.Activity))
		return
	}
	p, path := c.Compose(ctx, r, ev)
	if c.out == nil {
		return
	}
	if err := c.out.Dispatch(ctx, r.Target, p, path); err != nil {
		c.log.Warn("dispatch failed",
			logx.String("rule_id", r.ID), logx.String("target", r.Target), logx.String("path", path), logx.Err(err))
	}
}

// Compose builds the payload without dispatching it.
func (c *Composer) Compose(ctx context.Context, r model.Rule, ev Event) (transport.Payload, string) {
	cfg := *c.cfg.Load()
	name := displayName(r)
	text := BaseText(name, ev)
	if cfg.LLMEnabled && c.llm != nil {
		text = c.enrich(ctx, cfg, r, name, ev, text)
	}
	avatar := ev.AvatarRef
	if avatar == "" {
		avatar = r.AvatarRef
	}

	chain := []struct {
		path string
		try  func(ctx context.Context) (transport.Payload, tierResult)
	}{
		{PathMeme, func(ctx context.Context) (transport.Payload, tierResult) {
			if !cfg.ImageEnabled || avatar == "" || c.meme == nil {
				return transport.Payload{}, tierSkipped
			}
			img, err := c.meme.Make(ctx, avatar, MemeText(name, ev))
			if err != nil || len(img) == 0 {
				c.log.Debug("meme image failed", logx.String("rule_id", r.ID), logx.Err(err))
				return transport.Payload{}, tierFailed
			}
			return transport.Payload{Image: &transport.Image{Name: "meme.png", Data: img, Caption: text}}, tierOK
		}},
		{PathCard, func(ctx context.Context) (transport.Payload, tierResult) {
			if avatar == "" || c.card == nil {
				return transport.Payload{}, tierSkipped
			}
			img, err := c.card.Render(ctx, text, avatar)
			if err != nil || len(img) == 0 {
				c.log.Debug("card render failed", logx.String("rule_id", r.ID), logx.Err(err))
				return transport.Payload{}, tierFailed
			}
			return transport.Payload{Image: &transport.Image{Name: "card.png", Data: img}}, tierOK
		}},
		{PathText, func(context.Context) (transport.Payload, tierResult) {
			return transport.Payload{Text: text}, tierOK
		}},
	}
	for _, a := range chain {
		actx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
		p, res := a.try(actx)
		cancel()
		switch res {
		case tierOK:
			return p, a.path
		case tierFailed:
			c.metrics.Notification(a.path, "fallback")
		}
	}
	return transport.Payload{Text: text}, PathText
}

// tierResult is the outcome of one payload tier. Skipped tiers were never
// attempted and do not count as fallbacks.
type tierResult int

const (
	tierOK tierResult = iota
	tierSkipped
	tierFailed
)

// enrich appends a completion as a quoted line. Any failure keeps base.
func (c *Composer) enrich(ctx context.Context, cfg ComposerConfig, r model.Rule, name string, ev Event, base string) string {
	ctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
	defer cancel()
	out, err := c.llm.Complete(ctx, BuildPrompt(r, name, ev, c.engine.Now()))
	if err != nil {
		c.log.Debug("enrichment failed", logx.String("rule_id", r.ID), logx.Err(err))
		return base
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return base
	}
	return base + "\n> " + out
}
