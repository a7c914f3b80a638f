// Package commands is the /steam chat command surface.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"steamwatch/internal/eventbus"
	"steamwatch/internal/model"
	"steamwatch/internal/monitor"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	"steamwatch/internal/transport/telegram/router"
	logx "steamwatch/pkg/logx"
)

// Monitor is the part of monitor.Service the commands drive.
type Monitor interface {
	AddRule(ctx context.Context, req monitor.AddRequest) (model.Rule, error)
	ListRules(target string) []model.Rule
	RemoveRule(ctx context.Context, prefix string) (model.Rule, error)
	UpdateCredentials(ctx context.Context, c model.Credentials) error
	ForceRefresh(ctx context.Context) (int, error)
	Status() monitor.SchedulerStatus
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// HandledEvent is the Data of commands.handled bus events.
type HandledEvent struct {
	Action string `json:"action"`
	ChatID int64  `json:"chat_id"`
	FromID int64  `json:"from_id"`
	OK     bool   `json:"ok"`
}

const idPrefixLen = 8

var errUsage = errors.New("usage")

type Handlers struct {
	mon   Monitor
	audit Auditor
	bus   eventbus.Bus
	loc   *time.Location
	now   func() time.Time
	log   logx.Logger
}

type Deps struct {
	Monitor  Monitor
	Audit    Auditor
	Bus      eventbus.Bus
	Location *time.Location
	Log      logx.Logger
}

func New(d Deps) *Handlers {
	h := &Handlers{mon: d.Monitor, audit: d.Audit, bus: d.Bus, loc: d.Location, now: time.Now, log: d.Log}
	if h.loc == nil {
		h.loc = time.Local
	}
	return h
}

var addExamples = []string{
	"/steam add https://steamcommunity.com/id/gaben",
	`/steam add 76561197960287930 "Counter-Strike 2"`,
	"/steam add gaben - -1001234567890:42",
}

// Commands returns the router registry.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "steam add",
			Description: "watch a Steam profile",
			Usage:       "/steam add <profile> [game_filter|-] [chat_id[:thread_id]]",
			Examples:    addExamples,
			Timeout:     time.Minute,
			Handle:      h.audited("add", h.add),
		},
		{
			Route:       "steam list",
			Description: "list rules of this chat (owners: any chat or all)",
			Usage:       "/steam list [chat_id[:thread_id]|all]",
			Examples:    []string{"/steam list", "/steam list all"},
			Timeout:     10 * time.Second,
			Handle:      h.list,
		},
		{
			Route:       "steam remove",
			Description: "remove a rule by id prefix",
			Usage:       "/steam remove <id_prefix>",
			Examples:    []string{"/steam remove 3f9a"},
			Timeout:     10 * time.Second,
			Handle:      h.audited("remove", h.remove),
		},
		{
			Route:       "steam update_cookies",
			Description: "replace the Steam session cookies",
			Usage:       "/steam update_cookies <steamLoginSecure> <sessionid>",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      h.audited("update_cookies", h.updateCookies),
		},
		{
			Route:       "steam force_refresh",
			Description: "poll every rule now",
			Usage:       "/steam force_refresh",
			Access:      router.AccessOwnerOnly,
			Timeout:     5 * time.Minute,
			Handle:      h.audited("force_refresh", h.forceRefresh),
		},
		{
			Route:       "steam status",
			Description: "scheduler state",
			Usage:       "/steam status",
			Timeout:     10 * time.Second,
			Handle:      h.status,
		},
	}
}

// audited wraps a mutating handler; the handler returns the audit target.
func (h *Handlers) audited(action string, fn func(ctx context.Context, req *router.Request) (string, error)) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		start := h.now()
		target, err := fn(ctx, req)
		if errors.Is(err, errUsage) {
			return req.Reply(ctx, "usage: "+usageOf(req))
		}
		e := storage.AuditEntry{
			At:            start,
			ActorID:       req.FromID,
			ActorUsername: req.FromUsername,
			ChatID:        req.Chat.ChatID,
			ThreadID:      req.Chat.ThreadID,
			Action:        action,
			Target:        target,
			OK:            err == nil,
			TookMS:        h.now().Sub(start).Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
		}
		if h.audit != nil {
			if aerr := h.audit.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
				h.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
			}
		}
		if h.bus != nil {
			h.bus.Publish(eventbus.Event{Type: eventbus.TypeCommandHandled, Data: HandledEvent{Action: action, ChatID: req.Chat.ChatID, FromID: req.FromID, OK: err == nil}})
		}
		return err
	}
}

func usageOf(req *router.Request) string {
	if req.Usage != "" {
		return req.Usage
	}
	return "/help " + req.Command
}

func (h *Handlers) add(ctx context.Context, req *router.Request) (string, error) {
	if len(req.Args) < 1 || len(req.Args) > 3 {
		return "", errUsage
	}
	ar := monitor.AddRequest{Input: req.Args[0], Target: req.Chat.String()}
	if len(req.Args) > 1 && req.Args[1] != "-" && req.Args[1] != "*" {
		ar.GameFilter = req.Args[1]
	}
	if len(req.Args) > 2 {
		to, err := kit.ParseTarget(req.Args[2])
		if err != nil {
			return req.Args[2], fmt.Errorf("target: %w", err)
		}
		if to != req.Chat && !req.Owner {
			return to.String(), errors.New("only owners can add rules for another chat")
		}
		ar.Target = to.String()
	}

	r, err := h.mon.AddRule(ctx, ar)
	switch {
	case errors.Is(err, monitor.ErrDuplicateRule):
		return ar.Input, errors.New("this player is already watched in that chat")
	case errors.Is(err, monitor.ErrNoGroupResource):
		return ar.Input, errors.New("player is on the friend list but no steam.group_profile_url is configured")
	case errors.Is(err, model.ErrNotFound):
		return ar.Input, fmt.Errorf("could not resolve Steam profile %q", ar.Input)
	case err != nil:
		return ar.Input, err
	}

	game := r.GameFilter
	if game == "" {
		game = "any game"
	}
	text := fmt.Sprintf("✅ Rule added\nChat: %s\nMode: %s\nPlayer: %s (%s)\nGame: %s\nID: %s",
		r.Target, modeLabel(r.Mode), r.DisplayName, r.EntityID, game, shortID(r.ID))
	h.reply(ctx, req, text)
	return r.ID, nil
}

func (h *Handlers) list(ctx context.Context, req *router.Request) error {
	target := req.Chat.String()
	if len(req.Args) > 0 {
		if !req.Owner {
			return errors.New("only owners can list other chats")
		}
		switch arg := req.Args[0]; arg {
		case "all":
			target = ""
		default:
			to, err := kit.ParseTarget(arg)
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			target = to.String()
		}
	}
	rules := h.mon.ListRules(target)
	if len(rules) == 0 {
		return req.Reply(ctx, "No monitoring rules.")
	}
	return req.Reply(ctx, h.formatList(rules, target == ""))
}

func (h *Handlers) formatList(rules []model.Rule, withTarget bool) string {
	today := h.now().In(h.loc).Format("2006-01-02")
	var b strings.Builder
	fmt.Fprintf(&b, "📚 Monitoring rules (%d)", len(rules))
	for i, r := range rules {
		var status string
		switch {
		case r.Active():
			status = "🎮 playing 《" + r.CurrentActivity + "》"
		case r.Online():
			status = "🟢 online"
		default:
			status = "⚫️ offline"
		}
		game := r.GameFilter
		if game == "" {
			game = "any game"
		}
		var played int64
		if r.LastResetDay == today {
			played = r.PlaytimeToday
		}
		fmt.Fprintf(&b, "\n\n%d. %s (%s)\n%s\nMode: %s · Game: %s\nToday: %s · ID: %s",
			i+1, ruleName(r), r.EntityID, status, modeLabel(r.Mode), game, monitor.FormatDuration(played), shortID(r.ID))
		if withTarget {
			b.WriteString("\nChat: " + r.Target)
		}
	}
	return b.String()
}

func (h *Handlers) remove(ctx context.Context, req *router.Request) (string, error) {
	if len(req.Args) != 1 || strings.TrimSpace(req.Args[0]) == "" {
		return "", errUsage
	}
	prefix := strings.TrimSpace(req.Args[0])
	if !req.Owner && !hasPrefixIn(h.mon.ListRules(req.Chat.String()), prefix) {
		return prefix, monitor.ErrRuleNotFound
	}
	r, err := h.mon.RemoveRule(ctx, prefix)
	if err != nil {
		return prefix, err
	}
	h.reply(ctx, req, fmt.Sprintf("✅ Removed rule %s (%s).", shortID(r.ID), ruleName(r)))
	return r.ID, nil
}

func (h *Handlers) reply(ctx context.Context, req *router.Request, text string) {
	if err := req.Reply(ctx, text); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func hasPrefixIn(rules []model.Rule, prefix string) bool {
	for _, r := range rules {
		if strings.HasPrefix(r.ID, prefix) {
			return true
		}
	}
	return false
}

func (h *Handlers) updateCookies(ctx context.Context, req *router.Request) (string, error) {
	if len(req.Args) != 2 {
		return "", errUsage
	}
	err := h.mon.UpdateCredentials(ctx, model.Credentials{LoginSecure: req.Args[0], SessionID: req.Args[1]})
	if err != nil {
		return "credentials", err
	}
	h.reply(ctx, req, "✅ Cookies updated and saved.")
	return "credentials", nil
}

func (h *Handlers) forceRefresh(ctx context.Context, req *router.Request) (string, error) {
	h.reply(ctx, req, "Refreshing every rule...")
	n, err := h.mon.ForceRefresh(ctx)
	if err != nil {
		return "all", fmt.Errorf("refresh finished with errors (%d transitions): %w", n, err)
	}
	h.reply(ctx, req, fmt.Sprintf("✅ Refresh done, %d transitions detected.", n))
	return "all", nil
}

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	st := h.mon.Status()
	var b strings.Builder
	b.WriteString("📊 steamwatch status")
	fmt.Fprintf(&b, "\nRules: %d group snapshot, %d individual", st.Rules[model.ModeGroupSnapshot], st.Rules[model.ModeIndividual])
	fmt.Fprintf(&b, "\nGroup pass: %s", h.ago(st.LastGroupPass))
	if st.GroupBackoff {
		b.WriteString(" (backing off: access denied)")
	}
	if !st.SnapshotAt.IsZero() {
		fmt.Fprintf(&b, "\nFriend list: %d entries, %s", st.SnapshotEntities, h.ago(st.SnapshotAt))
	}
	fmt.Fprintf(&b, "\nIndividual pass: %s", h.ago(st.LastIndividualPass))
	if st.IndividualTier > 0 {
		fmt.Fprintf(&b, " (every %s)", st.IndividualTier)
	}
	fmt.Fprintf(&b, "\nIdentity sweep: %s", h.ago(st.LastSweep))
	return req.Reply(ctx, b.String())
}

func (h *Handlers) ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return monitor.FormatDuration(int64(h.now().Sub(t).Seconds())) + " ago"
}

func modeLabel(m model.Mode) string {
	if m == model.ModeIndividual {
		return "individual"
	}
	return "group snapshot"
}

func ruleName(r model.Rule) string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return "user (" + r.EntityID + ")"
}

func shortID(id string) string {
	if len(id) > idPrefixLen {
		return id[:idPrefixLen]
	}
	return id
}
