package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"steamwatch/internal/model"
	"steamwatch/internal/storage"
	logx "steamwatch/pkg/logx"
)

// CredentialSink accepts replacement provider cookies at runtime.
type CredentialSink interface {
	SetCredentials(c model.Credentials)
}

// Service is the synchronous surface used by chat commands.
type Service struct {
	engine *Engine
	rules  *RuleStore
	idents *IdentityCache
	sched  *Scheduler
	store  storage.Store
	creds  CredentialSink
	log    logx.Logger

	newID func() string
}

type ServiceDeps struct {
	Engine      *Engine
	Rules       *RuleStore
	Identities  *IdentityCache
	Scheduler   *Scheduler
	Store       storage.Store
	Credentials CredentialSink
	Log         logx.Logger
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		engine: d.Engine,
		rules:  d.Rules,
		idents: d.Identities,
		sched:  d.Scheduler,
		store:  d.Store,
		creds:  d.Credentials,
		log:    d.Log,
		newID:  uuid.NewString,
	}
}

// Load restores rules, the identity cache and stored credentials.
func (s *Service) Load(ctx context.Context) error {
	if err := s.rules.Load(ctx, s.engine.Today(), s.engine.Now().Unix()); err != nil {
		return err
	}
	if err := s.idents.Load(ctx); err != nil {
		return err
	}
	c, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !c.Empty() && s.creds != nil {
		s.creds.SetCredentials(c)
	}
	s.log.Info("monitor state loaded",
		logx.Int("rules", s.rules.Len()),
		logx.Int("identities", s.idents.Len()),
		logx.Bool("stored_credentials", !c.Empty()),
	)
	return nil
}

type AddRequest struct {
	Input      string
	GameFilter string
	Target     string
}

// AddRule resolves the input and creates a rule. Entities present in the
// latest group snapshot are driven by the group loop, all others individually.
func (s *Service) AddRule(ctx context.Context, req AddRequest) (model.Rule, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return model.Rule{}, fmt.Errorf("profile is required")
	}
	ident, err := s.idents.Resolve(ctx, input, false)
	if err != nil {
		return model.Rule{}, fmt.Errorf("resolve %q: %w", input, err)
	}

	snap := s.sched.LatestSnapshot()
	if snap == nil && s.sched.Config().GroupResource != "" {
		snap, err = s.sched.EnsureSnapshot(ctx)
		if err != nil {
			s.log.Warn("group snapshot unavailable, adding rule individually",
				logx.String("entity_id", ident.EntityID), logx.Err(err))
		}
	}

	mode := model.ModeIndividual
	if snap.Contains(ident.EntityID) {
		if s.sched.Config().GroupResource == "" {
			return model.Rule{}, ErrNoGroupResource
		}
		mode = model.ModeGroupSnapshot
	}

	now := s.engine.Now()
	r := model.Rule{
		ID:               s.newID(),
		Target:           req.Target,
		OriginalInput:    input,
		EntityID:         ident.EntityID,
		DisplayName:      ident.DisplayName,
		AvatarRef:        ident.AvatarRef,
		GameFilter:       strings.TrimSpace(req.GameFilter),
		Mode:             mode,
		LastResetDay:     now.Format(dayLayout),
		LastTransitionAt: now.Unix(),
		History:          []model.HistoryEntry{},
		CreatedAt:        now.Unix(),
	}
	if r.DisplayName == "" {
		r.DisplayName = "user (" + r.EntityID + ")"
	}
	if err := s.rules.Add(ctx, r); err != nil {
		return model.Rule{}, err
	}
	s.log.Info("rule added",
		logx.String("rule_id", r.ID),
		logx.String("entity_id", r.EntityID),
		logx.String("mode", string(r.Mode)),
		logx.String("target", r.Target),
	)
	return r, nil
}

func (s *Service) ListRules(target string) []model.Rule { return s.rules.List(target) }

func (s *Service) RemoveRule(ctx context.Context, prefix string) (model.Rule, error) {
	r, err := s.rules.Remove(ctx, prefix)
	if err != nil {
		return model.Rule{}, err
	}
	s.log.Info("rule removed", logx.String("rule_id", r.ID), logx.String("entity_id", r.EntityID))
	return r, nil
}

// UpdateCredentials swaps the provider cookies and persists them.
func (s *Service) UpdateCredentials(ctx context.Context, c model.Credentials) error {
	c.LoginSecure = strings.TrimSpace(c.LoginSecure)
	c.SessionID = strings.TrimSpace(c.SessionID)
	if c.LoginSecure == "" || c.SessionID == "" {
		return fmt.Errorf("both cookies are required")
	}
	c.UpdatedAt = time.Now().Unix()
	if s.creds != nil {
		s.creds.SetCredentials(c)
	}
	if err := s.store.SaveCredentials(ctx, c); err != nil {
		s.log.Warn("persist credentials failed", logx.Err(err))
		return fmt.Errorf("credentials applied but not saved: %w", err)
	}
	return nil
}

func (s *Service) ForceRefresh(ctx context.Context) (int, error) { return s.sched.ForceRefresh(ctx) }

func (s *Service) Status() SchedulerStatus { return s.sched.Status() }
