package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

// fileStore keeps one JSON document per collection next to the configured path:
//
//	<prefix>.rules.json
//	<prefix>.identities.json
//	<prefix>.credentials.json
//	<prefix>.audit.jsonl
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	rulesPath string
	identPath string
	credsPath string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:       log,
		rulesPath: prefix + ".rules.json",
		identPath: prefix + ".identities.json",
		credsPath: prefix + ".credentials.json",
		auditFile: af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) LoadRules(ctx context.Context) ([]model.Rule, error) {
	rules, err := readDoc[[]model.Rule](s, s.rulesPath)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []model.Rule{}
	}
	return rules, nil
}

func (s *fileStore) SaveRules(ctx context.Context, rules []model.Rule) error {
	if rules == nil {
		rules = []model.Rule{}
	}
	return s.writeDoc(s.rulesPath, rules)
}

func (s *fileStore) LoadIdentities(ctx context.Context) (map[string]model.IdentityEntry, error) {
	m, err := readDoc[map[string]model.IdentityEntry](s, s.identPath)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]model.IdentityEntry{}
	}
	return m, nil
}

func (s *fileStore) SaveIdentities(ctx context.Context, entries map[string]model.IdentityEntry) error {
	if entries == nil {
		entries = map[string]model.IdentityEntry{}
	}
	return s.writeDoc(s.identPath, entries)
}

func (s *fileStore) LoadCredentials(ctx context.Context) (model.Credentials, error) {
	return readDoc[model.Credentials](s, s.credsPath)
}

func (s *fileStore) SaveCredentials(ctx context.Context, c model.Credentials) error {
	return s.writeDoc(s.credsPath, c)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// readDoc decodes the document at path. Missing files yield the zero value;
// malformed files are logged, renamed aside and also yield the zero value.
func readDoc[T any](s *fileStore, path string) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return zero, nil
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		aside := path + ".corrupt"
		s.log.Warn("malformed storage document; starting empty",
			logx.String("path", path), logx.String("moved_to", aside), logx.Err(err))
		_ = os.Rename(path, aside)
		return zero, nil
	}
	return out, nil
}

// writeDoc replaces path atomically via tmp file + rename.
func (s *fileStore) writeDoc(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
