package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const credentialsKey = "credentials"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM rules ORDER BY pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Rule{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var r model.Rule
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			s.log.Warn("skipping malformed rule row", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRules replaces the whole collection in one transaction.
func (s *sqliteStore) SaveRules(ctx context.Context, rules []model.Rule) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
			return err
		}
		for i, r := range rules {
			doc, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO rules(id, pos, doc) VALUES(?,?,?)`, r.ID, i, string(doc)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadIdentities(ctx context.Context) (map[string]model.IdentityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, doc FROM identities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]model.IdentityEntry{}
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, err
		}
		var e model.IdentityEntry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			s.log.Warn("skipping malformed identity row", logx.String("key", key), logx.Err(err))
			continue
		}
		out[key] = e
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveIdentities(ctx context.Context, entries map[string]model.IdentityEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM identities`); err != nil {
			return err
		}
		for k, e := range entries {
			doc, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO identities(key, doc) VALUES(?,?)`, k, string(doc)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadCredentials(ctx context.Context) (model.Credentials, error) {
	var c model.Credentials
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, credentialsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		s.log.Warn("malformed stored credentials; ignoring", logx.Err(err))
		return model.Credentials{}, nil
	}
	return c, nil
}

func (s *sqliteStore) SaveCredentials(ctx context.Context, c model.Credentials) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		credentialsKey, string(b))
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
