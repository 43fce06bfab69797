// Package localstate persists per-workspace UI choices (agent selections,
// saved criteria templates, preferences) in SQLite. Reads are best effort:
// a missing or unreadable value is reported as "no value".
package localstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"clawlegion/internal/db"
	"clawlegion/internal/migrate"
	"clawlegion/internal/wizard"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *slog.Logger
}

// Open opens (and migrates) the workspace state database.
func Open(ctx context.Context, cfg db.Config) (*Store, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &Store{DB: conn}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) now() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s *Store) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SelectedAgents returns the agent ids last selected for scope (for example a
// room id). Absent or corrupt rows yield nil.
func (s *Store) SelectedAgents(ctx context.Context, scope string) []string {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT agents_json FROM selected_agents WHERE scope=?`, scope).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log().Debug("read selected agents", "scope", scope, "err", err)
		}
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.log().Debug("discarding corrupt selected agents", "scope", scope, "err", err)
		return nil
	}
	return ids
}

func (s *Store) SetSelectedAgents(ctx context.Context, scope string, ids []string) error {
	if strings.TrimSpace(scope) == "" {
		return errors.New("scope required")
	}
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO selected_agents(scope,agents_json,updated_at) VALUES (?,?,?)
		ON CONFLICT(scope) DO UPDATE SET agents_json=excluded.agents_json, updated_at=excluded.updated_at`,
		scope, string(data), s.now())
	return err
}

// SavedTemplates lists user-saved criteria templates by name. Rows whose
// criteria cannot be decoded are skipped.
func (s *Store) SavedTemplates(ctx context.Context) []wizard.Template {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,name,criteria_json FROM criteria_templates ORDER BY name`)
	if err != nil {
		s.log().Debug("list saved templates", "err", err)
		return nil
	}
	defer rows.Close()
	var out []wizard.Template
	for rows.Next() {
		var t wizard.Template
		var raw string
		if err := rows.Scan(&t.ID, &t.Name, &raw); err != nil {
			s.log().Debug("scan saved template", "err", err)
			return out
		}
		if err := json.Unmarshal([]byte(raw), &t.Criteria); err != nil {
			s.log().Debug("skipping corrupt template", "id", t.ID, "err", err)
			continue
		}
		t.Saved = true
		out = append(out, t)
	}
	return out
}

// SaveTemplate stores criteria under name, replacing an existing template of
// the same name, and returns the template id.
func (s *Store) SaveTemplate(ctx context.Context, name string, criteria []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if len(criteria) == 0 {
		return "", errors.New("criteria required")
	}
	data, err := json.Marshal(criteria)
	if err != nil {
		return "", err
	}
	now := s.now()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM criteria_templates WHERE name=?`, name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = "saved-" + uuid.NewString()
		if _, err := tx.ExecContext(ctx, `INSERT INTO criteria_templates(id,name,criteria_json,created_at,updated_at) VALUES (?,?,?,?,?)`,
			id, name, string(data), now, now); err != nil {
			return "", fmt.Errorf("insert template: %w", err)
		}
	case err != nil:
		return "", err
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE criteria_templates SET criteria_json=?, updated_at=? WHERE id=?`,
			string(data), now, id); err != nil {
			return "", fmt.Errorf("update template: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM criteria_templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Preference returns a stored preference; ok is false when unset.
func (s *Store) Preference(ctx context.Context, key string) (string, bool) {
	var v string
	if err := s.DB.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key=?`, key).Scan(&v); err != nil {
		return "", false
	}
	return v, true
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO preferences(key,value,updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.now())
	return err
}
