package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// Schema version for migrations
const currentSchemaVersion = 2

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates it to the current schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Serialize writers; background writes from several flows share this handle
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("sqlite: session store opened", "path", path)
	return store, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		version = 0
	}
	if version >= currentSchemaVersion {
		L_debug("sqlite: schema up to date", "version", version)
		return nil
	}

	L_info("sqlite: migrating schema", "from", version, "to", currentSchemaVersion)
	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("sqlite: applied migration", "version", i+1)
	}
	return nil
}

// migrateV1 creates the sessions table
func migrateV1(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		activation TEXT NOT NULL DEFAULT '',
		last_route TEXT,
		last_message_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)", time.Now().Unix())
	return err
}

// migrateV2 adds heartbeat snapshots
func migrateV2(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS heartbeats (
		surface TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (2, ?)", time.Now().Unix())
	return err
}

func (s *SQLiteStore) GetActivation(ctx context.Context, key string) (string, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, "SELECT activation FROM sessions WHERE key = ?", key).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get activation: %w", err)
	}
	return mode, nil
}

func (s *SQLiteStore) SetActivation(ctx context.Context, key, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, activation, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET activation = excluded.activation, updated_at = excluded.updated_at`,
		key, mode, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set activation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLastRoute(ctx context.Context, key string) (*Route, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT last_route FROM sessions WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last route: %w", err)
	}
	var r Route
	if err := json.Unmarshal([]byte(raw.String), &r); err != nil {
		return nil, fmt.Errorf("decode last route: %w", err)
	}
	return &r, nil
}

func (s *SQLiteStore) SetLastRoute(ctx context.Context, key string, route Route) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("encode last route: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, last_route, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET last_route = excluded.last_route, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set last route: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, last_message_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_message_at = MAX(sessions.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		key, at.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordHeartbeat(ctx context.Context, hb Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO heartbeats (surface, data, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT(surface) DO UPDATE SET data = excluded.data, recorded_at = excluded.recorded_at`,
		hb.Surface, string(data), hb.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastHeartbeat(ctx context.Context, surface string) (*Heartbeat, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM heartbeats WHERE surface = ?", surface).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last heartbeat: %w", err)
	}
	var hb Heartbeat
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return nil, fmt.Errorf("decode heartbeat: %w", err)
	}
	return &hb, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, activation, last_route, last_message_at, updated_at FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var (
			info      Info
			route     sql.NullString
			lastMsg   int64
			updatedAt int64
		)
		if err := rows.Scan(&info.Key, &info.Activation, &route, &lastMsg, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if lastMsg > 0 {
			info.LastMessageAt = time.UnixMilli(lastMsg)
		}
		info.UpdatedAt = time.UnixMilli(updatedAt)
		if route.Valid {
			var r Route
			if err := json.Unmarshal([]byte(route.String), &r); err == nil {
				info.LastRoute = &r
			}
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		L_info("sqlite: pruned sessions", "count", n, "before", before.Format(time.RFC3339))
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
