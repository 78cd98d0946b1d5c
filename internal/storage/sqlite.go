package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/xyz"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS definitions (
	id                TEXT PRIMARY KEY,
	fingerprint       TEXT NOT NULL UNIQUE,
	created_timestamp INTEGER NOT NULL,
	updated_timestamp INTEGER NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	result_type       TEXT NOT NULL,
	channel           TEXT NOT NULL,
	graft             TEXT NOT NULL,
	typespec          TEXT,
	legacy_typespec   TEXT NOT NULL DEFAULT '',
	user_name         TEXT NOT NULL,
	org               TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS session_errors (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	xyz_id     TEXT NOT NULL,
	session_id TEXT NOT NULL,
	code       TEXT NOT NULL,
	message    TEXT NOT NULL,
	ts         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS session_errors_key_ts
	ON session_errors (xyz_id, session_id, ts, seq);

CREATE TABLE IF NOT EXISTS session_status (
	xyz_id     TEXT NOT NULL,
	session_id TEXT NOT NULL,
	completed  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (xyz_id, session_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	op         TEXT NOT NULL,
	xyz_id     TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL DEFAULT '',
	org        TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// SQLite backs the Store with an embedded database file. Suited to
// single-node and development deployments; the schema and the conditional
// insert mirror the Postgres backend.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) the database at path and ensures
// the schema. Use ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// database/sql pools connections, but each :memory: connection is its
	// own database; a single connection keeps the schema visible everywhere.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	log.Info().Str("path", path).Msg("opened sqlite store")
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// PutIfAbsent uses INSERT OR IGNORE on the fingerprint unique index; the
// database serializes writers, so the check-then-insert is atomic.
func (s *SQLite) PutIfAbsent(ctx context.Context, def *xyz.Definition) (*xyz.Definition, bool, error) {
	tsJSON, err := encodeTypespec(def.Typespec)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO definitions (id, fingerprint, created_timestamp,
			updated_timestamp, name, description, result_type, channel, graft,
			typespec, legacy_typespec, user_name, org)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Fingerprint, def.CreatedTimestamp, def.UpdatedTimestamp,
		def.Name, def.Description, def.Type.String(), def.Channel,
		def.Graft, tsJSON, def.LegacyTypespec, def.User, def.Org,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting definition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking insert result: %w", err)
	}
	if affected == 1 {
		return def, true, nil
	}

	existing, err := s.getDefinition(ctx, "fingerprint", def.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *SQLite) GetDefinition(ctx context.Context, id string) (*xyz.Definition, error) {
	return s.getDefinition(ctx, "id", id)
}

func (s *SQLite) getDefinition(ctx context.Context, column, value string) (*xyz.Definition, error) {
	query := fmt.Sprintf(`
		SELECT id, fingerprint, created_timestamp, updated_timestamp, name,
			description, result_type, channel, graft, typespec, legacy_typespec,
			user_name, org
		FROM definitions WHERE %s = ?`, column)

	var (
		def        xyz.Definition
		resultType string
		tsJSON     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&def.ID, &def.Fingerprint, &def.CreatedTimestamp, &def.UpdatedTimestamp,
		&def.Name, &def.Description, &resultType, &def.Channel,
		&def.Graft, &tsJSON, &def.LegacyTypespec, &def.User, &def.Org,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xyz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying definition %s=%s: %w", column, value, err)
	}
	if def.Type, err = xyz.ParseResultType(resultType); err != nil {
		return nil, fmt.Errorf("definition %s: %w", def.ID, err)
	}
	var raw *string
	if tsJSON.Valid {
		raw = &tsJSON.String
	}
	if def.Typespec, err = decodeTypespec(raw); err != nil {
		return nil, fmt.Errorf("definition %s: %w", def.ID, err)
	}
	return &def, nil
}

func (s *SQLite) AppendError(ctx context.Context, rec errlog.Record) (errlog.Record, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_errors (xyz_id, session_id, code, message, ts)
		VALUES (?, ?, ?, ?, ?)`,
		rec.XYZID, rec.SessionID, rec.Code.String(), rec.Message, rec.Timestamp,
	)
	if err != nil {
		return errlog.Record{}, fmt.Errorf("inserting session error: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return errlog.Record{}, fmt.Errorf("reading arrival sequence: %w", err)
	}
	rec.Seq = uint64(seq)
	return rec, nil
}

func (s *SQLite) ReadErrors(ctx context.Context, key errlog.Key, startTS int64, after errlog.Cursor, limit int) ([]errlog.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, code, message, ts
		FROM session_errors
		WHERE xyz_id = ? AND session_id = ? AND ts >= ?
		  AND (? = 0 OR ts > ? OR (ts = ? AND seq > ?))
		ORDER BY ts, seq
		LIMIT ?`,
		key.XYZID, key.SessionID, startTS,
		boolToInt(after.Set), after.Timestamp, after.Timestamp, int64(after.Seq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying session errors: %w", err)
	}
	defer rows.Close()

	var out []errlog.Record
	for rows.Next() {
		rec := errlog.Record{XYZID: key.XYZID, SessionID: key.SessionID}
		var (
			seq  int64
			code string
		)
		if err := rows.Scan(&seq, &code, &rec.Message, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning session error row: %w", err)
		}
		rec.Seq = uint64(seq)
		if rec.Code, err = errlog.ParseErrorCode(code); err != nil {
			return nil, fmt.Errorf("session error seq %d: %w", seq, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) SetSessionCompleted(ctx context.Context, key errlog.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_status (xyz_id, session_id, completed)
		VALUES (?, ?, 1)
		ON CONFLICT (xyz_id, session_id) DO UPDATE SET completed = 1`,
		key.XYZID, key.SessionID,
	)
	if err != nil {
		return fmt.Errorf("marking session completed: %w", err)
	}
	return nil
}

func (s *SQLite) SessionCompleted(ctx context.Context, key errlog.Key) (bool, error) {
	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM session_status WHERE xyz_id = ? AND session_id = ?`,
		key.XYZID, key.SessionID,
	).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying session status: %w", err)
	}
	return completed != 0, nil
}

func (s *SQLite) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, op, xyz_id, session_id, user_name, org, status, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Op, rec.XYZID, rec.SessionID,
		rec.User, rec.Org, rec.Status, rec.RequestID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
