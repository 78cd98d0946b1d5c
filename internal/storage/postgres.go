package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/xyz"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS definitions (
	id                TEXT PRIMARY KEY,
	fingerprint       TEXT NOT NULL UNIQUE,
	created_timestamp BIGINT NOT NULL,
	updated_timestamp BIGINT NOT NULL,
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
	seq        BIGSERIAL PRIMARY KEY,
	xyz_id     TEXT NOT NULL,
	session_id TEXT NOT NULL,
	code       TEXT NOT NULL,
	message    TEXT NOT NULL,
	ts         BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS session_errors_key_ts
	ON session_errors (xyz_id, session_id, ts, seq);

CREATE TABLE IF NOT EXISTS session_status (
	xyz_id     TEXT NOT NULL,
	session_id TEXT NOT NULL,
	completed  BOOLEAN NOT NULL DEFAULT FALSE,
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
	created_at TIMESTAMPTZ NOT NULL
);
`

// Postgres backs the Store with a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &Postgres{pool: pool}, nil
}

func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

func (db *Postgres) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// PutIfAbsent is a single conditional insert keyed by fingerprint. Postgres
// linearizes the ON CONFLICT path, so concurrent creates with the same
// fingerprint agree on one winning row.
func (db *Postgres) PutIfAbsent(ctx context.Context, def *xyz.Definition) (*xyz.Definition, bool, error) {
	tsJSON, err := encodeTypespec(def.Typespec)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO definitions (id, fingerprint, created_timestamp, updated_timestamp,
			name, description, result_type, channel, graft, typespec, legacy_typespec,
			user_name, org)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (fingerprint) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query,
		def.ID, def.Fingerprint, def.CreatedTimestamp, def.UpdatedTimestamp,
		def.Name, def.Description, def.Type.String(), def.Channel,
		def.Graft, tsJSON, def.LegacyTypespec, def.User, def.Org,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting definition: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return def, true, nil
	}

	existing, err := db.getDefinition(ctx, "fingerprint", def.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (db *Postgres) GetDefinition(ctx context.Context, id string) (*xyz.Definition, error) {
	return db.getDefinition(ctx, "id", id)
}

func (db *Postgres) getDefinition(ctx context.Context, column, value string) (*xyz.Definition, error) {
	query := fmt.Sprintf(`
		SELECT id, fingerprint, created_timestamp, updated_timestamp, name,
			description, result_type, channel, graft, typespec, legacy_typespec,
			user_name, org
		FROM definitions WHERE %s = $1`, column)

	var (
		def        xyz.Definition
		resultType string
		tsJSON     *string
	)
	err := db.pool.QueryRow(ctx, query, value).Scan(
		&def.ID, &def.Fingerprint, &def.CreatedTimestamp, &def.UpdatedTimestamp,
		&def.Name, &def.Description, &resultType, &def.Channel,
		&def.Graft, &tsJSON, &def.LegacyTypespec, &def.User, &def.Org,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xyz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying definition %s=%s: %w", column, value, err)
	}
	if def.Type, err = xyz.ParseResultType(resultType); err != nil {
		return nil, fmt.Errorf("definition %s: %w", def.ID, err)
	}
	if def.Typespec, err = decodeTypespec(tsJSON); err != nil {
		return nil, fmt.Errorf("definition %s: %w", def.ID, err)
	}
	return &def, nil
}

// AppendError relies on the BIGSERIAL sequence for arrival ordering: the
// store hands out strictly increasing seq values, so concurrent producers
// serialize without any lock here.
func (db *Postgres) AppendError(ctx context.Context, rec errlog.Record) (errlog.Record, error) {
	query := `
		INSERT INTO session_errors (xyz_id, session_id, code, message, ts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`

	var seq int64
	err := db.pool.QueryRow(ctx, query,
		rec.XYZID, rec.SessionID, rec.Code.String(), rec.Message, rec.Timestamp,
	).Scan(&seq)
	if err != nil {
		return errlog.Record{}, fmt.Errorf("inserting session error: %w", err)
	}
	rec.Seq = uint64(seq)
	return rec, nil
}

func (db *Postgres) ReadErrors(ctx context.Context, key errlog.Key, startTS int64, after errlog.Cursor, limit int) ([]errlog.Record, error) {
	query := `
		SELECT seq, code, message, ts
		FROM session_errors
		WHERE xyz_id = $1 AND session_id = $2 AND ts >= $3
		  AND (NOT $4::boolean OR ts > $5 OR (ts = $5 AND seq > $6))
		ORDER BY ts, seq
		LIMIT $7`

	rows, err := db.pool.Query(ctx, query,
		key.XYZID, key.SessionID, startTS,
		after.Set, after.Timestamp, int64(after.Seq), limit,
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

func (db *Postgres) SetSessionCompleted(ctx context.Context, key errlog.Key) error {
	query := `
		INSERT INTO session_status (xyz_id, session_id, completed)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (xyz_id, session_id) DO UPDATE SET completed = TRUE`

	if _, err := db.pool.Exec(ctx, query, key.XYZID, key.SessionID); err != nil {
		return fmt.Errorf("marking session completed: %w", err)
	}
	return nil
}

func (db *Postgres) SessionCompleted(ctx context.Context, key errlog.Key) (bool, error) {
	var completed bool
	err := db.pool.QueryRow(ctx,
		`SELECT completed FROM session_status WHERE xyz_id = $1 AND session_id = $2`,
		key.XYZID, key.SessionID,
	).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying session status: %w", err)
	}
	return completed, nil
}

func (db *Postgres) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	query := `
		INSERT INTO audit_log (id, op, xyz_id, session_id, user_name, org, status, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.Op, rec.XYZID, rec.SessionID,
		rec.User, rec.Org, rec.Status, rec.RequestID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

func encodeTypespec(ts *xyz.Typespec) (*string, error) {
	if ts == nil {
		return nil, nil
	}
	b, err := json.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("encoding typespec: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeTypespec(raw *string) (*xyz.Typespec, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var ts xyz.Typespec
	if err := json.Unmarshal([]byte(*raw), &ts); err != nil {
		return nil, fmt.Errorf("decoding typespec: %w", err)
	}
	return &ts, nil
}
