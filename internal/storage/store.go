// Package storage provides the persistent store behind the registry and the
// session error ledger. Three backends implement the same Store interface:
// PostgreSQL for production, SQLite for embedded deployments, and an
// in-memory store for development and tests.
package storage

import (
	"context"
	"fmt"

	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/xyz"
)

// Store is the full persistence surface the service needs. The definition
// half satisfies xyz.DefinitionStore, the error half errlog.Store.
type Store interface {
	xyz.DefinitionStore
	errlog.Store

	// AppendAudit records one API operation. Best-effort consumers (the
	// audit writer) tolerate failures; callers on the request path do not
	// write audit rows synchronously.
	AppendAudit(ctx context.Context, rec *AuditRecord) error

	Healthy(ctx context.Context) bool
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend string // "postgres", "sqlite", or "memory"
	DSN     string // postgres connection string
	Path    string // sqlite database file
}

// Open constructs the configured backend. An empty backend falls back to
// memory so the service runs without any store configured.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
