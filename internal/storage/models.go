package storage

import "time"

// AuditRecord is one API operation written to the audit trail.
type AuditRecord struct {
	ID        string    `json:"id" db:"id"`
	Op        string    `json:"op" db:"op"` // create, get, stream, append, complete
	XYZID     string    `json:"xyz_id,omitempty" db:"xyz_id"`
	SessionID string    `json:"session_id,omitempty" db:"session_id"`
	User      string    `json:"user" db:"user_name"`
	Org       string    `json:"org" db:"org"`
	Status    string    `json:"status" db:"status"`
	RequestID string    `json:"request_id" db:"request_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
