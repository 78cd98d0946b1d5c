package api

import (
	"xyz-layer-registry/internal/errlog"
	"xyz-layer-registry/internal/xyz"
)

// XYZ is the wire form of a computation definition. Field names follow the
// published schema and must stay bit-compatible: serialized_typespec is the
// deprecated legacy form, kept readable for old records but never produced
// for new registrations; user and org are server-assigned and ignored on
// inbound create requests, as are id and the timestamps.
type XYZ struct {
	ID                 string         `json:"id,omitempty"`
	CreatedTimestamp   int64          `json:"created_timestamp,omitempty"`
	UpdatedTimestamp   int64          `json:"updated_timestamp,omitempty"`
	Name               string         `json:"name,omitempty"`
	Description        string         `json:"description,omitempty"`
	Type               xyz.ResultType `json:"type"`
	Channel            string         `json:"channel"`
	SerializedGraft    string         `json:"serialized_graft"`
	SerializedTypespec string         `json:"serialized_typespec,omitempty"` // deprecated
	Typespec           *xyz.Typespec  `json:"typespec,omitempty"`
	User               string         `json:"user,omitempty"`
	Org                string         `json:"org,omitempty"`
}

// CreateXYZRequest carries the draft definition to register.
type CreateXYZRequest struct {
	XYZ XYZ `json:"xyz"`
}

// XYZError is the wire form of one session error record.
type XYZError struct {
	Code      errlog.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Timestamp int64            `json:"timestamp"`
	SessionID string           `json:"session_id"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Store  bool   `json:"store"`
	Uptime string `json:"uptime"`
}

// draftFromWire converts an inbound XYZ into a draft, dropping every
// server-assigned field a client may have set.
func draftFromWire(in XYZ) *xyz.Draft {
	return &xyz.Draft{
		Name:           in.Name,
		Description:    in.Description,
		Type:           in.Type,
		Channel:        in.Channel,
		Graft:          in.SerializedGraft,
		Typespec:       in.Typespec,
		LegacyTypespec: in.SerializedTypespec,
	}
}

// toWire converts a stored definition into its wire form.
func toWire(def *xyz.Definition) XYZ {
	return XYZ{
		ID:                 def.ID,
		CreatedTimestamp:   def.CreatedTimestamp,
		UpdatedTimestamp:   def.UpdatedTimestamp,
		Name:               def.Name,
		Description:        def.Description,
		Type:               def.Type,
		Channel:            def.Channel,
		SerializedGraft:    def.Graft,
		SerializedTypespec: def.LegacyTypespec,
		Typespec:           def.Typespec,
		User:               def.User,
		Org:                def.Org,
	}
}

// errorToWire converts a ledger record into its wire form.
func errorToWire(rec errlog.Record) XYZError {
	return XYZError{
		Code:      rec.Code,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
		SessionID: rec.SessionID,
	}
}
