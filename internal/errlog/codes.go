// Package errlog implements the per-session, append-only error ledger and
// the coordinator that streams it to clients.
package errlog

import (
	"encoding/json"
	"fmt"
)

// ErrorCode is the system-wide taxonomy of execution failures reported by
// session executors.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeInvalid
	CodeTimeout
	CodeOOM
	CodeInterrupt
	CodeTerminated
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:    "UNKNOWN",
	CodeInvalid:    "INVALID",
	CodeTimeout:    "TIMEOUT",
	CodeOOM:        "OOM",
	CodeInterrupt:  "INTERRUPT",
	CodeTerminated: "TERMINATED",
}

var codeValues = map[string]ErrorCode{
	"UNKNOWN":    CodeUnknown,
	"INVALID":    CodeInvalid,
	"TIMEOUT":    CodeTimeout,
	"OOM":        CodeOOM,
	"INTERRUPT":  CodeInterrupt,
	"TERMINATED": CodeTerminated,
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ParseErrorCode converts a wire enum name into an ErrorCode.
func ParseErrorCode(s string) (ErrorCode, error) {
	if c, ok := codeValues[s]; ok {
		return c, nil
	}
	return CodeUnknown, fmt.Errorf("unknown error code %q", s)
}

func (c ErrorCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ErrorCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseErrorCode(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Record is one execution error reported by a session. Timestamp is
// producer-supplied epoch milliseconds and not strictly increasing across
// producers; Seq is assigned at ingestion and breaks ties, so
// (Timestamp, Seq) totally orders a session's log.
type Record struct {
	XYZID     string
	SessionID string
	Code      ErrorCode
	Message   string
	Timestamp int64
	Seq       uint64
}

// Key identifies one session's ledger.
type Key struct {
	XYZID     string
	SessionID string
}

func (k Key) String() string {
	return k.XYZID + "/" + k.SessionID
}
