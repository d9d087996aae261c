// Package accesslog records every authentication attempt.
//
// The device is offline-first: entries are written to the local SQLite
// buffer synchronously, then pushed to the backend and announced over
// MQTT on a best-effort basis. The synced flag drives a background loop
// that drains the buffer whenever connectivity returns, so the audit
// trail survives network outages without ever blocking a session.
package accesslog

import "time"

// AccessType classifies the outcome of an attempt.
type AccessType string

// Access types, matching the backend's access_logs vocabulary.
const (
	TypeSuccess           AccessType = "success"
	TypeFailedPassword    AccessType = "failed_password"
	TypeFailedFace        AccessType = "failed_face"
	TypeFailedFingerprint AccessType = "failed_fingerprint"
	TypeFailedCombined    AccessType = "failed_combined"
	TypeBreakInAttempt    AccessType = "break_in_attempt"
)

// Method identifies which credential path produced the entry.
type Method string

// Authentication methods.
const (
	MethodPassword    Method = "password"
	MethodFace        Method = "face"
	MethodFingerprint Method = "fingerprint"
	MethodCombined    Method = "combined"
)

// Entry is one access log record.
type Entry struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id,omitempty"`
	AccessType           AccessType `json:"access_type"`
	AuthenticationMethod Method     `json:"authentication_method"`
	ConfidenceScore      *float64   `json:"confidence_score,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	Synced               bool       `json:"synced"`
	CreatedAt            time.Time  `json:"created_at"`
}
