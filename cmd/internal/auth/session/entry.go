package session

import "time"

// State is a refresh entry's lifecycle state. Expiry is never stored; it is
// derived from ExpiresAt at check time.
type State string

const (
	StateActive  State = "active"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
)

type RevokeReason string

const (
	ReasonLogout        RevokeReason = "logout"
	ReasonLogoutAll     RevokeReason = "logout_all"
	ReasonReuseDetected RevokeReason = "reuse_detected"
)

// DeviceContext is recorded on each entry for audit.
type DeviceContext struct {
	UserAgent string
	IP        string
}

// Entry is the persisted half of a refresh token.
//
// LineageID is the ID of the lineage root; every rotation copies it forward.
// ParentID and SupersededBy are the backward and forward links of the chain.
type Entry struct {
	ID           string
	UserID       string
	LineageID    string
	ParentID     string
	SupersededBy string
	State        State
	TokenHash    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason RevokeReason
	Device       DeviceContext
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool { return !now.Before(e.ExpiresAt) }
