package model

import (
	"slices"
	"time"
)

// Envelope is the stored unit: a notification plus the routing and expiry
// metadata that never leaves the server.
type Envelope struct {
	Notification    Notification  `json:"notification"`
	User            string        `json:"user,omitempty"`
	ExcludedUserIDs []string      `json:"excludedUserIds,omitempty"`
	Timeout         time.Duration `json:"timeout"`
}

// ExpiresAt is the creation time plus the time-to-live.
func (e *Envelope) ExpiresAt() time.Time {
	return e.Notification.CreationTime.Add(e.Timeout)
}

// Expired reports whether the envelope expired before now.
func (e *Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt().Before(now)
}

// VisibleTo reports whether user may receive the envelope. An envelope
// addressed to a user matches only that user; an envelope with excluded users
// matches everybody else, anonymous callers included.
func (e *Envelope) VisibleTo(user string) bool {
	if e.User != "" {
		return e.User == user
	}
	if len(e.ExcludedUserIDs) == 0 {
		return true
	}
	return !slices.Contains(e.ExcludedUserIDs, user)
}
