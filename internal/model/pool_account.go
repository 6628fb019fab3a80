package model

import "time"

const (
	AccountStatusActive      = "active"
	AccountStatusNeedsReauth = "needs_reauth"
	AccountStatusDisabled    = "disabled"
)

// PoolAccount is a mailbox account used purely to receive and act on
// campaign senders' mail. The credential blob is sealed at rest and opaque
// to everything except the executor.
type PoolAccount struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	Credential []byte     `json:"-"`
	Status     string     `json:"status"`
	// Advisory only. The allocator's own state is authoritative for reuse
	// decisions.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (a *PoolAccount) IsActive() bool {
	return a.Status == AccountStatusActive
}
