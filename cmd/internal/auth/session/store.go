package session

import (
	"context"
	"time"
)

// Store persists refresh entries.
//
// InLineage runs fn with exclusive access to one lineage; writes made through
// the LineageTx become visible atomically when fn returns nil, and are
// discarded otherwise. Unrelated lineages must not contend.
type Store interface {
	Create(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	InLineage(ctx context.Context, lineageID string, fn func(LineageTx) error) error

	// ActiveLineages lists lineages owned by userID with an active entry.
	ActiveLineages(ctx context.Context, userID string) ([]string, error)

	// DeleteExpired removes entries whose expiry is before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// LineageTx is the view of a single lineage inside Store.InLineage.
type LineageTx interface {
	Get(ctx context.Context, id string) (Entry, error)

	// Active returns the lineage's active entry, or ErrEntryNotFound.
	Active(ctx context.Context) (Entry, error)

	Create(ctx context.Context, e Entry) error

	// MarkRotated moves an active entry to rotated and links it forward.
	MarkRotated(ctx context.Context, id, supersededBy string) error

	// Revoke reports whether the entry changed; already revoked entries are left alone.
	Revoke(ctx context.Context, id string, now time.Time, reason RevokeReason) (bool, error)
}
