package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parley/cmd/security/token"
)

// Observer receives rotation outcomes. The metrics package implements it.
type Observer interface {
	RotationOutcome(outcome string)
	LineageRevoked(reason string, entries int)
}

type nopObserver struct{}

func (nopObserver) RotationOutcome(string)     {}
func (nopObserver) LineageRevoked(string, int) {}

// Registry is the refresh-token state machine:
//
//	active --rotate--> rotated
//	active --revoke--> revoked
//	rotated --revoke--> revoked
//
// Expiry is implicit and checked against ExpiresAt.
type Registry struct {
	issuer *Issuer
	codec  TokenCodec
	store  Store
	hasher token.Hasher
	max    int
	log    *slog.Logger
	obs    Observer
}

func NewRegistry(issuer *Issuer, codec TokenCodec, store Store, hasher token.Hasher, maxLineage int, log *slog.Logger, obs Observer) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Registry{issuer: issuer, codec: codec, store: store, hasher: hasher, max: maxLineage, log: log, obs: obs}
}

// Rotate exchanges a refresh token for a new pair. Each refresh token rotates
// exactly once; presenting it again revokes its whole lineage and returns
// ErrTokenReuseDetected.
func (r *Registry) Rotate(ctx context.Context, presented string, dev DeviceContext, now time.Time) (Pair, error) {
	pair, outcome, err := r.rotate(ctx, presented, dev, now)
	r.obs.RotationOutcome(outcome)
	return pair, err
}

func (r *Registry) rotate(ctx context.Context, presented string, dev DeviceContext, now time.Time) (Pair, string, error) {
	claims, err := r.codec.Parse(presented)
	if err != nil || claims.Kind != KindRefresh {
		return Pair{}, "invalid", ErrInvalidToken
	}

	entry, err := r.store.Get(ctx, claims.EntryID)
	if errors.Is(err, ErrEntryNotFound) {
		return Pair{}, "unknown", ErrUnknownToken
	}
	if err != nil {
		return Pair{}, "error", persistence("get entry", err)
	}
	if entry.UserID != claims.UserID || !r.hasher.Matches(presented, entry.TokenHash) {
		return Pair{}, "invalid", ErrInvalidToken
	}

	var (
		pair    Pair
		refused error
		revoked int
	)
	err = r.store.InLineage(ctx, entry.LineageID, func(tx LineageTx) error {
		cur, err := tx.Get(ctx, entry.ID)
		if err != nil {
			return err
		}

		switch {
		case cur.State == StateRotated:
			n, err := r.revokeLineage(ctx, tx, cur, now, ReasonReuseDetected)
			if err != nil {
				return err
			}
			revoked, refused = n, ErrTokenReuseDetected
			return nil
		case cur.State == StateRevoked:
			refused = ErrTokenRevoked
			return nil
		case cur.Expired(now):
			refused = ErrTokenExpired
			return nil
		}

		next, p, err := r.issuer.mint(cur.UserID, cur.LineageID, cur.ID, dev, now)
		if err != nil {
			return err
		}
		if err := tx.MarkRotated(ctx, cur.ID, next.ID); err != nil {
			return err
		}
		if err := tx.Create(ctx, next); err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return Pair{}, "error", persistence("rotate", err)
	}

	switch {
	case errors.Is(refused, ErrTokenReuseDetected):
		r.log.Warn("auth.refresh.reuse_detected",
			"user_id", entry.UserID,
			"lineage_id", entry.LineageID,
			"entry_id", entry.ID,
			"revoked", revoked,
		)
		r.obs.LineageRevoked(string(ReasonReuseDetected), revoked)
		return Pair{}, "reuse_detected", refused
	case errors.Is(refused, ErrTokenRevoked):
		return Pair{}, "revoked", refused
	case errors.Is(refused, ErrTokenExpired):
		return Pair{}, "expired", refused
	}
	return pair, "rotated", nil
}

// Revoke moves an entry to revoked. Unknown and already revoked entries are
// a successful no-op.
func (r *Registry) Revoke(ctx context.Context, entryID string, reason RevokeReason, now time.Time) error {
	entry, err := r.store.Get(ctx, entryID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return persistence("get entry", err)
	}
	if entry.State == StateRevoked {
		return nil
	}

	err = r.store.InLineage(ctx, entry.LineageID, func(tx LineageTx) error {
		_, err := tx.Revoke(ctx, entryID, now, reason)
		if errors.Is(err, ErrEntryNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return persistence("revoke", err)
	}
	return nil
}

// RevokeToken revokes the entry named by a refresh token. Only the signature
// and kind are checked: an expired token can still be logged out.
func (r *Registry) RevokeToken(ctx context.Context, presented string, now time.Time) error {
	claims, err := r.codec.Parse(presented)
	if err != nil || claims.Kind != KindRefresh {
		return ErrInvalidToken
	}
	return r.Revoke(ctx, claims.EntryID, ReasonLogout, now)
}

// RevokeAll revokes every lineage of userID that still has an active entry,
// and returns the number of entries changed.
func (r *Registry) RevokeAll(ctx context.Context, userID string, now time.Time) (int, error) {
	lineages, err := r.store.ActiveLineages(ctx, userID)
	if err != nil {
		return 0, persistence("list lineages", err)
	}

	total := 0
	for _, lineageID := range lineages {
		err := r.store.InLineage(ctx, lineageID, func(tx LineageTx) error {
			head, err := tx.Active(ctx)
			if errors.Is(err, ErrEntryNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			n, err := r.revokeLineage(ctx, tx, head, now, ReasonLogoutAll)
			total += n
			return err
		})
		if err != nil {
			return total, persistence("revoke lineage", err)
		}
	}
	if total > 0 {
		r.obs.LineageRevoked(string(ReasonLogoutAll), total)
	}
	return total, nil
}

// revokeLineage walks ParentID and SupersededBy links from start and revokes
// every reachable entry. The walk visits at most r.max entries.
func (r *Registry) revokeLineage(ctx context.Context, tx LineageTx, start Entry, now time.Time, reason RevokeReason) (int, error) {
	seen := make(map[string]struct{}, 8)
	queue := []string{start.ID}
	changed := 0

	for len(queue) > 0 && len(seen) < r.max {
		id := queue[0]
		queue = queue[1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		e, err := tx.Get(ctx, id)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return changed, err
		}
		if e.LineageID != start.LineageID {
			continue
		}

		ok, err := tx.Revoke(ctx, e.ID, now, reason)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
		if e.ParentID != "" {
			queue = append(queue, e.ParentID)
		}
		if e.SupersededBy != "" {
			queue = append(queue, e.SupersededBy)
		}
	}

	if len(queue) > 0 {
		r.log.Warn("auth.lineage.walk_truncated", "lineage_id", start.LineageID, "limit", r.max)
	}
	return changed, nil
}
