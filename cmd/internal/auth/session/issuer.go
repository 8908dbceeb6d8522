package session

import (
	"context"
	"time"

	"parley/cmd/identity/ids"
	"parley/cmd/security/token"
)

// Pair is a freshly minted credential set.
type Pair struct {
	UserID           string
	EntryID          string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Issuer mints paired credentials. It holds no state of its own.
type Issuer struct {
	cfg    Config
	codec  TokenCodec
	store  Store
	hasher token.Hasher
}

func NewIssuer(cfg Config, codec TokenCodec, store Store, hasher token.Hasher) *Issuer {
	return &Issuer{cfg: cfg, codec: codec, store: store, hasher: hasher}
}

// IssuePair mints a pair for userID whose refresh entry roots a new lineage.
func (i *Issuer) IssuePair(ctx context.Context, userID string, dev DeviceContext, now time.Time) (Pair, error) {
	entry, pair, err := i.mint(userID, "", "", dev, now)
	if err != nil {
		return Pair{}, err
	}
	if err := i.store.Create(ctx, entry); err != nil {
		return Pair{}, persistence("create entry", err)
	}
	return pair, nil
}

// mint builds an active entry and its signed pair without persisting anything.
// An empty lineageID makes the entry its own lineage root.
func (i *Issuer) mint(userID, lineageID, parentID string, dev DeviceContext, now time.Time) (Entry, Pair, error) {
	now = now.UTC().Truncate(time.Second)

	id, err := ids.NewULID(now)
	if err != nil {
		return Entry{}, Pair{}, err
	}
	if lineageID == "" {
		lineageID = id
	}

	accessExp := now.Add(i.cfg.AccessTTL)
	refreshExp := now.Add(i.cfg.RefreshTTL)

	access, err := i.codec.Sign(Claims{Kind: KindAccess, UserID: userID, EntryID: id, IssuedAt: now, ExpiresAt: accessExp})
	if err != nil {
		return Entry{}, Pair{}, err
	}
	refresh, err := i.codec.Sign(Claims{Kind: KindRefresh, UserID: userID, EntryID: id, IssuedAt: now, ExpiresAt: refreshExp})
	if err != nil {
		return Entry{}, Pair{}, err
	}

	entry := Entry{
		ID:        id,
		UserID:    userID,
		LineageID: lineageID,
		ParentID:  parentID,
		State:     StateActive,
		TokenHash: i.hasher.Hash(refresh),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		Device:    dev,
	}
	pair := Pair{
		UserID:           userID,
		EntryID:          id,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}
	return entry, pair, nil
}
