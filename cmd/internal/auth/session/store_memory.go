package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errDuplicateEntry = errors.New("duplicate refresh entry")

// MemoryStore keeps refresh entries in memory. Each lineage has its own
// reference-counted mutex; writes inside InLineage are staged and applied
// together on success.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	byLineage map[string]map[string]struct{}

	locks lineageLocks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]Entry),
		byLineage: make(map[string]map[string]struct{}),
		locks:     lineageLocks{m: make(map[string]*lineageLock)},
	}
}

func (s *MemoryStore) Create(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; ok {
		return errDuplicateEntry
	}
	if e.State == StateActive && len(s.activeLocked(e.LineageID, nil)) > 0 {
		return fmt.Errorf("lineage %s already has an active entry", e.LineageID)
	}
	s.putLocked(e)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (s *MemoryStore) InLineage(ctx context.Context, lineageID string, fn func(LineageTx) error) error {
	unlock := s.locks.lock(lineageID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: s, lineage: lineageID, staged: make(map[string]Entry)}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) ActiveLineages(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, e := range s.entries {
		if e.UserID == userID && e.State == StateActive {
			out = append(out, e.LineageID)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.entries {
		if !e.ExpiresAt.Before(before) {
			continue
		}
		delete(s.entries, id)
		if members := s.byLineage[e.LineageID]; members != nil {
			delete(members, id)
			if len(members) == 0 {
				delete(s.byLineage, e.LineageID)
			}
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.activeLocked(tx.lineage, tx.staged)) > 1 {
		return fmt.Errorf("lineage %s would have more than one active entry", tx.lineage)
	}
	for _, e := range tx.staged {
		s.putLocked(e)
	}
	return nil
}

func (s *MemoryStore) putLocked(e Entry) {
	s.entries[e.ID] = e
	members := s.byLineage[e.LineageID]
	if members == nil {
		members = make(map[string]struct{})
		s.byLineage[e.LineageID] = members
	}
	members[e.ID] = struct{}{}
}

// activeLocked lists the active entry IDs of a lineage as seen through overlay.
func (s *MemoryStore) activeLocked(lineageID string, overlay map[string]Entry) []string {
	var ids []string
	for id := range s.byLineage[lineageID] {
		e := s.entries[id]
		if staged, ok := overlay[id]; ok {
			e = staged
		}
		if e.State == StateActive {
			ids = append(ids, id)
		}
	}
	for id, e := range overlay {
		if _, persisted := s.entries[id]; persisted {
			continue
		}
		if e.LineageID == lineageID && e.State == StateActive {
			ids = append(ids, id)
		}
	}
	return ids
}

type memoryTx struct {
	store   *MemoryStore
	lineage string
	staged  map[string]Entry
}

func (tx *memoryTx) Get(ctx context.Context, id string) (Entry, error) {
	if e, ok := tx.staged[id]; ok {
		return e, nil
	}
	return tx.store.Get(ctx, id)
}

func (tx *memoryTx) Active(ctx context.Context) (Entry, error) {
	tx.store.mu.RLock()
	ids := tx.store.activeLocked(tx.lineage, tx.staged)
	tx.store.mu.RUnlock()

	switch len(ids) {
	case 0:
		return Entry{}, ErrEntryNotFound
	case 1:
		return tx.Get(ctx, ids[0])
	default:
		return Entry{}, fmt.Errorf("lineage %s has %d active entries", tx.lineage, len(ids))
	}
}

func (tx *memoryTx) Create(ctx context.Context, e Entry) error {
	if _, err := tx.Get(ctx, e.ID); err == nil {
		return errDuplicateEntry
	}
	if e.LineageID != tx.lineage {
		return fmt.Errorf("entry %s does not belong to lineage %s", e.ID, tx.lineage)
	}
	tx.staged[e.ID] = e
	return nil
}

func (tx *memoryTx) MarkRotated(ctx context.Context, id, supersededBy string) error {
	e, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.State != StateActive {
		return fmt.Errorf("entry %s is %s, not active", id, e.State)
	}
	e.State = StateRotated
	e.SupersededBy = supersededBy
	tx.staged[id] = e
	return nil
}

func (tx *memoryTx) Revoke(ctx context.Context, id string, now time.Time, reason RevokeReason) (bool, error) {
	e, err := tx.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if e.State == StateRevoked {
		return false, nil
	}
	at := now
	e.State = StateRevoked
	e.RevokedAt = &at
	e.RevokeReason = reason
	tx.staged[id] = e
	return true, nil
}

// lineageLocks hands out one mutex per lineage and forgets it once no
// goroutine holds or waits on it.
type lineageLocks struct {
	mu sync.Mutex
	m  map[string]*lineageLock
}

type lineageLock struct {
	mu   sync.Mutex
	refs int
}

func (l *lineageLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	ll := l.m[key]
	if ll == nil {
		ll = &lineageLock{}
		l.m[key] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()
	return func() {
		ll.mu.Unlock()
		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
