package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the refresh_entries table.
//
// InLineage serializes on pg_advisory_xact_lock(hashtextextended(lineage_id, 0))
// and re-reads rows FOR UPDATE, so two rotations of one lineage queue up
// while unrelated lineages proceed in parallel.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = "parley"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier %q", schema)
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

const entryColumns = `id, user_id, lineage_id, parent_id, superseded_by, state, token_hash,
	issued_at, expires_at, revoked_at, revoke_reason, user_agent, host(ip)`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "refresh_entries"}.Sanitize()
}

func (s *PostgresStore) Create(ctx context.Context, e Entry) error {
	return insertEntry(ctx, s.pool, s.table(), e)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	return scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM `+s.table()+` WHERE id = $1`, id))
}

func (s *PostgresStore) InLineage(ctx context.Context, lineageID string, fn func(LineageTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lineageID); err != nil {
		return err
	}

	if err := fn(&pgLineageTx{tx: tx, table: s.table(), lineage: lineageID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ActiveLineages(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lineage_id FROM `+s.table()+` WHERE user_id = $1 AND state = 'active'`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type pgLineageTx struct {
	tx      pgx.Tx
	table   string
	lineage string
}

func (t *pgLineageTx) Get(ctx context.Context, id string) (Entry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM `+t.table+` WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgLineageTx) Active(ctx context.Context) (Entry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM `+t.table+` WHERE lineage_id = $1 AND state = 'active' FOR UPDATE`, t.lineage))
}

func (t *pgLineageTx) Create(ctx context.Context, e Entry) error {
	if e.LineageID != t.lineage {
		return fmt.Errorf("entry %s does not belong to lineage %s", e.ID, t.lineage)
	}
	return insertEntry(ctx, t.tx, t.table, e)
}

func (t *pgLineageTx) MarkRotated(ctx context.Context, id, supersededBy string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE `+t.table+` SET state = 'rotated', superseded_by = $2 WHERE id = $1 AND state = 'active'`,
		id, supersededBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("entry %s is not active", id)
	}
	return nil
}

func (t *pgLineageTx) Revoke(ctx context.Context, id string, now time.Time, reason RevokeReason) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE `+t.table+`
		    SET state = 'revoked', revoked_at = $2, revoke_reason = $3
		  WHERE id = $1 AND state <> 'revoked'`,
		id, now, string(reason))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish "already revoked" from "missing".
	var one int
	err = t.tx.QueryRow(ctx, `SELECT 1 FROM `+t.table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrEntryNotFound
	}
	return false, err
}

// execQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEntry(ctx context.Context, q execQuerier, table string, e Entry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO `+table+` (
			id, user_id, lineage_id, parent_id, superseded_by, state, token_hash,
			issued_at, expires_at, revoked_at, revoke_reason, user_agent, ip
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7,
			$8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, '')::inet
		)`,
		e.ID, e.UserID, e.LineageID, e.ParentID, e.SupersededBy, string(e.State), e.TokenHash,
		e.IssuedAt, e.ExpiresAt, e.RevokedAt, string(e.RevokeReason), e.Device.UserAgent, e.Device.IP,
	)
	return err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                                       Entry
		parent, superseded, reason, agent, host *string
		state                                   string
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.LineageID, &parent, &superseded, &state, &e.TokenHash,
		&e.IssuedAt, &e.ExpiresAt, &e.RevokedAt, &reason, &agent, &host,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	e.State = State(state)
	e.ParentID = deref(parent)
	e.SupersededBy = deref(superseded)
	e.RevokeReason = RevokeReason(deref(reason))
	e.Device = DeviceContext{UserAgent: deref(agent), IP: strings.TrimSpace(deref(host))}
	return e, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
