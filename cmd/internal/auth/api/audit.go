package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant auth action.
type AuditEvent struct {
	Action    string
	UserID    string
	EntryID   string
	IP        string
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// AuditSink records auth events. Record must not block the request on
// failure; implementations log and move on.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEvent) {}

// PostgresAudit appends to the audit_log table.
type PostgresAudit struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewPostgresAudit(pool *pgxpool.Pool, schema string, log *slog.Logger) *PostgresAudit {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAudit{pool: pool, table: pgx.Identifier{schema, "audit_log"}.Sanitize(), log: log}
}

func (a *PostgresAudit) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil || strings.TrimSpace(ev.Action) == "" {
		return
	}

	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}

	_, err := a.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, entry_id, action, ip, user_agent, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, a.table), nilIfEmpty(ev.UserID), nilIfEmpty(ev.EntryID), ev.Action, nilIfEmpty(ev.IP), nilIfEmpty(ev.UserAgent), meta, ev.At)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

// MemoryAudit keeps events in order; tests read them back.
type MemoryAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *MemoryAudit) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *MemoryAudit) Events() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEvent(nil), a.events...)
}

func nilIfEmpty(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
