package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store over the conversations and messages tables.
//
// The pool is owned by the caller. Seq allocation takes a per-conversation
// advisory lock, so concurrent appends to one conversation get gapless,
// strictly increasing sequence numbers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return fmt.Errorf("chat: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

const conversationColumns = `id, user_id, title, model, system_prompt, visibility, created_at, updated_at`

func (s *PostgresStore) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("conversations")+` (`+conversationColumns+`)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8)`,
		c.ID, c.UserID, c.Title, c.Model, c.SystemPrompt, string(c.Visibility), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+s.ident("conversations")+` WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	return c, err
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM `+s.ident("conversations")+`
		  WHERE user_id = $1
		  ORDER BY updated_at DESC, id DESC
		  LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Conversation, error) {
		return scanConversation(r)
	})
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m Message) (Message, error) {
	meta, err := encodeMeta(m.ProviderMeta)
	if err != nil {
		return Message{}, err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, m.ConversationID); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.ident("conversations")+` SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		m.ConversationID, m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrConversationNotFound
	}

	messages := s.ident("messages")
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM `+messages+` WHERE conversation_id = $1`,
		m.ConversationID,
	).Scan(&m.Seq); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, seq, author_id, role, content, status, tokens, provider_meta, created_at, updated_at
		   ) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ConversationID, m.Seq, m.AuthorID, string(m.Role), m.Content, string(m.Status),
		m.Tokens, meta, m.CreatedAt, m.UpdatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, p MessagePatch) error {
	meta, err := encodeMeta(p.ProviderMeta)
	if err != nil {
		return err
	}
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("messages")+`
		    SET content = $2, status = $3, tokens = $4,
		        provider_meta = COALESCE($5, provider_meta), updated_at = $6
		  WHERE id = $1`,
		id, p.Content, string(p.Status), p.Tokens, meta, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errMessageNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, seq, author_id, role, content, status, tokens, provider_meta, created_at, updated_at
		   FROM `+s.ident("messages")+`
		  WHERE conversation_id = $1
		  ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Message, error) {
		var (
			m            Message
			author       *string
			role, status string
			tokens       *int32
			meta         []byte
		)
		if err := r.Scan(&m.ID, &m.ConversationID, &m.Seq, &author, &role, &m.Content, &status,
			&tokens, &meta, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return Message{}, err
		}
		m.Role, m.Status = Role(role), Status(status)
		if author != nil {
			m.AuthorID = *author
		}
		if tokens != nil {
			m.Tokens = int(*tokens)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.ProviderMeta); err != nil {
				return Message{}, fmt.Errorf("decode provider_meta: %w", err)
			}
		}
		return m, nil
	})
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c             Conversation
		title, prompt *string
		visibility    string
	)
	if err := row.Scan(&c.ID, &c.UserID, &title, &c.Model, &prompt, &visibility, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	if title != nil {
		c.Title = *title
	}
	if prompt != nil {
		c.SystemPrompt = *prompt
	}
	c.Visibility = Visibility(visibility)
	return c, nil
}

// encodeMeta returns nil for a nil map so the column stays NULL.
func encodeMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode provider_meta: %w", err)
	}
	return b, nil
}
