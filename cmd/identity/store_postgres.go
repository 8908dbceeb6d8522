package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists users over PostgreSQL.
// The pool is owned by the caller and is never closed here.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding users and user_credentials (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateUser inserts the user row and, for password users, the credential
// row in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"

	if !in.valid() {
		return User{}, invalid(op, "missing id or credential")
	}
	norm := NormalizeEmail(in.Email)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("users")+` (id, email, email_norm, name, is_email_verified, oauth_provider, oauth_sub, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8)`,
		in.ID, in.Email, norm, in.Name, in.IsEmailVerified, in.OAuthProvider, in.OAuthSubject, in.CreatedAt,
	)
	if err != nil {
		if field, ok := pgUniqueViolation(err); ok {
			return User{}, conflict(op, field)
		}
		return User{}, err
	}

	if in.PasswordHash != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+s.ident("user_credentials")+` (user_id, password_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $3)`,
			in.ID, in.PasswordHash, in.CreatedAt,
		)
		if err != nil {
			return User{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:              in.ID,
		Email:           in.Email,
		EmailNorm:       norm,
		Name:            in.Name,
		IsEmailVerified: in.IsEmailVerified,
		PasswordHash:    in.PasswordHash,
		OAuthProvider:   in.OAuthProvider,
		OAuthSubject:    in.OAuthSubject,
		CreatedAt:       in.CreatedAt,
	}, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetUser", `u.id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByEmail", `u.email_norm = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) GetUserByOAuth(ctx context.Context, provider, subject string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByOAuth", `u.oauth_provider = $1 AND u.oauth_sub = $2`, provider, subject)
}

// LinkOAuth only touches users without an identity or already holding this
// one, so a concurrent link cannot overwrite another.
func (s *PostgresStore) LinkOAuth(ctx context.Context, userID, provider, subject string) (User, error) {
	const op = "identity.LinkOAuth"
	if provider == "" || subject == "" {
		return User{}, invalid(op, "missing provider or subject")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("users")+`
		    SET oauth_provider = $2, oauth_sub = $3, is_email_verified = true
		  WHERE id = $1
		    AND (oauth_provider IS NULL OR (oauth_provider = $2 AND oauth_sub = $3))`,
		userID, provider, subject,
	)
	if err != nil {
		if _, ok := pgUniqueViolation(err); ok {
			return User{}, conflict(op, "oauth")
		}
		return User{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return User{}, err
		}
		return User{}, conflict(op, "oauth")
	}
	return s.GetUser(ctx, userID)
}

func (s *PostgresStore) getOne(ctx context.Context, op, where string, args ...any) (User, error) {
	var (
		u                      User
		name, hash, prov, subj *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.email_norm, u.name, u.is_email_verified, u.oauth_provider, u.oauth_sub,
		        u.created_at, c.password_hash
		   FROM `+s.ident("users")+` u
		   LEFT JOIN `+s.ident("user_credentials")+` c ON c.user_id = u.id
		  WHERE `+where,
		args...,
	).Scan(&u.ID, &u.Email, &u.EmailNorm, &name, &u.IsEmailVerified, &prov, &subj, &u.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, err
	}
	u.Name, u.PasswordHash = deref(name), deref(hash)
	u.OAuthProvider, u.OAuthSubject = deref(prov), deref(subj)
	return u, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *PostgresStore) ident(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	switch c := strings.ToLower(pgErr.ConstraintName); {
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "oauth"):
		return "oauth", true
	}
	return "unique", true
}
