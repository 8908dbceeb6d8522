package session

import (
	"context"
	"log/slog"
	"time"

	"parley/cmd/security/token"
)

// Service wires an Issuer, a Registry and a Guard over one codec, store
// and clock. It is what the HTTP layer depends on.
type Service struct {
	cfg      Config
	store    Store
	issuer   *Issuer
	registry *Registry
	guard    *Guard
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*options)

type options struct {
	codec  TokenCodec
	hasher token.Hasher
	now    func() time.Time
	log    *slog.Logger
	obs    Observer
}

// WithCodec overrides the codec built from Config.TokenFormat.
func WithCodec(c TokenCodec) Option { return func(o *options) { o.codec = c } }

func WithHasher(h token.Hasher) Option { return func(o *options) { o.hasher = h } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

func WithObserver(obs Observer) Option { return func(o *options) { o.obs = obs } }

func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		now: func() time.Time { return time.Now().UTC() },
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.codec == nil {
		codec, ephemeral, err := NewCodec(cfg)
		if err != nil {
			return nil, err
		}
		if ephemeral {
			o.log.Warn("auth.signing_key.ephemeral", "format", string(cfg.TokenFormat))
		}
		o.codec = codec
	}
	if cfg.RequireTokenHMAC && !o.hasher.Keyed() {
		return nil, ErrConfig
	}

	issuer := NewIssuer(cfg, o.codec, store, o.hasher)
	return &Service{
		cfg:      cfg,
		store:    store,
		issuer:   issuer,
		registry: NewRegistry(issuer, o.codec, store, o.hasher, cfg.MaxLineageLength, o.log, o.obs),
		guard:    NewGuard(o.codec, cfg.ClockSkew),
		now:      o.now,
		log:      o.log,
	}, nil
}

func (s *Service) IssuePair(ctx context.Context, userID string, dev DeviceContext) (Pair, error) {
	return s.issuer.IssuePair(ctx, userID, dev, s.now())
}

func (s *Service) Rotate(ctx context.Context, refreshToken string, dev DeviceContext) (Pair, error) {
	return s.registry.Rotate(ctx, refreshToken, dev, s.now())
}

func (s *Service) Revoke(ctx context.Context, entryID string, reason RevokeReason) error {
	return s.registry.Revoke(ctx, entryID, reason, s.now())
}

func (s *Service) RevokeToken(ctx context.Context, refreshToken string) error {
	return s.registry.RevokeToken(ctx, refreshToken, s.now())
}

func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	return s.registry.RevokeAll(ctx, userID, s.now())
}

func (s *Service) Authorize(accessToken string) (Principal, error) {
	return s.guard.Authorize(accessToken, s.now())
}
