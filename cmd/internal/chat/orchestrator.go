package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"parley/cmd/identity/ids"
	v1 "parley/shared/contracts/chatstream/v1"
)

// Observer receives stream lifecycle signals. The metrics package implements it.
type Observer interface {
	StreamStarted()
	StreamFinished(outcome string, fragments int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) StreamStarted()                            {}
func (nopObserver) StreamFinished(string, int, time.Duration) {}

// Orchestrator starts streams and tracks them until they finish.
type Orchestrator struct {
	store Store
	gen   Generator
	cfg   Config
	log   *slog.Logger
	obs   Observer
	now   func() time.Time

	// base is cancelled by Shutdown; every session is tied to it.
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.obs = obs } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(store Store, gen Generator, cfg Config, opts ...Option) (*Orchestrator, error) {
	if store == nil || gen == nil {
		return nil, errors.New("chat: nil store or generator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		store: store,
		gen:   gen,
		cfg:   cfg,
		log:   slog.Default(),
		obs:   nopObserver{},
		now:   func() time.Time { return time.Now().UTC() },
		base:  base,
		stop:  stop,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start validates and persists the prompt, then returns a Stream whose
// first event is the snapshot. Errors returned here precede any event.
//
// The session ends when the generator finishes, ctx is cancelled, the
// Stream is closed, MaxDuration passes or Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Stream, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if utf8.RuneCountInString(req.Text) > o.cfg.MaxInputRunes {
		return nil, ErrInputTooLong
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	started := false
	defer func() {
		if !started {
			o.wg.Done()
		}
	}()

	conv, history, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	now := o.now()
	author := req.AuthorID
	if author == "" {
		author = req.UserID
	}

	userMsg, err := o.store.AppendMessage(ctx, Message{
		ID:             ids.MustULID(now),
		ConversationID: conv.ID,
		AuthorID:       author,
		Role:           RoleUser,
		Content:        req.Text,
		Status:         StatusComplete,
		Tokens:         countTokens(req.Text),
		ProviderMeta:   requestMeta(req),
		CreatedAt:      now,
	})
	if err != nil {
		return nil, persistence("append request message", err)
	}

	respMsg, err := o.store.AppendMessage(ctx, Message{
		ID:             ids.MustULID(now),
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Status:         StatusPending,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, persistence("append response message", err)
	}

	s := o.newStream(ctx, conv, userMsg, respMsg)
	gen := GenerateRequest{
		Model:        conv.Model,
		SystemPrompt: conv.SystemPrompt,
		History:      history,
		Text:         req.Text,
	}

	started = true
	o.obs.StreamStarted()
	go o.run(s, gen)
	return s, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) (Conversation, []Turn, error) {
	if req.ConversationID == "" {
		now := o.now()
		conv := Conversation{
			ID:           ids.MustULID(now),
			UserID:       req.UserID,
			Title:        titleFrom(req.Text, o.cfg.TitleRunes),
			Model:        o.cfg.DefaultModel,
			SystemPrompt: o.cfg.SystemPrompt,
			Visibility:   VisibilityPrivate,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := o.store.CreateConversation(ctx, conv); err != nil {
			return Conversation{}, nil, persistence("create conversation", err)
		}
		return conv, nil, nil
	}

	conv, err := o.store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, ErrConversationNotFound) || (err == nil && conv.UserID != req.UserID) {
		return Conversation{}, nil, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, nil, persistence("get conversation", err)
	}

	msgs, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return Conversation{}, nil, persistence("list messages", err)
	}
	var history []Turn
	for _, m := range msgs {
		if m.Status == StatusComplete && m.Content != "" {
			history = append(history, Turn{Role: m.Role, Content: m.Content})
		}
	}
	if n := o.cfg.HistoryLimit; len(history) > n {
		history = history[len(history)-n:]
	}
	return conv, history, nil
}

// Complete runs a turn to the end without streaming it.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (Result, error) {
	s, err := o.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = s.Close() }()

	var failure *v1.Error
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		if ev.Type == v1.TypeError {
			failure = ev.Error
		}
	}

	res := s.Result()
	if failure != nil {
		switch failure.Code {
		case v1.CodeGeneratorFailed:
			return res, fmt.Errorf("%w: %s", ErrGeneratorFailure, failure.Message)
		case v1.CodePersistenceFailed:
			return res, persistence("finalize", errors.New(failure.Message))
		default:
			return res, fmt.Errorf("chat: stream aborted: %s", failure.Code)
		}
	}
	if res.Response.Status != StatusComplete {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, errors.New("chat: stream aborted")
	}
	return res, nil
}

// Shutdown cancels every live session and waits until their final writes
// are done or ctx expires. Start fails with ErrShuttingDown afterwards.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) newStream(parent context.Context, conv Conversation, req, resp Message) *Stream {
	ctx, cancel := context.WithCancelCause(parent)
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, o.cfg.MaxDuration, errTimeout)
	stopAfter := context.AfterFunc(o.base, func() { cancel(errShutdown) })

	return &Stream{
		ID:           uuid.NewString(),
		conversation: conv,
		request:      req,
		response:     resp,
		ctx:          ctx,
		parent:       parent,
		cancel:       cancel,
		release: func() {
			stopAfter()
			cancelTimeout()
			cancel(nil)
		},
		events: make(chan v1.Event),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// requestMeta builds provider_meta for the user message.
func requestMeta(req Request) map[string]any {
	meta := map[string]any{}
	if len(req.Metadata) > 0 {
		meta["client_metadata"] = maps.Clone(req.Metadata)
	}
	if len(req.Tags) > 0 {
		meta["tags"] = append([]string(nil), req.Tags...)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
