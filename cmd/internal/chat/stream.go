package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "parley/shared/contracts/chatstream/v1"
)

type State int32

const (
	StatePending State = iota
	StateStreaming
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Stream is one generation session with a single consumer.
type Stream struct {
	ID string

	conversation Conversation
	request      Message
	response     Message

	ctx     context.Context
	parent  context.Context
	cancel  context.CancelCauseFunc
	release func()

	state  atomic.Int32
	events chan v1.Event

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Next blocks until the next event, returning io.EOF after the terminal one.
func (s *Stream) Next(ctx context.Context) (v1.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return v1.Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return v1.Event{}, ctx.Err()
	}
}

// Close detaches the consumer and waits for the session's final write.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel(errClosed)
	})
	<-s.done
	return nil
}

// Done is closed once the session has persisted its outcome.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) State() State { return State(s.state.Load()) }

func (s *Stream) ConversationID() string { return s.conversation.ID }

func (s *Stream) MessageID() string { return s.response.ID }

// Result is the final turn; it is complete once Next returned io.EOF or
// Done is closed.
func (s *Stream) Result() Result {
	select {
	case <-s.done:
	default:
		return Result{Conversation: s.conversation, Request: s.request}
	}
	return Result{Conversation: s.conversation, Request: s.request, Response: s.response}
}

func (s *Stream) setState(st State) { s.state.Store(int32(st)) }

// emit hands ev to the consumer, or gives up when the session is cancelled.
func (s *Stream) emit(ev v1.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// notify delivers ev after the session context is gone, as long as the
// consumer is still attached. It waits at most wait.
func (s *Stream) notify(ev v1.Event, wait time.Duration) bool {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
	case <-s.parent.Done():
	case <-t.C:
	}
	return false
}

// run is the producer. It owns s.response until done is closed.
func (o *Orchestrator) run(s *Stream, req GenerateRequest) {
	start := o.now()
	log := o.log.With(
		"session_id", s.ID,
		"conversation_id", s.conversation.ID,
		"message_id", s.response.ID,
	)

	var (
		text      strings.Builder
		fragments int
		outcome   = "completed"
	)
	defer func() {
		s.release()
		close(s.done)
		close(s.events)
		o.obs.StreamFinished(outcome, fragments, o.now().Sub(start))
		o.wg.Done()
	}()

	fail := func(code, msg string) {
		outcome = code
		o.abort(s, log, text.String(), start, code, msg)
	}

	snapshot := v1.SnapshotEvent(v1.Snapshot{
		Conversation:    s.conversation.Wire(),
		RequestMessage:  s.request.Wire(),
		ResponseMessage: s.response.Wire(),
	})
	if !s.emit(snapshot) {
		fail(cancelCode(s.ctx), "stream cancelled")
		return
	}

	s.setState(StateStreaming)
	gen, err := o.gen.Open(s.ctx, req)
	if err != nil {
		if s.ctx.Err() != nil {
			fail(cancelCode(s.ctx), "stream cancelled")
			return
		}
		log.Error("chat.generator.open_failed", "generator", o.gen.Name(), "err", err)
		fail(v1.CodeGeneratorFailed, err.Error())
		return
	}
	defer func() { _ = gen.Close() }()

	sinceFlush, lastFlush := 0, start
	for {
		frag, err := gen.Next(s.ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if s.ctx.Err() != nil {
				fail(cancelCode(s.ctx), "stream cancelled")
				return
			}
			log.Error("chat.generator.failed", "generator", o.gen.Name(), "fragments", fragments, "err", err)
			fail(v1.CodeGeneratorFailed, err.Error())
			return
		}
		if frag == "" {
			continue
		}

		if !s.emit(v1.DeltaEvent(v1.Delta{
			ConversationID: s.conversation.ID,
			MessageID:      s.response.ID,
			Delta:          frag,
		})) {
			fail(cancelCode(s.ctx), "stream cancelled")
			return
		}
		text.WriteString(frag)
		fragments++
		sinceFlush++

		if now := o.now(); sinceFlush >= o.cfg.PersistEvery || now.Sub(lastFlush) >= o.cfg.PersistInterval {
			err := o.store.UpdateMessage(s.ctx, s.response.ID, MessagePatch{
				Content: text.String(),
				Status:  StatusPending,
				At:      now,
			})
			if err != nil {
				if s.ctx.Err() != nil {
					fail(cancelCode(s.ctx), "stream cancelled")
					return
				}
				log.Error("chat.persist.partial_failed", "fragments", fragments, "err", err)
				fail(v1.CodePersistenceFailed, "failed to persist partial response")
				return
			}
			sinceFlush, lastFlush = 0, now
		}
	}

	if err := o.finalize(s, text.String(), StatusComplete, start, "stop"); err != nil {
		log.Error("chat.persist.final_failed", "err", err)
		outcome = v1.CodePersistenceFailed
		s.setState(StateAborted)
		s.notify(v1.ErrorEvent(v1.Error{
			ConversationID: s.conversation.ID,
			MessageID:      s.response.ID,
			Code:           v1.CodePersistenceFailed,
			Message:        "failed to persist response",
		}), o.cfg.FinalizeTimeout)
		s.notify(terminal(s, v1.StatusFailed), o.cfg.FinalizeTimeout)
		return
	}

	s.setState(StateCompleted)
	log.Debug("chat.stream.completed", "fragments", fragments, "elapsed", o.now().Sub(start))
	s.notify(terminal(s, v1.StatusComplete), o.cfg.FinalizeTimeout)
}

// abort persists text as failed and, if the consumer is still attached,
// tells it why.
func (o *Orchestrator) abort(s *Stream, log *slog.Logger, text string, start time.Time, code, msg string) {
	s.setState(StateAborted)

	if err := o.finalize(s, text, StatusFailed, start, code); err != nil {
		log.Error("chat.persist.abort_failed", "code", code, "err", err)
	}
	log.Info("chat.stream.aborted", "code", code, "cause", context.Cause(s.ctx), "chars", len(text))

	sent := s.notify(v1.ErrorEvent(v1.Error{
		ConversationID: s.conversation.ID,
		MessageID:      s.response.ID,
		Code:           code,
		Message:        msg,
	}), o.cfg.FinalizeTimeout)
	if sent {
		s.notify(terminal(s, v1.StatusFailed), o.cfg.FinalizeTimeout)
	}
}

// finalize writes the outcome on a context detached from the session, so
// it runs even when the session was cancelled.
func (o *Orchestrator) finalize(s *Stream, text string, status Status, start time.Time, finish string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), o.cfg.FinalizeTimeout)
	defer cancel()

	now := o.now()
	meta := map[string]any{
		"provider":      o.gen.Name(),
		"model":         s.conversation.Model,
		"finish_reason": finish,
		"latency_ms":    now.Sub(start).Milliseconds(),
		"session_id":    s.ID,
	}
	patch := MessagePatch{Content: text, Status: status, Tokens: countTokens(text), ProviderMeta: meta, At: now}

	s.response.Content = patch.Content
	s.response.Status = patch.Status
	s.response.Tokens = patch.Tokens
	s.response.ProviderMeta = meta
	s.response.UpdatedAt = now

	return o.store.UpdateMessage(ctx, s.response.ID, patch)
}

func terminal(s *Stream, status string) v1.Event {
	return v1.DeltaEvent(v1.Delta{
		ConversationID: s.conversation.ID,
		MessageID:      s.response.ID,
		Done:           true,
		Status:         status,
	})
}

// cancelCode names why the session context ended.
func cancelCode(ctx context.Context) string {
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errTimeout):
		return v1.CodeTimeout
	case errors.Is(cause, errShutdown):
		return v1.CodeShutdown
	default:
		return v1.CodeCancelled
	}
}
