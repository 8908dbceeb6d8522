// Package chatapi serves chat turns over JSON and Server-Sent Events.
package chatapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"parley/cmd/identity/ids"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/chatstream/v1"
)

const (
	maxPromptBytes   = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler exposes the orchestrator and the conversation store. Routes must
// be mounted behind authapi's RequireAccess.
type Handler struct {
	log   *slog.Logger
	orch  *chat.Orchestrator
	store chat.Store
}

func NewHandler(log *slog.Logger, orch *chat.Orchestrator, store chat.Store) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, orch: orch, store: store}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/chat", h.handleComplete)
	r.Post("/chat/stream", h.handleStream)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{id}", h.handleGetConversation)
}

type promptRequest struct {
	ConversationID string         `json:"conversation_id"`
	Text           string         `json:"text"`
	Tags           []string       `json:"tags"`
	Metadata       map[string]any `json:"metadata"`
	AuthorID       string         `json:"author_id"`
}

// toRequest binds p to the caller.
func (p promptRequest) toRequest(userID string) chat.Request {
	return chat.Request{
		UserID:         userID,
		ConversationID: p.ConversationID,
		Text:           p.Text,
		AuthorID:       p.AuthorID,
		Tags:           p.Tags,
		Metadata:       p.Metadata,
	}
}

type turnResponse struct {
	Conversation    v1.Conversation `json:"conversation"`
	RequestMessage  v1.Message      `json:"request_message"`
	ResponseMessage v1.Message      `json:"response_message"`
}

type conversationsResponse struct {
	Conversations []v1.Conversation `json:"conversations"`
}

type conversationResponse struct {
	Conversation v1.Conversation `json:"conversation"`
	Messages     []v1.Message    `json:"messages"`
}

func (h *Handler) decodePrompt(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	p, _ := session.PrincipalFromContext(r.Context())

	var req promptRequest
	if !authapi.ReadJSON(w, r, maxPromptBytes, &req) {
		return chat.Request{}, false
	}
	if req.ConversationID != "" && !ids.Valid(req.ConversationID) {
		authapi.WriteError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return chat.Request{}, false
	}
	return req.toRequest(p.UserID), true
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePrompt(w, r)
	if !ok {
		return
	}

	res, err := h.orch.Complete(r.Context(), req)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	WriteTurn(w, res)
}

// WriteTurn writes a finished turn as JSON.
func WriteTurn(w http.ResponseWriter, res chat.Result) {
	authapi.WriteJSON(w, http.StatusOK, turnResponse{
		Conversation:    res.Conversation.Wire(),
		RequestMessage:  res.Request.Wire(),
		ResponseMessage: res.Response.Wire(),
	})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePrompt(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	s, err := h.orch.Start(ctx, req)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	defer func() { _ = s.Close() }()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			return
		}
		if err := v1.Encode(w, ev); err != nil {
			h.log.Debug("chat.sse.write_failed", "session_id", s.ID, "err", err)
			return
		}
		if err := rc.Flush(); err != nil {
			h.log.Debug("chat.sse.flush_failed", "session_id", s.ID, "err", err)
			return
		}
	}
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	p, _ := session.PrincipalFromContext(r.Context())

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			authapi.WriteError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	convs, err := h.store.ListConversations(r.Context(), p.UserID, limit)
	if err != nil {
		h.log.Error("chat.conversations.list_failed", "err", err)
		authapi.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	out := conversationsResponse{Conversations: make([]v1.Conversation, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, c.Wire())
	}
	authapi.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	p, _ := session.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !ids.Valid(id) {
		authapi.WriteError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return
	}

	ctx := r.Context()
	c, err := h.store.GetConversation(ctx, id)
	if errors.Is(err, chat.ErrConversationNotFound) || (err == nil && c.UserID != p.UserID) {
		authapi.WriteError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return
	}
	if err != nil {
		h.log.Error("chat.conversation.get_failed", "err", err, "conversation_id", id)
		authapi.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	msgs, err := h.store.ListMessages(ctx, id)
	if err != nil {
		h.log.Error("chat.messages.list_failed", "err", err, "conversation_id", id)
		authapi.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	out := conversationResponse{Conversation: c.Wire(), Messages: make([]v1.Message, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, m.Wire())
	}
	authapi.WriteJSON(w, http.StatusOK, out)
}

// writeChatError maps orchestrator errors onto stable codes.
func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	status, code, msg := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("chat.request_failed", "code", code, "err", err)
	}
	authapi.WriteError(w, status, code, msg)
}

// ErrorStatus returns the HTTP status, code and message for a chat error.
func ErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input", "text must not be empty"
	case errors.Is(err, chat.ErrInputTooLong):
		return http.StatusBadRequest, "input_too_long", "text is too long"
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound, "conversation_not_found", "conversation not found"
	case errors.Is(err, chat.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down", "server is shutting down"
	case errors.Is(err, chat.ErrGeneratorFailure):
		return http.StatusBadGateway, v1.CodeGeneratorFailed, "generation failed"
	case errors.Is(err, chat.ErrPersistence):
		return http.StatusInternalServerError, v1.CodePersistenceFailed, "failed to persist message"
	default:
		return http.StatusInternalServerError, "server_error", "internal error"
	}
}

