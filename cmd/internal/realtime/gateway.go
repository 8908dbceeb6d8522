// Package realtime carries chat streams over WebSocket.
//
// A connection sends chat.start frames and receives the same snapshot,
// delta and error events the SSE endpoint writes, each as one JSON text
// frame. At most one turn runs per connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"parley/cmd/identity/ids"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
	chatapi "parley/cmd/internal/chat/api"
	v1 "parley/shared/contracts/chatstream/v1"
)

// Subprotocol must be offered by clients.
const Subprotocol = "parley.chat.v1"

const closeGrace = time.Second

// Starter opens chat turns; *chat.Orchestrator implements it.
type Starter interface {
	Start(ctx context.Context, req chat.Request) (*chat.Stream, error)
}

// Gateway must be mounted behind authapi's RequireAccessOrQuery.
type Gateway struct {
	log      *slog.Logger
	chats    Starter
	cfg      Config
	patterns []string
}

func NewGateway(log *slog.Logger, chats Starter, cfg Config) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{log: log, chats: chats, cfg: cfg, patterns: originPatterns(cfg.AllowedOrigins)}
}

// conn is one accepted connection.
type conn struct {
	g      *Gateway
	ws     *websocket.Conn
	id     string
	user   string
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active *chat.Stream
	turns  sync.WaitGroup
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := session.PrincipalFromContext(r.Context())
	if !ok {
		authapi.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"))
		authapi.WriteError(w, http.StatusForbidden, "origin_forbidden", "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err)
		return
	}
	if sp := ws.Subprotocol(); sp != Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp)
		_ = ws.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}
	ws.SetReadLimit(g.cfg.MaxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		g:      g,
		ws:     ws,
		id:     ids.MustULID(time.Now()),
		user:   p.UserID,
		ctx:    ctx,
		cancel: cancel,
	}
	c.log = g.log.With("ws_id", c.id, "user_id", c.user)
	c.log.Info("ws.open")

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		c.heartbeat()
	}()

	code, reason := c.readLoop()

	cancel()
	c.turns.Wait()
	_ = ws.Close(code, reason)

	select {
	case <-hbDone:
	case <-time.After(closeGrace):
	}
	c.log.Info("ws.close", "code", code, "reason", reason)
}

// readLoop dispatches inbound frames until the peer leaves or misbehaves.
func (c *conn) readLoop() (websocket.StatusCode, string) {
	lim := rate.NewLimiter(rate.Every(c.g.cfg.RateWindow/time.Duration(c.g.cfg.RateEvents)), c.g.cfg.RateEvents)

	for {
		readCtx, readCancel := context.WithTimeout(c.ctx, c.g.cfg.ReadIdle)
		typ, data, err := c.ws.Read(readCtx)
		readCancel()
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				return websocket.StatusNormalClosure, "peer closed"
			case errors.Is(err, context.DeadlineExceeded):
				return websocket.StatusGoingAway, "idle"
			case errors.Is(err, context.Canceled):
				return websocket.StatusGoingAway, "context done"
			default:
				c.log.Info("ws.read.fail", "err", err)
				return websocket.StatusAbnormalClosure, "read failed"
			}
		}

		if !lim.Allow() {
			c.sendError("", "", "rate_limited", "too many frames")
			return websocket.StatusPolicyViolation, "rate limited"
		}
		if typ != websocket.MessageText {
			c.sendError("", "", "bad_frame", "text frames only")
			continue
		}

		var f v1.ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError("", "", "bad_json", "invalid JSON")
			continue
		}
		if err := f.Validate(); err != nil {
			c.sendError("", "", "bad_frame", err.Error())
			continue
		}

		switch f.Type {
		case v1.TypeChatStart:
			c.start(f)
		case v1.TypeChatCancel:
			c.cancelTurn()
		}
	}
}

func (c *conn) start(f v1.ClientFrame) {
	var p v1.StartPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		c.sendError("", "", "bad_payload", "invalid chat.start payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.sendError(c.active.ConversationID(), c.active.MessageID(), "busy", "a turn is already streaming")
		return
	}
	if p.ConversationID != "" && !ids.Valid(p.ConversationID) {
		c.sendError("", "", "conversation_not_found", "conversation not found")
		return
	}

	s, err := c.g.chats.Start(c.ctx, chat.Request{
		UserID:         c.user,
		ConversationID: p.ConversationID,
		Text:           p.Text,
		Tags:           p.Tags,
		Metadata:       p.Metadata,
	})
	if err != nil {
		_, code, msg := chatapi.ErrorStatus(err)
		c.sendError(p.ConversationID, "", code, msg)
		return
	}

	c.active = s
	c.turns.Add(1)
	go c.forward(s)
}

// forward pumps s to the socket. A slow socket slows the generator.
func (c *conn) forward(s *chat.Stream) {
	defer c.turns.Done()
	defer func() {
		_ = s.Close()
		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	for {
		ev, err := s.Next(c.ctx)
		if err != nil {
			return
		}
		if err := c.write(ev); err != nil {
			c.log.Info("ws.write.fail", "session_id", s.ID, "err", err)
			c.cancel()
			return
		}
	}
}

// cancelTurn detaches the active turn; the orchestrator records it as failed.
func (c *conn) cancelTurn() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return
	}
	_ = s.Close()
	c.sendError(s.ConversationID(), s.MessageID(), v1.CodeCancelled, "cancelled by client")
}

func (c *conn) heartbeat() {
	t := time.NewTicker(c.g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.g.cfg.HeartbeatTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.log.Info("ws.ping.fail", "failures", failures, "err", err)
			if failures >= c.g.cfg.MaxPingFailures {
				c.cancel()
				return
			}
		}
	}
}

func (c *conn) sendError(convID, msgID, code, msg string) {
	ev := v1.ErrorEvent(v1.Error{ConversationID: convID, MessageID: msgID, Code: code, Message: msg})
	if err := c.write(ev); err != nil {
		c.log.Debug("ws.error.write_failed", "code", code, "err", err)
	}
}

// write sends one event frame. websocket.Conn serializes concurrent writers.
func (c *conn) write(ev v1.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.g.cfg.WriteTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, b)
}
