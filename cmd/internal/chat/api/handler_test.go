package chatapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/chatstream/v1"
)

type fixture struct {
	router http.Handler
	store  *chat.MemoryStore
	gen    *chat.ScriptedGenerator
	orch   *chat.Orchestrator
}

func newFixture(t *testing.T, fragments ...string) *fixture {
	t.Helper()
	store := chat.NewMemoryStore()
	gen := &chat.ScriptedGenerator{Fragments: fragments}
	cfg := chat.DefaultConfig()
	cfg.FinalizeTimeout = time.Second
	orch, err := chat.NewOrchestrator(store, gen, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			user := req.Header.Get("X-Test-User")
			if user == "" {
				user = "user-1"
			}
			ctx := session.WithPrincipal(req.Context(), session.Principal{UserID: user, EntryID: "entry-1"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, orch, store).Routes(r)
	return &fixture{router: r, store: store, gen: gen, orch: orch}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, raw []byte) []sseFrame {
	t.Helper()
	var (
		out []sseFrame
		cur sseFrame
	)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			out = append(out, cur)
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		default:
			t.Fatalf("unexpected line %q", line)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestComplete(t *testing.T) {
	f := newFixture(t, "Hel", "lo!")

	rec := f.do(t, http.MethodPost, "/chat", "", `{"text":"hi there","tags":["a"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "user-1", got.Conversation.UserID)
	assert.Equal(t, "hi there", got.Conversation.Title)
	assert.Equal(t, "hi there", got.RequestMessage.Content)
	assert.Equal(t, int64(1), got.RequestMessage.Seq)
	assert.Equal(t, "Hello!", got.ResponseMessage.Content)
	assert.Equal(t, "complete", got.ResponseMessage.Status)
	assert.Equal(t, int64(2), got.ResponseMessage.Seq)
}

func TestComplete_Errors(t *testing.T) {
	f := newFixture(t, "x")

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty text", `{"text":"   "}`, http.StatusBadRequest, "empty_input"},
		{"bad json", `{"text":`, http.StatusBadRequest, "invalid_json"},
		{"unknown field", `{"text":"hi","model":"x"}`, http.StatusBadRequest, "invalid_json"},
		{"malformed conversation id", `{"text":"hi","conversation_id":"nope"}`, http.StatusNotFound, "conversation_not_found"},
		{"missing conversation", `{"text":"hi","conversation_id":"01HZZZZZZZZZZZZZZZZZZZZZZZ"}`, http.StatusNotFound, "conversation_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/chat", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestComplete_GeneratorFailure(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.gen.FailAt = 1
	f.gen.Err = errors.New("upstream down")

	rec := f.do(t, http.MethodPost, "/chat", "", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "generator_failed", errorCode(t, rec))
}

func TestComplete_ShuttingDown(t *testing.T) {
	f := newFixture(t, "a")
	require.NoError(t, f.orch.Shutdown(context.Background()))

	rec := f.do(t, http.MethodPost, "/chat", "", `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting_down", errorCode(t, rec))
}

func TestStream(t *testing.T) {
	f := newFixture(t, "Hel", "lo", "!")

	rec := f.do(t, http.MethodPost, "/chat/stream", "", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := parseSSE(t, rec.Body.Bytes())
	require.Len(t, frames, 5)

	assert.Equal(t, "snapshot", frames[0].event)
	var snap v1.Snapshot
	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &snap))
	assert.Equal(t, "pending", snap.ResponseMessage.Status)
	assert.Equal(t, "hi", snap.RequestMessage.Content)

	var text strings.Builder
	for i, fr := range frames[1:] {
		assert.Empty(t, fr.event, "delta frames carry no event line")
		var d v1.Delta
		require.NoError(t, json.Unmarshal([]byte(fr.data), &d))
		assert.Equal(t, snap.Conversation.ID, d.ConversationID)
		assert.Equal(t, snap.ResponseMessage.ID, d.MessageID)
		if i == 3 {
			assert.True(t, d.Done)
			assert.Empty(t, d.Delta)
			assert.Equal(t, v1.StatusComplete, d.Status)
			continue
		}
		assert.False(t, d.Done)
		text.WriteString(d.Delta)
	}
	assert.Equal(t, "Hello!", text.String())

	msgs, err := f.store.ListMessages(context.Background(), snap.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello!", msgs[1].Content)
	assert.Equal(t, chat.StatusComplete, msgs[1].Status)
}

func TestStream_ClientDisconnectPersistsPartial(t *testing.T) {
	f := newFixture(t, "Hel", "lo", "!")
	f.gen.Delay = 250 * time.Millisecond

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/chat/stream", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var (
		snap  v1.Snapshot
		first v1.Delta
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if snap.Conversation.ID == "" {
			require.NoError(t, json.Unmarshal([]byte(data), &snap))
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(data), &first))
		break
	}
	require.Equal(t, "Hel", first.Delta)

	// Hang up after the first delta.
	cancel()

	var reply chat.Message
	require.Eventually(t, func() bool {
		msgs, err := f.store.ListMessages(context.Background(), snap.Conversation.ID)
		if err != nil || len(msgs) != 2 {
			return false
		}
		reply = msgs[1]
		return reply.Status != chat.StatusPending
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, snap.ResponseMessage.ID, reply.ID)
	assert.Equal(t, chat.StatusFailed, reply.Status)
	assert.Equal(t, "Hel", reply.Content)
}

func TestStream_GeneratorFailure(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.gen.FailAt = 1
	f.gen.Err = errors.New("boom")

	rec := f.do(t, http.MethodPost, "/chat/stream", "", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseSSE(t, rec.Body.Bytes())
	require.NotEmpty(t, frames)
	var sawError bool
	for _, fr := range frames {
		if fr.event == "error" {
			sawError = true
			assert.Contains(t, fr.data, `"code":"generator_failed"`)
		}
	}
	assert.True(t, sawError)

	last := frames[len(frames)-1]
	var d v1.Delta
	require.NoError(t, json.Unmarshal([]byte(last.data), &d))
	assert.True(t, d.Done)
	assert.Equal(t, v1.StatusFailed, d.Status)
}

func TestStream_StartErrorIsJSON(t *testing.T) {
	f := newFixture(t, "a")

	rec := f.do(t, http.MethodPost, "/chat/stream", "", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "empty_input", errorCode(t, rec))
}

func TestConversations(t *testing.T) {
	f := newFixture(t, "ok")

	first := f.do(t, http.MethodPost, "/chat", "", `{"text":"first"}`)
	require.Equal(t, http.StatusOK, first.Code)
	var turn turnResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &turn))
	convID := turn.Conversation.ID

	again := f.do(t, http.MethodPost, "/chat", "", `{"text":"second","conversation_id":"`+convID+`"}`)
	require.Equal(t, http.StatusOK, again.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/chat", "user-2", `{"text":"other"}`).Code)

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/conversations", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got conversationsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got.Conversations, 1)
		assert.Equal(t, convID, got.Conversations[0].ID)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/conversations?limit=zero", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/conversations/"+convID, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got conversationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, convID, got.Conversation.ID)
		require.Len(t, got.Messages, 4)
		assert.Equal(t, "second", got.Messages[2].Content)
		assert.Equal(t, int64(4), got.Messages[3].Seq)
	})

	t.Run("other user", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/conversations/"+convID, "user-2", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(t, http.MethodPost, "/chat", "user-2", `{"text":"hijack","conversation_id":"`+convID+`"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/conversations/not-a-ulid", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestErrorStatus(t *testing.T) {
	status, code, _ := ErrorStatus(&chat.PersistenceError{Op: "append", Err: errors.New("db")})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "persistence_failed", code)

	status, code, _ = ErrorStatus(chat.ErrInputTooLong)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "input_too_long", code)

	status, _, _ = ErrorStatus(errors.New("other"))
	assert.Equal(t, http.StatusInternalServerError, status)
}
