// Package main is a CI smoke test for a running parley server.
//
// It checks:
//   - register (or login when the account exists)
//   - refresh rotation and reuse detection
//   - a streamed chat turn over SSE
//   - a second turn on the same conversation over WebSocket
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "parley/shared/contracts/chatstream/v1"
)

const subprotocol = "parley.chat.v1"

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func main() {
	var (
		base     = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		email    = flag.String("email", fmt.Sprintf("smoke+%d@example.com", time.Now().UnixNano()), "Account email")
		password = flag.String("password", "smoke test password", "Account password")
		text     = flag.String("text", "hello parley smoke test", "Prompt text")
		timeout  = flag.Duration("timeout", 15*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*base); err != nil {
		fatalf("invalid -url: %v", err)
	}
	client := &http.Client{Timeout: *timeout}

	tok := mustAuthenticate(client, *base, *email, *password)
	if *verbose {
		fmt.Printf("authenticated: %s\n", *email)
	}

	mustRefresh(client, *base, tok.RefreshToken, http.StatusOK)
	mustRefresh(client, *base, tok.RefreshToken, http.StatusUnauthorized)
	if *verbose {
		fmt.Println("refresh: rotation ok, reuse rejected")
	}

	// Reuse revoked the lineage; start a fresh one.
	tok = mustAuthenticate(client, *base, *email, *password)

	convID, streamed := mustStreamSSE(client, *base, tok.AccessToken, *text)
	if streamed != *text {
		fatalf("sse: streamed %q, want %q (echo provider)", streamed, *text)
	}

	wsText := mustStreamWS(*base, *origin, tok.AccessToken, convID, *text, *timeout)
	fmt.Printf("OK: conversation=%s sse_chars=%d ws_chars=%d\n", convID, len(streamed), len(wsText))
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustAuthenticate(c *http.Client, base, email, password string) tokens {
	body := map[string]string{"email": email, "password": password, "name": "smoke"}
	resp := mustPost(c, base+"/auth/register", "", body)
	if resp.StatusCode == http.StatusConflict {
		_ = resp.Body.Close()
		delete(body, "name")
		resp = mustPost(c, base+"/auth/login", "", body)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		fatalf("auth: status %d", resp.StatusCode)
	}

	var out struct {
		Tokens tokens `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("auth: decode: %v", err)
	}
	if out.Tokens.AccessToken == "" || out.Tokens.RefreshToken == "" {
		fatalf("auth: missing tokens")
	}
	return out.Tokens
}

func mustRefresh(c *http.Client, base, refresh string, want int) tokens {
	resp := mustPost(c, base+"/auth/refresh", "", map[string]string{"refresh_token": refresh})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != want {
		fatalf("refresh: status %d, want %d", resp.StatusCode, want)
	}
	var out struct {
		Tokens tokens `json:"tokens"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.Tokens
}

func mustStreamSSE(c *http.Client, base, access, text string) (string, string) {
	resp := mustPost(c, base+"/chat/stream", access, map[string]string{"text": text})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("sse: status %d", resp.StatusCode)
	}

	var (
		convID string
		out    strings.Builder
		event  string
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if ev, ok := strings.CutPrefix(line, "event: "); ok {
			event = ev
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		switch event {
		case v1.TypeSnapshot:
			var s v1.Snapshot
			if err := json.Unmarshal([]byte(data), &s); err != nil {
				fatalf("sse: snapshot: %v", err)
			}
			convID = s.Conversation.ID
		case v1.TypeError:
			fatalf("sse: error event %s", data)
		default:
			var d v1.Delta
			if err := json.Unmarshal([]byte(data), &d); err != nil {
				fatalf("sse: delta: %v", err)
			}
			if d.Done {
				if d.Status != v1.StatusComplete {
					fatalf("sse: terminal status %q", d.Status)
				}
				return convID, out.String()
			}
			out.WriteString(d.Delta)
		}
		event = ""
	}
	fatalf("sse: stream ended without terminal delta (err=%v)", sc.Err())
	return "", ""
}

func mustStreamWS(base, origin, access, convID, text string, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	u, _ := url.Parse(base)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws/chat"
	u.RawQuery = url.Values{"access_token": {access}}.Encode()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("ws: dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	payload, _ := json.Marshal(v1.StartPayload{ConversationID: convID, Text: text})
	frame, _ := json.Marshal(v1.ClientFrame{V: v1.Version, Type: v1.TypeChatStart, Payload: payload})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		fatalf("ws: write: %v", err)
	}

	var out bytes.Buffer
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			fatalf("ws: read: %v", err)
		}
		var ev v1.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			fatalf("ws: decode: %v", err)
		}
		switch {
		case ev.Type == v1.TypeError:
			fatalf("ws: error %s: %s", ev.Error.Code, ev.Error.Message)
		case ev.Type == v1.TypeSnapshot && ev.Snapshot.Conversation.ID != convID:
			fatalf("ws: conversation %s, want %s", ev.Snapshot.Conversation.ID, convID)
		case ev.Terminal():
			return out.String()
		case ev.Type == v1.TypeDelta:
			out.WriteString(ev.Delta.Delta)
		}
	}
}

func mustPost(c *http.Client, u, bearer string, body any) *http.Response {
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", u, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.Do(req)
	if err != nil {
		fatalf("POST %s: %v", u, err)
	}
	return resp
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
