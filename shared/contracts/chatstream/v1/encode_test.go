package v1

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEncodeBytes_Delta(t *testing.T) {
	b, err := EncodeBytes(DeltaEvent(Delta{ConversationID: "c1", MessageID: "m1", Delta: "Hel"}))
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	want := `data: {"conversation_id":"c1","message_id":"m1","delta":"Hel","done":false}` + "\n\n"
	if string(b) != want {
		t.Fatalf("got %q\nwant %q", b, want)
	}
}

func TestEncodeBytes_TerminalCarriesStatus(t *testing.T) {
	b, err := EncodeBytes(DeltaEvent(Delta{ConversationID: "c1", MessageID: "m1", Done: true, Status: StatusFailed}))
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	want := `data: {"conversation_id":"c1","message_id":"m1","delta":"","done":true,"status":"failed"}` + "\n\n"
	if string(b) != want {
		t.Fatalf("got %q\nwant %q", b, want)
	}
}

func TestEncode_SnapshotAndError(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	snap := Snapshot{
		Conversation:    Conversation{ID: "c1", UserID: "u1", Model: "gpt-4o-mini", Visibility: "private", CreatedAt: ts, UpdatedAt: ts},
		RequestMessage:  Message{ID: "m0", ConversationID: "c1", Seq: 1, Role: "user", Content: "hi", Status: "complete", CreatedAt: ts},
		ResponseMessage: Message{ID: "m1", ConversationID: "c1", Seq: 2, Role: "assistant", Status: "pending", CreatedAt: ts},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, SnapshotEvent(snap)); err != nil {
		t.Fatalf("Encode snapshot: %v", err)
	}
	if err := Encode(&buf, ErrorEvent(Error{ConversationID: "c1", MessageID: "m1", Code: CodeGeneratorFailed, Message: "upstream closed"})); err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	frames := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %q", len(frames), buf.String())
	}

	lines := strings.Split(frames[0], "\n")
	if len(lines) != 2 || lines[0] != "event: snapshot" || !strings.HasPrefix(lines[1], "data: ") {
		t.Fatalf("bad snapshot frame: %q", frames[0])
	}
	var got Snapshot
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &got); err != nil {
		t.Fatalf("snapshot data: %v", err)
	}
	if got.ResponseMessage.Status != "pending" || !got.Conversation.CreatedAt.Equal(ts) {
		t.Fatalf("snapshot mismatch: %+v", got)
	}
	if !strings.Contains(lines[1], `"created_at":"2026-03-01T12:00:00.123456789Z"`) {
		t.Fatalf("timestamps must be RFC 3339 with nanoseconds: %s", lines[1])
	}

	if !strings.HasPrefix(frames[1], "event: error\ndata: ") || !strings.Contains(frames[1], `"code":"generator_failed"`) {
		t.Fatalf("bad error frame: %q", frames[1])
	}
}

func TestEncodeBytes_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{name: "unknown type", ev: Event{Type: "bogus"}},
		{name: "missing payload", ev: Event{Type: TypeDelta}},
		{name: "non-empty terminal", ev: DeltaEvent(Delta{Delta: "x", Done: true})},
		{name: "error without code", ev: ErrorEvent(Error{Message: "x"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeBytes(tt.ev); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEvent_JSONFrame(t *testing.T) {
	in := DeltaEvent(Delta{ConversationID: "c1", MessageID: "m1", Delta: "lo"})

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(b), `{"v":"v1","type":"delta","payload":{`) {
		t.Fatalf("unexpected frame: %s", b)
	}

	var out Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Type != TypeDelta || out.Delta == nil || *out.Delta != *in.Delta {
		t.Fatalf("frame mismatch: %+v", out)
	}
	if out.Terminal() {
		t.Fatalf("non-terminal delta reported terminal")
	}

	if err := json.Unmarshal([]byte(`{"v":"v9","type":"delta","payload":{}}`), &out); err == nil {
		t.Fatalf("expected version error")
	}
}
