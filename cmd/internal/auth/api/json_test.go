package authapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}
	tests := []struct {
		name     string
		in       string
		ok       bool
		wantCode int
		wantErr  string
	}{
		{"valid", `{"email":"ada@example.com"}`, true, 0, ""},
		{"trailing space", `{"email":"a"}` + "\n", true, 0, ""},
		{"empty", ``, false, http.StatusBadRequest, "invalid_json"},
		{"truncated", `{"email":`, false, http.StatusBadRequest, "invalid_json"},
		{"unknown field", `{"email":"a","admin":true}`, false, http.StatusBadRequest, "invalid_json"},
		{"two objects", `{"email":"a"}{"email":"b"}`, false, http.StatusBadRequest, "invalid_json"},
		{"too large", `{"email":"` + strings.Repeat("a", 128) + `"}`, false, http.StatusRequestEntityTooLarge, "body_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.in))

			var dst body
			if got := ReadJSON(w, r, 64, &dst); got != tt.ok {
				t.Fatalf("ReadJSON = %v, want %v", got, tt.ok)
			}
			if tt.ok {
				return
			}
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var eb errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &eb); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if eb.Error.Code != tt.wantErr {
				t.Fatalf("code = %q, want %q", eb.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestWriteJSON_NoStore(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusTeapot, "x", "y")
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Fatalf("Content-Type = %q", got)
	}
}
