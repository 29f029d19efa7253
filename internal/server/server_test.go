package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}

	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin on GET = %q, want %q", v, "*")
	}
}

func TestTranscriptMessage(t *testing.T) {
	msg := TranscriptMessage{Type: "transcript", Text: "Hello world", SessionID: "abc123"}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal error: %v", err)
	}

	var decoded TranscriptMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}

	if decoded.Type != "transcript" {
		t.Errorf("Type = %q, want %q", decoded.Type, "transcript")
	}
	if decoded.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", decoded.Text, "Hello world")
	}
	if decoded.SessionID != "abc123" {
		t.Errorf("SessionID = %q, want %q", decoded.SessionID, "abc123")
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := &rateLimiter{}

	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d unexpectedly rate limited", i)
		}
	}
	if rl.allow() {
		t.Fatal("expected rate limit to trigger after RateLimitMessages sends")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := &rateLimiter{}
	rl.timestamps = append(rl.timestamps, time.Now().Add(-RateLimitWindow-time.Second))

	if !rl.allow() {
		t.Fatal("expected stale timestamp to be pruned, allowing new message")
	}
	if len(rl.timestamps) != 1 {
		t.Fatalf("expected pruned timestamp list to contain only the new entry, got %d", len(rl.timestamps))
	}
}
