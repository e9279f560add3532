package dispatcher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// capturedRequest is what a test server saw.
type capturedRequest struct {
	method string
	header http.Header
	body   []byte
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = capturedRequest{method: r.Method, header: r.Header.Clone(), body: body}
		mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(server.Close)
	return server, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

// steppingClock advances a fixed step on every read.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

func samplePayload() WebhookPayload {
	return WebhookPayload{
		RuleID:      "rule-1",
		RuleName:    "notify",
		FiringID:    "firing-456",
		EventType:   "task.completed",
		Depth:       1,
		ScheduledAt: "2024-01-15T10:00:00Z",
		FiredAt:     "2024-01-15T10:00:30Z",
	}
}

func TestHTTPWebhookSender_HeadersAndBody(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK)

	sender := NewHTTPWebhookSender()
	sender.now = steppingClock(time.Unix(1705312800, 0), 250*time.Millisecond)

	result := sender.Send(context.Background(), WebhookRequest{
		URL:            server.URL,
		Secret:         "my-secret",
		Timeout:        5 * time.Second,
		AttemptID:      "attempt-123",
		IdempotencyKey: "idem-789",
		Payload:        samplePayload(),
	})
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.Duration <= 0 {
		t.Errorf("Duration = %s, want positive", result.Duration)
	}

	got := captured()
	if got.method != http.MethodPost {
		t.Errorf("method = %s, want POST", got.method)
	}

	wantHeaders := map[string]string{
		"Content-Type":       "application/json",
		"User-Agent":         userAgent,
		HeaderDeliveryID:     "attempt-123",
		HeaderFiringID:       "firing-456",
		HeaderIdempotencyKey: "idem-789",
		HeaderTimestamp:      "1705312800",
	}
	for name, want := range wantHeaders {
		if v := got.header.Get(name); v != want {
			t.Errorf("%s = %q, want %q", name, v, want)
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(got.body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !reflect.DeepEqual(payload, samplePayload()) {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHTTPWebhookSender_SignsTimestampAndBody(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK)

	sender := NewHTTPWebhookSender()
	sender.Send(context.Background(), WebhookRequest{
		URL:     server.URL,
		Secret:  "my-webhook-secret",
		Timeout: 5 * time.Second,
		Payload: samplePayload(),
	})

	got := captured()
	ts := got.header.Get(HeaderTimestamp)
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		t.Fatalf("timestamp %q is not unix seconds: %v", ts, err)
	}
	sig := got.header.Get(HeaderSignature)
	if !VerifySignature("my-webhook-secret", ts, got.body, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	if VerifySignature("my-webhook-secret", "0", got.body, sig) {
		t.Error("signature must bind the timestamp")
	}
}

func TestHTTPWebhookSender_NoSecretNoSignature(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK)

	NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     server.URL,
		Payload: samplePayload(),
	})

	got := captured()
	if sig := got.header.Get(HeaderSignature); sig != "" {
		t.Errorf("%s = %q, want unset without a secret", HeaderSignature, sig)
	}
	if got.header.Get(HeaderTimestamp) == "" {
		t.Error("timestamp header should be sent regardless of secret")
	}
}

func TestHTTPWebhookSender_StatusPassthrough(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusInternalServerError} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			server, _ := newCaptureServer(t, status)

			result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
				URL:     server.URL,
				Secret:  "secret",
				Payload: WebhookPayload{RuleID: "r", FiringID: "f"},
			})
			if result.Error != nil {
				t.Errorf("HTTP status should not set Error, got %v", result.Error)
			}
			if result.StatusCode != status {
				t.Errorf("StatusCode = %d, want %d", result.StatusCode, status)
			}
		})
	}
}

func TestHTTPWebhookSender_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
		Payload: WebhookPayload{RuleID: "r", FiringID: "f"},
	})
	if result.Error == nil {
		t.Fatal("expected a timeout error")
	}
	if result.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", result.StatusCode)
	}
}

func TestHTTPWebhookSender_ConnectionError(t *testing.T) {
	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     "http://localhost:1",
		Timeout: time.Second,
		Payload: WebhookPayload{RuleID: "r", FiringID: "f"},
	})
	if result.Error == nil || !strings.HasPrefix(result.Error.Error(), "send:") {
		t.Errorf("Error = %v, want a send error", result.Error)
	}
}

func TestHTTPWebhookSender_BadURL(t *testing.T) {
	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     "://missing-scheme",
		Payload: WebhookPayload{RuleID: "r", FiringID: "f"},
	})
	if result.Error == nil || !strings.HasPrefix(result.Error.Error(), "create request:") {
		t.Errorf("Error = %v, want a create request error", result.Error)
	}
}

func TestHTTPWebhookSender_WithClient(t *testing.T) {
	var calls int
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusAccepted,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})}

	result := NewHTTPWebhookSender().WithClient(client).Send(context.Background(), WebhookRequest{
		URL:     "http://hooks.invalid/endpoint",
		Payload: WebhookPayload{RuleID: "r", FiringID: "f"},
	})
	if calls != 1 || result.StatusCode != http.StatusAccepted {
		t.Errorf("calls=%d status=%d, want 1 and 202", calls, result.StatusCode)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"rule_id":"r1","firing_id":"f1"}`)
	sig := Sign("test-secret", "1705312800", body)

	tests := []struct {
		name      string
		secret    string
		timestamp string
		body      []byte
		signature string
		want      bool
	}{
		{"valid", "test-secret", "1705312800", body, sig, true},
		{"wrong secret", "other-secret", "1705312800", body, sig, false},
		{"tampered body", "test-secret", "1705312800", []byte(`{"rule_id":"r2","firing_id":"f1"}`), sig, false},
		{"replayed timestamp", "test-secret", "1705312801", body, sig, false},
		{"missing timestamp", "test-secret", "", body, sig, false},
		{"missing signature", "test-secret", "1705312800", body, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.timestamp, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSign_HexSHA256(t *testing.T) {
	sig := Sign("s", "1", []byte("{}"))
	if sig != Sign("s", "1", []byte("{}")) {
		t.Error("Sign should be deterministic")
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature should be hex: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("signature is %d bytes, want 32", len(raw))
	}
}
