package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultWebhookTimeout applies when a rule's action sets no timeout.
const DefaultWebhookTimeout = 30 * time.Second

// Header names sent with every webhook.
const (
	HeaderDeliveryID     = "X-EasyAuto-Delivery-ID"
	HeaderFiringID       = "X-EasyAuto-Firing-ID"
	HeaderIdempotencyKey = "X-EasyAuto-Idempotency-Key"
	HeaderTimestamp      = "X-EasyAuto-Timestamp"
	HeaderSignature      = "X-EasyAuto-Signature"
)

const userAgent = "easyauto-webhook/1"

// maxDrainBytes caps how much of a response body is read so the connection
// can be reused.
const maxDrainBytes = 64 << 10

type HTTPWebhookSender struct {
	client *http.Client
	now    func() time.Time
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{
		client: &http.Client{},
		now:    time.Now,
	}
}

// WithClient replaces the HTTP client, e.g. to set a transport or proxy.
// Per-request timeouts still come from the rule action.
func (s *HTTPWebhookSender) WithClient(c *http.Client) *HTTPWebhookSender {
	s.client = c
	return s
}

// Send posts the webhook payload. When the rule carries a secret, the
// request is signed with HMAC-SHA256 over "<timestamp>.<body>".
func (s *HTTPWebhookSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := s.now()
	elapsed := func() time.Duration { return s.now().Sub(start) }

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("marshal: %w", err), Duration: elapsed()}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: elapsed()}
	}

	timestamp := strconv.FormatInt(start.Unix(), 10)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(HeaderDeliveryID, req.AttemptID)
	httpReq.Header.Set(HeaderFiringID, req.Payload.FiringID)
	httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	httpReq.Header.Set(HeaderTimestamp, timestamp)
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(req.Secret, timestamp, body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("send: %w", err), Duration: elapsed()}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()

	return WebhookResult{StatusCode: resp.StatusCode, Duration: elapsed()}
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>" under secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks. It checks
// the signature only; rejecting stale timestamps is up to the receiver.
func VerifySignature(secret, timestamp string, body []byte, signature string) bool {
	if timestamp == "" || signature == "" {
		return false
	}
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
