package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// signatureHeader carries the hex HMAC-SHA256 of timestampHeader's value,
// a ".", and the body, keyed by the rule's webhook secret.
const (
	signatureHeader = "X-EasyAuto-Signature"
	timestampHeader = "X-EasyAuto-Timestamp"
)

type request struct {
	Timestamp      string            `json:"timestamp"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	FiringID       string            `json:"firing_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	SignatureOK    *bool             `json:"signature_ok,omitempty"`
}

type stats struct {
	Count        int64     `json:"count"`
	Duplicates   int64     `json:"duplicates"`
	BadSignature int64     `json:"bad_signature"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	duplicates   int64
	badSignature int64
	seenKeys     = make(map[string]bool)
	lastRequests []request
	since        time.Time
	maxStored    = 50

	// secret enables signature checks when set.
	secret string

	// failEvery makes every Nth delivery return 503 to exercise retries.
	failEvery int64
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret = os.Getenv("WEBHOOK_SECRET")
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			failEvery = n
		}
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		duplicates = 0
		badSignature = 0
		seenKeys = make(map[string]bool)
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Method:         r.Method,
		Path:           r.URL.Path,
		Headers:        headers,
		Body:           string(body),
		FiringID:       r.Header.Get("X-EasyAuto-Firing-ID"),
		IdempotencyKey: r.Header.Get("X-EasyAuto-Idempotency-Key"),
	}
	if secret != "" {
		ok := verifySignature(secret, r.Header.Get(timestampHeader), body, r.Header.Get(signatureHeader))
		req.SignatureOK = &ok
	}

	mu.Lock()
	count++
	current := count
	rejected := req.SignatureOK != nil && !*req.SignatureOK
	if rejected {
		badSignature++
	}
	// Retries reuse the key; only count a duplicate after a success.
	duplicate := req.IdempotencyKey != "" && seenKeys[req.IdempotencyKey]
	if duplicate {
		duplicates++
	}
	failing := failEvery > 0 && current%failEvery == 0
	if req.IdempotencyKey != "" && !failing && !rejected {
		seenKeys[req.IdempotencyKey] = true
	}
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	mu.Unlock()

	if rejected {
		log.Printf("hook #%d rejected: bad signature firing=%s", current, req.FiringID)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if failing {
		log.Printf("hook #%d failing on purpose firing=%s", current, req.FiringID)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	log.Printf("hook received #%d firing=%s duplicate=%t: %s", current, req.FiringID, duplicate, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		Duplicates:   duplicates,
		BadSignature: badSignature,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// verifySignature checks the hex HMAC-SHA256 of "<timestamp>.<body>".
func verifySignature(secret, timestamp string, body []byte, signature string) bool {
	if timestamp == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
