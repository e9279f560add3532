package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"firing_id":"f1"}`)
	good := sign("s3cret", "1705312800", body)

	tests := []struct {
		name      string
		timestamp string
		body      []byte
		signature string
		want      bool
	}{
		{"timestamp and body", "1705312800", body, good, true},
		{"body only", "1705312800", body, bodyOnly("s3cret", body), false},
		{"other timestamp", "1705312801", body, good, false},
		{"tampered body", "1705312800", []byte(`{"firing_id":"f2"}`), good, false},
		{"missing timestamp", "", body, good, false},
		{"missing signature", "1705312800", body, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verifySignature("s3cret", tt.timestamp, tt.body, tt.signature); got != tt.want {
				t.Errorf("verifySignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func bodyOnly(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
