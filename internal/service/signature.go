package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/models"
)

// GatewayCredentials holds the per-region secret used to authenticate webhook
// deliveries.
type GatewayCredentials struct {
	WebhookSecret string
}

// ComputeSignature returns the hex HMAC-SHA256 of "timestamp.body".
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery's signature and timestamp freshness.
// Stale timestamps are rejected to limit replay of captured deliveries.
func VerifySignature(secret, timestamp string, body []byte, signature string, now time.Time, tolerance time.Duration) error {
	if secret == "" || signature == "" || timestamp == "" {
		return models.ErrSignatureVerification
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", models.ErrSignatureVerification)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("stale timestamp: %w", models.ErrSignatureVerification)
	}

	expected := ComputeSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return models.ErrSignatureVerification
	}
	return nil
}
