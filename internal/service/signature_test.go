package service

import (
	"strconv"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func TestVerifySignatureAccepts(t *testing.T) {
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	sig := ComputeSignature(testSecret, timestamp, body)
	err := VerifySignature(testSecret, timestamp, body, sig, now, 5*time.Minute)
	require.NoError(t, err)
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"resource":{"amount":1000}}`)

	sig := ComputeSignature(testSecret, timestamp, body)
	tampered := []byte(`{"resource":{"amount":9000}}`)

	err := VerifySignature(testSecret, timestamp, tampered, sig, now, 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrSignatureVerification)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{}`)

	sig := ComputeSignature("whsec_other", timestamp, body)
	err := VerifySignature(testSecret, timestamp, body, sig, now, 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrSignatureVerification)
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	body := []byte(`{}`)

	sig := ComputeSignature(testSecret, stale, body)
	err := VerifySignature(testSecret, stale, body, sig, now, 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrSignatureVerification)
}

func TestVerifySignatureRejectsFutureTimestamp(t *testing.T) {
	now := time.Now()
	future := strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)
	body := []byte(`{}`)

	sig := ComputeSignature(testSecret, future, body)
	err := VerifySignature(testSecret, future, body, sig, now, 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrSignatureVerification)
}

func TestVerifySignatureRejectsMissingPieces(t *testing.T) {
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{}`)
	sig := ComputeSignature(testSecret, timestamp, body)

	assert.ErrorIs(t, VerifySignature("", timestamp, body, sig, now, time.Minute), models.ErrSignatureVerification)
	assert.ErrorIs(t, VerifySignature(testSecret, "", body, sig, now, time.Minute), models.ErrSignatureVerification)
	assert.ErrorIs(t, VerifySignature(testSecret, timestamp, body, "", now, time.Minute), models.ErrSignatureVerification)
	assert.ErrorIs(t, VerifySignature(testSecret, "not-a-unix-time", body, sig, now, time.Minute), models.ErrSignatureVerification)
}
