package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signSHA256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsValidMAC(t *testing.T) {
	body := []byte(`{"invoice_id":"INV-1"}`)
	sig := signSHA256("secret", body)

	assert.NoError(t, VerifySignature("secret", "sha256", sig, body))
	assert.NoError(t, VerifySignature("secret", "sha256", "sha256="+sig, body))
	assert.NoError(t, VerifySignature("secret", "sha256", strings.ToUpper(sig), body))
	assert.NoError(t, VerifySignature("secret", "", sig, body), "unknown alg defaults to sha256")
}

func TestVerifySignatureSHA1(t *testing.T) {
	body := []byte("payload")
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, VerifySignature("secret", "sha1", "sha1="+sig, body))
}

func TestVerifySignatureRejectsMismatch(t *testing.T) {
	body := []byte("payload")
	sig := signSHA256("secret", body)

	assert.ErrorIs(t, VerifySignature("other-secret", "sha256", sig, body), errBadSignature)
	assert.ErrorIs(t, VerifySignature("secret", "sha256", sig, []byte("tampered")), errBadSignature)
}

func TestVerifySignatureRequiresHeader(t *testing.T) {
	assert.ErrorIs(t, VerifySignature("secret", "sha256", "", []byte("x")), errMissingSignature)
	assert.ErrorIs(t, VerifySignature("secret", "sha256", "   ", []byte("x")), errMissingSignature)
}
