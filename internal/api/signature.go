package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

var (
	errMissingSignature = errors.New("missing signature header")
	errBadSignature     = errors.New("signature mismatch")
)

// VerifySignature checks the HMAC of the raw request body against the
// header value. Header values may carry an algorithm prefix like
// "sha256=", which is stripped before comparison.
func VerifySignature(secret, alg, header string, body []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errMissingSignature
	}
	if i := strings.IndexByte(header, '='); i > 0 {
		header = header[i+1:]
	}

	var newHash func() hash.Hash
	switch alg {
	case "sha1":
		newHash = sha1.New
	case "sha512":
		newHash = sha512.New
	default:
		newHash = sha256.New
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(strings.ToLower(header)), []byte(expected)) != 1 {
		return errBadSignature
	}
	return nil
}
