package qpay

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"os"
	"strings"

	"qpaygate/internal/config"
)

const (
	sandboxBaseURL    = "https://merchant-sandbox.qpay.mn"
	productionBaseURL = "https://merchant.qpay.mn"

	// Sandbox always uses the processor's shared test merchant; the
	// values cannot be overridden so sandbox testing always works.
	SandboxClientID     = "TEST_MERCHANT"
	SandboxClientSecret = "123456"
	SandboxInvoiceCode  = "TEST_INVOICE"

	encPrefix = "enc:"
)

// Credentials is the resolved environment: endpoints plus decrypted
// merchant credentials.
type Credentials struct {
	ClientID        string
	ClientSecret    string
	InvoiceCode     string
	BaseURL         string
	AuthURL         string
	InvoiceURL      string
	PaymentCheckURL string
	EbarimtURL      string
}

// RefreshURL derives the token refresh endpoint from the auth endpoint.
func (c Credentials) RefreshURL() string {
	return strings.Replace(c.AuthURL, "/token", "/refresh", 1)
}

// RefundURL derives the refund endpoint from the payment check endpoint.
func (c Credentials) RefundURL() string {
	return strings.Replace(strings.TrimRight(c.PaymentCheckURL, "/"), "/check", "/refund", 1)
}

func (c Credentials) PaymentURL(paymentID string) string {
	return c.BaseURL + "/v2/payment/" + pathEscape(paymentID)
}

func (c Credentials) PaymentListURL() string {
	return c.BaseURL + "/v2/payment/list"
}

func (c Credentials) PaymentCancelURL(paymentID string) string {
	return c.BaseURL + "/v2/payment/cancel/" + pathEscape(paymentID)
}

func (c Credentials) InvoiceCancelURL(invoiceID string) string {
	return strings.TrimRight(c.InvoiceURL, "/") + "/" + pathEscape(invoiceID)
}

func (c Credentials) EbarimtCancelURL(ebarimtID string) string {
	return c.BaseURL + "/v2/ebarimt_v3/" + pathEscape(ebarimtID)
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}

// Resolver produces environment-specific credentials from config.
type Resolver struct {
	cfg config.QPayConfig
}

func NewResolver(cfg config.QPayConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the credential set for the configured mode. Production
// secrets may come from named environment variables and may be encrypted
// with SecretKey.
func (r *Resolver) Resolve() (Credentials, error) {
	if r.cfg.Mode != "production" {
		return Credentials{
			ClientID:        SandboxClientID,
			ClientSecret:    SandboxClientSecret,
			InvoiceCode:     SandboxInvoiceCode,
			BaseURL:         sandboxBaseURL,
			AuthURL:         sandboxBaseURL + "/v2/auth/token",
			InvoiceURL:      sandboxBaseURL + "/v2/invoice",
			PaymentCheckURL: sandboxBaseURL + "/v2/payment/check",
			EbarimtURL:      sandboxBaseURL + "/v2/ebarimt_v3/create",
		}, nil
	}

	clientID := r.cfg.LiveClientID
	secretRaw := r.cfg.LiveClientSecret
	if r.cfg.UseEnv {
		clientID = os.Getenv(r.cfg.EnvClientIDVar)
		secretRaw = os.Getenv(r.cfg.EnvClientSecretVar)
	}
	if clientID == "" || secretRaw == "" {
		return Credentials{}, errors.New("missing production credentials")
	}

	return Credentials{
		ClientID:        clientID,
		ClientSecret:    DecryptSecret(secretRaw, r.cfg.SecretKey),
		InvoiceCode:     r.cfg.InvoiceCode,
		BaseURL:         productionBaseURL,
		AuthURL:         productionBaseURL + "/v2/auth/token",
		InvoiceURL:      productionBaseURL + "/v2/invoice",
		PaymentCheckURL: productionBaseURL + "/v2/payment/check",
		EbarimtURL:      productionBaseURL + "/v2/ebarimt/create",
	}, nil
}

// EncryptSecret encrypts a plaintext secret with AES-256-CBC and returns
// an "enc:"-prefixed base64 blob (iv || ciphertext). An empty key returns
// the plaintext unchanged.
func EncryptSecret(plaintext, key string) string {
	if key == "" {
		return plaintext
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return plaintext
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return plaintext
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return encPrefix + base64.StdEncoding.EncodeToString(append(iv, out...))
}

// DecryptSecret reverses EncryptSecret. Blobs without the prefix pass
// through untouched; undecryptable blobs degrade to the raw value minus
// the prefix so a lost key never blocks startup.
func DecryptSecret(blob, key string) string {
	if !strings.HasPrefix(blob, encPrefix) {
		return blob
	}
	stripped := blob[len(encPrefix):]
	if key == "" {
		return stripped
	}
	data, err := base64.StdEncoding.DecodeString(stripped)
	if err != nil || len(data) < aes.BlockSize*2 || len(data)%aes.BlockSize != 0 {
		return stripped
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return stripped
	}
	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return stripped
	}
	return string(unpadded)
}

// normalizeKey zero-pads or truncates the key to 32 bytes (AES-256).
func normalizeKey(key string) []byte {
	out := make([]byte, 32)
	copy(out, key)
	return out
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}
