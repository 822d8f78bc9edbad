package qpay

import (
	"testing"

	"qpaygate/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSandboxIsFixed(t *testing.T) {
	resolver := NewResolver(config.QPayConfig{
		Mode:         "sandbox",
		LiveClientID: "should-be-ignored",
		InvoiceCode:  "should-be-ignored",
	})

	creds, err := resolver.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "TEST_MERCHANT", creds.ClientID)
	assert.Equal(t, "123456", creds.ClientSecret)
	assert.Equal(t, "TEST_INVOICE", creds.InvoiceCode)
	assert.Equal(t, "https://merchant-sandbox.qpay.mn/v2/auth/token", creds.AuthURL)
	assert.Equal(t, "https://merchant-sandbox.qpay.mn/v2/ebarimt_v3/create", creds.EbarimtURL)
}

func TestResolveProductionFromConfig(t *testing.T) {
	resolver := NewResolver(config.QPayConfig{
		Mode:             "production",
		LiveClientID:     "MERCHANT",
		LiveClientSecret: "s3cret",
		InvoiceCode:      "MERCHANT_INVOICE",
	})

	creds, err := resolver.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "MERCHANT", creds.ClientID)
	assert.Equal(t, "s3cret", creds.ClientSecret)
	assert.Equal(t, "https://merchant.qpay.mn/v2/auth/token", creds.AuthURL)
	assert.Equal(t, "https://merchant.qpay.mn/v2/ebarimt/create", creds.EbarimtURL)
}

func TestResolveProductionFromEnv(t *testing.T) {
	t.Setenv("QPAY_ID", "ENV_MERCHANT")
	t.Setenv("QPAY_SECRET", "env-secret")

	resolver := NewResolver(config.QPayConfig{
		Mode:               "production",
		UseEnv:             true,
		EnvClientIDVar:     "QPAY_ID",
		EnvClientSecretVar: "QPAY_SECRET",
	})

	creds, err := resolver.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "ENV_MERCHANT", creds.ClientID)
	assert.Equal(t, "env-secret", creds.ClientSecret)
}

func TestResolveProductionMissingCredentials(t *testing.T) {
	resolver := NewResolver(config.QPayConfig{Mode: "production"})

	_, err := resolver.Resolve()
	assert.Error(t, err)
}

func TestDerivedURLs(t *testing.T) {
	creds := Credentials{
		BaseURL:         "https://merchant.qpay.mn",
		AuthURL:         "https://merchant.qpay.mn/v2/auth/token",
		InvoiceURL:      "https://merchant.qpay.mn/v2/invoice",
		PaymentCheckURL: "https://merchant.qpay.mn/v2/payment/check",
	}

	assert.Equal(t, "https://merchant.qpay.mn/v2/auth/refresh", creds.RefreshURL())
	assert.Equal(t, "https://merchant.qpay.mn/v2/payment/refund", creds.RefundURL())
	assert.Equal(t, "https://merchant.qpay.mn/v2/payment/P%2F1", creds.PaymentURL("P/1"))
	assert.Equal(t, "https://merchant.qpay.mn/v2/payment/cancel/P1", creds.PaymentCancelURL("P1"))
	assert.Equal(t, "https://merchant.qpay.mn/v2/invoice/INV-1", creds.InvoiceCancelURL("INV-1"))
	assert.Equal(t, "https://merchant.qpay.mn/v2/ebarimt_v3/EB-1", creds.EbarimtCancelURL("EB-1"))
}

func TestSecretEncryptionRoundTrip(t *testing.T) {
	const key = "gateway-secret-key"
	const plain = "live-client-secret"

	blob := EncryptSecret(plain, key)
	require.NotEqual(t, plain, blob)
	assert.Contains(t, blob, "enc:")

	assert.Equal(t, plain, DecryptSecret(blob, key))
}

func TestDecryptWithoutPrefixPassesThrough(t *testing.T) {
	assert.Equal(t, "plain-secret", DecryptSecret("plain-secret", "key"))
}

func TestDecryptDegradesGracefully(t *testing.T) {
	// No key: the prefix is stripped, nothing else happens.
	assert.Equal(t, "notbase64", DecryptSecret("enc:notbase64", ""))

	// Wrong key: the plaintext never comes back.
	blob := EncryptSecret("secret", "right-key")
	assert.NotEqual(t, "secret", DecryptSecret(blob, "wrong-key"))
}

func TestEncryptWithoutKeyIsNoop(t *testing.T) {
	assert.Equal(t, "secret", EncryptSecret("secret", ""))
}
