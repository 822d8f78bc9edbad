package models

const (
	// MaxTaskAttempts is the retry budget for queued tasks. A task that
	// fails this many times is dead-lettered.
	MaxTaskAttempts = 6

	// DefaultQueueBatchSize limits how many due tasks a single worker
	// tick picks up.
	DefaultQueueBatchSize = 20

	// TokenSafetyMarginSeconds is subtracted from a cached token's expiry
	// when deciding whether it is still usable.
	TokenSafetyMarginSeconds = 15

	// TokenTTLSlackSeconds is subtracted from expires_in when computing
	// the cache TTL, so the cache entry dies before the token does.
	TokenTTLSlackSeconds = 30

	// MinTokenTTLSeconds is the floor for cache TTLs.
	MinTokenTTLSeconds = 60

	// DefaultRefreshTTLSeconds is used when a refresh response carries no
	// expires_in.
	DefaultRefreshTTLSeconds = 300

	// MaxRefreshExponent caps the exponent of the refresh backoff.
	MaxRefreshExponent = 8

	// MaxRefreshBackoffSeconds caps the refresh cool-down at one hour.
	MaxRefreshBackoffSeconds = 3600
)

// Order lifecycle statuses.
const (
	OrderStatusPending        = "pending"
	OrderStatusPendingInvoice = "pending_invoice"
	OrderStatusAwaitingPay    = "awaiting_payment"
	OrderStatusPaid           = "paid"
	OrderStatusRefunded       = "refunded"
)
