package token

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"qpaygate/internal/domain"
	"qpaygate/internal/metrics"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"

	"github.com/rs/zerolog"
)

const (
	tokenKeyPrefix   = "qpay:token:"
	refreshKeyPrefix = "qpay:refresh:"
	backoffKeyPrefix = "qpay:refresh_backoff:"
)

// Cache hands out bearer tokens, reusing cached ones while they are
// usable, trying a refresh when they are not, and falling back to
// client-credentials auth when the refresh path is unavailable or fails.
// Refresh failures open an exponential cool-down so a broken refresh
// token cannot hammer the processor.
type Cache struct {
	store  domain.KeyValueStore
	client domain.AuthClient
	logger *zerolog.Logger
	now    func() time.Time
}

func NewCache(store domain.KeyValueStore, client domain.AuthClient, logger *zerolog.Logger) *Cache {
	return &Cache{
		store:  store,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// GetToken returns a usable bearer token for the given credentials.
func (c *Cache) GetToken(ctx context.Context, creds qpay.Credentials) (string, error) {
	now := c.now()
	tokenKey := tokenKeyPrefix + md5hex(creds.ClientID+"|"+creds.AuthURL)

	cached, ok := c.loadToken(ctx, tokenKey)
	if ok && cached.Usable(now) {
		metrics.TokenRequests.WithLabelValues("cache").Inc()
		return cached.Token, nil
	}

	refreshToken := cached.RefreshToken
	if refreshToken == "" {
		refreshToken = c.loadRefreshToken(ctx, creds.ClientID)
	}

	if refreshToken != "" && !c.inCoolDown(ctx, creds.ClientID, now) {
		token, err := c.refresh(ctx, creds, tokenKey, refreshToken, now)
		if err == nil {
			metrics.TokenRequests.WithLabelValues("refresh").Inc()
			return token, nil
		}
		c.logger.Warn().Err(err).Str("client_id", creds.ClientID).
			Msg("Token refresh failed, falling back to authentication")
		c.recordRefreshFailure(ctx, creds.ClientID, now)
	}

	token, err := c.authenticate(ctx, creds, tokenKey, now)
	if err != nil {
		return "", err
	}
	metrics.TokenRequests.WithLabelValues("auth").Inc()
	return token, nil
}

// Invalidate drops the cached token so the next GetToken re-acquires one.
func (c *Cache) Invalidate(ctx context.Context, creds qpay.Credentials) error {
	tokenKey := tokenKeyPrefix + md5hex(creds.ClientID+"|"+creds.AuthURL)
	return c.store.Delete(ctx, tokenKey)
}

func (c *Cache) refresh(ctx context.Context, creds qpay.Credentials, tokenKey, refreshToken string, now time.Time) (string, error) {
	resp, err := c.client.Refresh(ctx, refreshToken, creds.RefreshURL())
	if err != nil {
		return "", err
	}

	c.clearRefreshFailures(ctx, creds.ClientID)

	ttlSeconds := int64(models.DefaultRefreshTTLSeconds)
	if resp.ExpiresIn > 0 {
		ttlSeconds = cacheTTLSeconds(resp.ExpiresIn)
	}

	// A refresh response that omits the rotated refresh token keeps the
	// one we already hold.
	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	c.storeToken(ctx, tokenKey, models.CachedToken{
		Token:        resp.BearerToken(),
		CachedAt:     now.Unix(),
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: newRefresh,
	}, ttlSeconds)
	c.storeRefreshToken(ctx, creds.ClientID, newRefresh)

	return resp.BearerToken(), nil
}

func (c *Cache) authenticate(ctx context.Context, creds qpay.Credentials, tokenKey string, now time.Time) (string, error) {
	resp, err := c.client.Authenticate(ctx, creds.ClientID, creds.ClientSecret, creds.AuthURL)
	if err != nil {
		return "", err
	}

	// Only cache when the processor told us how long the token lives.
	if resp.ExpiresIn > 0 {
		c.storeToken(ctx, tokenKey, models.CachedToken{
			Token:        resp.BearerToken(),
			CachedAt:     now.Unix(),
			ExpiresIn:    resp.ExpiresIn,
			RefreshToken: resp.RefreshToken,
		}, cacheTTLSeconds(resp.ExpiresIn))
	}
	if resp.RefreshToken != "" {
		c.storeRefreshToken(ctx, creds.ClientID, resp.RefreshToken)
	}

	return resp.BearerToken(), nil
}

func (c *Cache) loadToken(ctx context.Context, key string) (models.CachedToken, bool) {
	var token models.CachedToken
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read cached token")
		return token, false
	}
	if !ok {
		return token, false
	}
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding malformed cached token")
		return models.CachedToken{}, false
	}
	return token, true
}

func (c *Cache) storeToken(ctx context.Context, key string, token models.CachedToken, ttlSeconds int64) {
	raw, err := json.Marshal(token)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, string(raw), time.Duration(ttlSeconds)*time.Second); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache token")
	}
}

func (c *Cache) loadRefreshToken(ctx context.Context, clientID string) string {
	raw, ok, err := c.store.Get(ctx, refreshKeyPrefix+md5hex(clientID))
	if err != nil || !ok {
		return ""
	}
	return raw
}

func (c *Cache) storeRefreshToken(ctx context.Context, clientID, refreshToken string) {
	if refreshToken == "" {
		return
	}
	// Refresh tokens outlive the access token, keep them without a TTL.
	if err := c.store.Set(ctx, refreshKeyPrefix+md5hex(clientID), refreshToken, 0); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist refresh token")
	}
}

func (c *Cache) inCoolDown(ctx context.Context, clientID string, now time.Time) bool {
	backoff, ok := c.loadBackoff(ctx, clientID)
	return ok && backoff.InCoolDown(now)
}

func (c *Cache) recordRefreshFailure(ctx context.Context, clientID string, now time.Time) {
	backoff, _ := c.loadBackoff(ctx, clientID)
	backoff.Attempts++

	exponent := backoff.Attempts
	if exponent > models.MaxRefreshExponent {
		exponent = models.MaxRefreshExponent
	}
	delaySeconds := int64(60) << exponent
	if delaySeconds > models.MaxRefreshBackoffSeconds {
		delaySeconds = models.MaxRefreshBackoffSeconds
	}

	backoff.NextAllowedAt = now.Unix() + delaySeconds

	raw, err := json.Marshal(backoff)
	if err != nil {
		return
	}
	key := backoffKeyPrefix + md5hex(clientID)
	if err := c.store.Set(ctx, key, string(raw), time.Duration(models.MaxRefreshBackoffSeconds)*time.Second); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record refresh backoff")
	}
}

func (c *Cache) clearRefreshFailures(ctx context.Context, clientID string) {
	if err := c.store.Delete(ctx, backoffKeyPrefix+md5hex(clientID)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear refresh backoff")
	}
}

func (c *Cache) loadBackoff(ctx context.Context, clientID string) (models.RefreshBackoff, bool) {
	var backoff models.RefreshBackoff
	raw, ok, err := c.store.Get(ctx, backoffKeyPrefix+md5hex(clientID))
	if err != nil || !ok {
		return backoff, false
	}
	if err := json.Unmarshal([]byte(raw), &backoff); err != nil {
		return models.RefreshBackoff{}, false
	}
	return backoff, true
}

func cacheTTLSeconds(expiresIn int64) int64 {
	ttl := expiresIn - models.TokenTTLSlackSeconds
	if ttl < models.MinTokenTTLSeconds {
		ttl = models.MinTokenTTLSeconds
	}
	return ttl
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
