// Package auth caches the machine-to-machine credential used for backend
// calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultExpiryBuffer = 5 * time.Minute
	fallbackLifetime    = time.Hour
)

// ErrAuthentication marks every failure to obtain a credential.
var ErrAuthentication = errors.New("auth: authentication failed")

// Exchanger performs the remote credential exchange.
type Exchanger interface {
	Exchange(ctx context.Context) (string, error)
}

// TokenInfo is a cached credential and its absolute expiry.
type TokenInfo struct {
	Token     string
	ExpiresAt time.Time
}

// Usable reports whether the token is still valid buffer past now.
func (t TokenInfo) Usable(now time.Time, buffer time.Duration) bool {
	return t.Token != "" && now.Add(buffer).Before(t.ExpiresAt)
}

// Cache holds one credential per configured backend. Refreshes are serialized
// so concurrent callers share a single exchange.
type Cache struct {
	exchanger Exchanger
	buffer    time.Duration
	now       func() time.Time
	logger    *slog.Logger

	refresh *semaphore.Weighted

	mu      sync.Mutex
	current *TokenInfo
}

type Option func(*Cache)

// WithExpiryBuffer sets how long before expiry a token is treated as stale.
func WithExpiryBuffer(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.buffer = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates an empty Cache backed by ex.
func NewCache(ex Exchanger, opts ...Option) (*Cache, error) {
	if ex == nil {
		return nil, errors.New("auth: exchanger must not be nil")
	}
	c := &Cache{
		exchanger: ex,
		buffer:    DefaultExpiryBuffer,
		now:       time.Now,
		logger:    slog.Default(),
		refresh:   semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetValidToken returns a usable token, exchanging for a new one when the
// cached token is missing or inside the expiry buffer. Exchange failures wrap
// ErrAuthentication and are not retried here.
func (c *Cache) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	if err := c.refresh.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("auth: wait for token refresh: %w", err)
	}
	defer c.refresh.Release(1)

	// Another caller may have refreshed while we waited.
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	c.logger.Info("exchanging m2m token")
	raw, err := c.exchanger.Exchange(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthentication)
	}

	info := TokenInfo{Token: raw, ExpiresAt: c.parseExpiry(raw)}
	c.mu.Lock()
	c.current = &info
	c.mu.Unlock()

	c.logger.Info("m2m token refreshed", "expires_at", info.ExpiresAt)
	return info.Token, nil
}

// Invalidate drops the cached token so the next call exchanges again.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.logger.Info("m2m token invalidated")
}

// Current returns the cached token info, if any.
func (c *Cache) Current() (TokenInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return TokenInfo{}, false
	}
	return *c.current, true
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Usable(c.now(), c.buffer) {
		return c.current.Token, true
	}
	return "", false
}

// parseExpiry reads the exp claim without verifying the signature; the token
// is only forwarded, never trusted locally. Missing or unreadable expiry
// falls back to one hour from now.
func (c *Cache) parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		c.logger.Warn("could not parse token expiry, assuming one hour", "err", err)
		return c.now().Add(fallbackLifetime)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		c.logger.Warn("token has no expiry claim, assuming one hour")
		return c.now().Add(fallbackLifetime)
	}
	return exp.Time
}
