package token

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMargin   = 60 * time.Second
	DefaultTimeout  = 30 * time.Second
	DefaultLifetime = 5 * time.Minute // used when the token endpoint omits expires_in
)

// Grant is the result of one token exchange.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Exchanger performs the upstream client-credentials exchange.
type Exchanger interface {
	Exchange(ctx context.Context, cred Credential) (*Grant, error)
}

// Source hands out bearer tokens for a credential.
type Source interface {
	GetToken(ctx context.Context, cred Credential) (AccessToken, error)
}

// Cache holds one access token per credential and refreshes it before it
// gets within margin of expiry. Concurrent refreshes of the same credential
// share a single upstream exchange.
type Cache struct {
	exchanger       Exchanger
	margin          time.Duration
	timeout         time.Duration
	defaultLifetime time.Duration
	nowFunc         func() time.Time
	metrics         *metrics.Metrics
	logger          zerolog.Logger

	mu     sync.RWMutex
	tokens map[string]AccessToken
	sf     singleflight.Group
}

var _ Source = (*Cache)(nil)

type CacheOption func(*Cache)

func WithExchanger(e Exchanger) CacheOption {
	return func(c *Cache) {
		c.exchanger = e
	}
}

func WithMargin(margin time.Duration) CacheOption {
	return func(c *Cache) {
		c.margin = margin
	}
}

// WithTimeout bounds each token exchange.
func WithTimeout(timeout time.Duration) CacheOption {
	return func(c *Cache) {
		c.timeout = timeout
	}
}

func WithDefaultLifetime(lifetime time.Duration) CacheOption {
	return func(c *Cache) {
		c.defaultLifetime = lifetime
	}
}

func WithNowFunc(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

func WithLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

func NewCache(options ...CacheOption) *Cache {
	c := &Cache{
		tokens: make(map[string]AccessToken),
		logger: logging.Component("tokens"),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.margin <= 0 {
		c.margin = DefaultMargin
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.defaultLifetime <= 0 {
		c.defaultLifetime = DefaultLifetime
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	if c.exchanger == nil {
		c.exchanger = NewClientCredentialsExchanger(&http.Client{Timeout: c.timeout})
	}
	return c
}

// GetToken returns a token with more than margin of remaining life, exchanging
// a new one when needed. A failed exchange leaves the cache untouched.
func (c *Cache) GetToken(ctx context.Context, cred Credential) (AccessToken, error) {
	if err := cred.Validate(); err != nil {
		return AccessToken{}, &errors.AuthError{Err: err}
	}

	key := cred.Key()
	if tok, ok := c.cached(key); ok {
		return tok, nil
	}

	ch := c.sf.DoChan(key, func() (interface{}, error) {
		return c.refresh(ctx, key, cred)
	})

	select {
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	}
}

// Invalidate drops the cached token for cred, e.g. after the secret was rotated.
func (c *Cache) Invalidate(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, cred.Key())
}

func (c *Cache) cached(key string) (AccessToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[key]
	if !ok || !tok.FreshAt(c.nowFunc(), c.margin) {
		return AccessToken{}, false
	}
	return tok, true
}

func (c *Cache) refresh(ctx context.Context, key string, cred Credential) (AccessToken, error) {
	// A flight that finished between the caller's check and DoChan already stored a token.
	if tok, ok := c.cached(key); ok {
		return tok, nil
	}

	// The exchange is shared by every waiter, so the first caller's cancellation must not abort it.
	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	grant, err := c.exchanger.Exchange(exCtx, cred)
	if err != nil {
		if !errors.IsAuth(err) && !errors.IsTimeout(err) {
			err = &errors.AuthError{Err: err}
		}
		c.recordFailure(cred, err)
		return AccessToken{}, err
	}

	lifetime := grant.ExpiresIn
	if lifetime <= 0 {
		lifetime = c.defaultLifetime
	}
	if lifetime <= c.margin {
		err := &errors.AuthError{Err: errors.ErrTokenLifetimeTooShort}
		c.recordFailure(cred, err)
		return AccessToken{}, err
	}

	tok := AccessToken{Value: grant.AccessToken, ExpiresAt: c.nowFunc().Add(lifetime)}
	c.mu.Lock()
	c.tokens[key] = tok
	c.mu.Unlock()

	c.metrics.TokenExchange("ok")
	c.logger.Debug().Str("credential", key).Time("expires_at", tok.ExpiresAt).Msg("token refreshed")
	return tok, nil
}

func (c *Cache) recordFailure(cred Credential, err error) {
	result := "auth_error"
	if errors.IsTimeout(err) {
		result = "timeout"
	}
	c.metrics.TokenExchange(result)
	c.logger.Warn().Err(err).Str("credential", cred.Key()).Msg("token exchange failed")
}
