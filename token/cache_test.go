package token_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/stretchr/testify/require"
)

const testMargin = 60 * time.Second

var testCredential = token.Credential{
	ID:           "rmm",
	ClientID:     "client-1",
	ClientSecret: "secret-1",
	TokenURL:     "https://rmm.example.com/ws/oauth/token",
	Scopes:       []string{"monitoring"},
}

// fakeClock is a manually advanced clock shared by the cache under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeExchanger counts exchanges and returns numbered tokens.
type fakeExchanger struct {
	calls    atomic.Int32
	lifetime time.Duration
	delay    time.Duration
	failNext atomic.Int32
}

func (f *fakeExchanger) Exchange(ctx context.Context, cred token.Credential) (*token.Grant, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		return nil, &errors.AuthError{Status: 401, Body: `{"error":"invalid_client"}`}
	}
	return &token.Grant{AccessToken: fmt.Sprintf("token-%d", n), ExpiresIn: f.lifetime}, nil
}

func newTestCache(ex token.Exchanger, clock *fakeClock) *token.Cache {
	return token.NewCache(
		token.WithExchanger(ex),
		token.WithMargin(testMargin),
		token.WithNowFunc(clock.Now),
	)
}

func TestCache_ReusesFreshToken(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour}
	c := newTestCache(ex, clock)
	ctx := context.Background()

	first, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)
	require.Equal(t, "token-1", first.Value)
	require.Equal(t, clock.Now().Add(time.Hour), first.ExpiresAt)

	clock.Advance(30 * time.Minute)
	second, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), ex.calls.Load())
}

func TestCache_RefreshesInsideMargin(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour}
	c := newTestCache(ex, clock)
	ctx := context.Background()

	_, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)

	t.Run("just outside margin is still fresh", func(t *testing.T) {
		clock.Advance(time.Hour - testMargin - time.Second)
		tok, err := c.GetToken(ctx, testCredential)
		require.NoError(t, err)
		require.Equal(t, "token-1", tok.Value)
	})

	t.Run("exactly at margin refreshes", func(t *testing.T) {
		clock.Advance(time.Second)
		tok, err := c.GetToken(ctx, testCredential)
		require.NoError(t, err)
		require.Equal(t, "token-2", tok.Value)
		require.Equal(t, int32(2), ex.calls.Load())
	})
}

func TestCache_SingleFlightRefresh(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour, delay: 50 * time.Millisecond}
	c := newTestCache(ex, clock)

	const callers = 25
	var wg sync.WaitGroup
	start := make(chan struct{})
	values := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tok, err := c.GetToken(context.Background(), testCredential)
			values[i], errs[i] = tok.Value, err
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), ex.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "token-1", values[i])
	}
}

func TestCache_SeparateCredentialsExchangeSeparately(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour}
	c := newTestCache(ex, clock)
	ctx := context.Background()

	other := testCredential
	other.ID = "identity:tenant-b"

	_, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)
	_, err = c.GetToken(ctx, other)
	require.NoError(t, err)
	require.Equal(t, int32(2), ex.calls.Load())
}

func TestCache_FailureIsNotCached(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour}
	ex.failNext.Store(1)
	c := newTestCache(ex, clock)
	ctx := context.Background()

	_, err := c.GetToken(ctx, testCredential)
	require.Error(t, err)
	var authErr *errors.AuthError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, 401, authErr.Status)
	require.Contains(t, authErr.Body, "invalid_client")

	tok, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)
	require.Equal(t, "token-2", tok.Value)
}

func TestCache_ExpiredTokenNeverReturnedAfterFailure(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour}
	c := newTestCache(ex, clock)
	ctx := context.Background()

	_, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	ex.failNext.Store(1)
	tok, err := c.GetToken(ctx, testCredential)
	require.Error(t, err)
	require.Empty(t, tok.Value)
}

func TestCache_RejectsLifetimeShorterThanMargin(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: 30 * time.Second}
	c := newTestCache(ex, clock)

	_, err := c.GetToken(context.Background(), testCredential)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrTokenLifetimeTooShort))
	require.True(t, errors.IsAuth(err))
}

func TestCache_InvalidCredential(t *testing.T) {
	c := newTestCache(&fakeExchanger{lifetime: time.Hour}, newFakeClock())

	_, err := c.GetToken(context.Background(), token.Credential{ClientID: "x"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrMissingCredential))
}

func TestCache_Invalidate(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour}
	c := newTestCache(ex, clock)
	ctx := context.Background()

	_, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)
	c.Invalidate(testCredential)

	tok, err := c.GetToken(ctx, testCredential)
	require.NoError(t, err)
	require.Equal(t, "token-2", tok.Value)
}

func TestCache_WaiterHonoursOwnContext(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: time.Hour, delay: 200 * time.Millisecond}
	c := newTestCache(ex, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.GetToken(ctx, testCredential)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The detached exchange still completes and is stored.
	require.Eventually(t, func() bool {
		tok, err := c.GetToken(context.Background(), testCredential)
		return err == nil && tok.Value == "token-1"
	}, time.Second, 20*time.Millisecond)
	require.Equal(t, int32(1), ex.calls.Load())
}

func TestCache_NeverHandsOutTokenInsideMargin(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchanger{lifetime: 10 * time.Minute}
	c := newTestCache(ex, clock)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		clock.Advance(time.Duration(rng.Intn(240)) * time.Second)
		tok, err := c.GetToken(ctx, testCredential)
		require.NoError(t, err)
		require.GreaterOrEqual(t, tok.ExpiresAt.Sub(clock.Now()), testMargin, "iteration %d", i)
	}
}
