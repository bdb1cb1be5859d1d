package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestManager(t *testing.T) (*RememberMeManager, *memory.PersistentTokenRepository, *fakeClock) {
	t.Helper()
	repo := memory.NewPersistentTokenRepository()
	clock := newFakeClock()
	m := NewRememberMeManager(repo, DefaultRememberLifetime, zap.NewNop())
	m.now = clock.Now
	return m, repo, clock
}

func TestIssueThenValidate(t *testing.T) {
	ctx := context.Background()
	m, repo, clock := newTestManager(t)

	cred, err := m.Issue(ctx, 42, DefaultRememberLifetime)
	require.NoError(t, err)
	assert.Len(t, cred.Selector, 2*selectorBytes)
	assert.Len(t, cred.Validator, 2*validatorBytes)
	assert.Equal(t, clock.Now().Add(5*24*time.Hour), cred.ExpiresAt)

	stored, err := repo.GetBySelector(ctx, cred.Selector)
	require.NoError(t, err)
	assert.NotEqual(t, cred.Validator, stored.ValidatorHash)
	assert.Equal(t, hashValidator(cred.Validator), stored.ValidatorHash)

	v, err := m.Validate(ctx, cred.Value())
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.UserID)
	assert.NotEqual(t, cred.Selector, v.Rotated.Selector)
	assert.Equal(t, int64(42), v.Rotated.UserID)
}

func TestValidateRotationScenario(t *testing.T) {
	ctx := context.Background()
	m, repo, clock := newTestManager(t)

	cred, err := m.Issue(ctx, 42, DefaultRememberLifetime)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	v, err := m.Validate(ctx, cred.Value())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultRememberLifetime), v.Rotated.ExpiresAt)

	_, err = m.Validate(ctx, cred.Value())
	assert.ErrorIs(t, err, ErrInvalidCredential)

	v2, err := m.Validate(ctx, v.Rotated.Value())
	require.NoError(t, err)
	assert.Equal(t, int64(42), v2.UserID)
	assert.Equal(t, 1, repo.Len())
}

func TestValidateAfterExpiry(t *testing.T) {
	ctx := context.Background()
	m, repo, clock := newTestManager(t)

	cred, err := m.Issue(ctx, 7, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = m.Validate(ctx, cred.Value())
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, 0, repo.Len(), "expired token is cleaned up")
}

func TestValidateRejectsMutatedValidator(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestManager(t)

	cred, err := m.Issue(ctx, 7, 0)
	require.NoError(t, err)

	for _, pos := range []int{0, 17, len(cred.Validator) - 1} {
		mutated := []byte(cred.Validator)
		if mutated[pos] == 'a' {
			mutated[pos] = 'b'
		} else {
			mutated[pos] = 'a'
		}
		_, err := m.Validate(ctx, cred.Selector+":"+string(mutated))
		assert.ErrorIs(t, err, ErrInvalidCredential, "position %d", pos)
	}
	assert.Equal(t, 1, repo.Len(), "mismatch leaves the stored token alone")

	_, err = m.Validate(ctx, cred.Value())
	assert.NoError(t, err)
}

func TestValidateMalformedInput(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	cases := []string{
		"",
		"onlyoneportion",
		":validator",
		"selector:",
		":",
		strings.Repeat("a", maxCredentialLength+1),
	}
	for _, value := range cases {
		_, err := m.Validate(ctx, value)
		assert.ErrorIs(t, err, ErrInvalidCredential, "value %q", value)
	}

	_, err := m.Validate(ctx, "0123456789abcdef01234567:deadbeef")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSequentialRotationsLeaveOneRow(t *testing.T) {
	ctx := context.Background()
	m, repo, clock := newTestManager(t)

	cred, err := m.Issue(ctx, 9, 0)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		clock.Advance(time.Minute)
		v, err := m.Validate(ctx, cred.Value())
		require.NoError(t, err)
		cred = v.Rotated
		assert.Equal(t, 1, repo.Len())
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestManager(t)

	cred, err := m.Issue(ctx, 1, 0)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, "never-issued"))
	assert.Equal(t, 1, repo.Len())

	require.NoError(t, m.Revoke(ctx, cred.Selector))
	require.NoError(t, m.Revoke(ctx, cred.Selector))
	assert.Equal(t, 0, repo.Len())

	_, err = m.Validate(ctx, cred.Value())
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestRevokeUser(t *testing.T) {
	ctx := context.Background()
	m, repo, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.Issue(ctx, 1, 0)
		require.NoError(t, err)
	}
	_, err := m.Issue(ctx, 2, 0)
	require.NoError(t, err)

	n, err := m.RevokeUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, repo.Len())
}

type failingTokens struct {
	*memory.PersistentTokenRepository
	err error
}

func (f failingTokens) GetBySelector(context.Context, string) (*domain.PersistentToken, error) {
	return nil, f.err
}

func TestValidateStorageErrorIsNotInvalid(t *testing.T) {
	down := errors.New("connection refused")
	m := NewRememberMeManager(failingTokens{memory.NewPersistentTokenRepository(), down}, 0, nil)

	_, err := m.Validate(context.Background(), "0123456789abcdef01234567:"+strings.Repeat("a", 64))
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}

// barrierTokens holds every GetBySelector until `parties` callers have arrived
// so that concurrent validations observe the same stored token.
type barrierTokens struct {
	*memory.PersistentTokenRepository
	mu      sync.Mutex
	parties int
	arrived int
	release chan struct{}
}

func (b *barrierTokens) GetBySelector(ctx context.Context, selector string) (*domain.PersistentToken, error) {
	token, err := b.PersistentTokenRepository.GetBySelector(ctx, selector)
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.parties {
		close(b.release)
	}
	b.mu.Unlock()
	<-b.release
	return token, err
}

func TestConcurrentValidationBothSucceed(t *testing.T) {
	ctx := context.Background()
	store := &barrierTokens{
		PersistentTokenRepository: memory.NewPersistentTokenRepository(),
		parties:                   2,
		release:                   make(chan struct{}),
	}
	m := NewRememberMeManager(store, 0, zap.NewNop())

	cred, err := m.Issue(ctx, 42, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Validation, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Validate(ctx, cred.Value())
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(42), results[i].UserID)
	}
	live := store.Len()
	assert.GreaterOrEqual(t, live, 1)
	assert.LessOrEqual(t, live, 2)

	_, err = store.PersistentTokenRepository.GetBySelector(ctx, cred.Selector)
	assert.Error(t, err, "original selector is gone")
}

func TestParseCredential(t *testing.T) {
	sel, val, ok := ParseCredential("abc:def:ghi")
	require.True(t, ok)
	assert.Equal(t, "abc", sel)
	assert.Equal(t, "def:ghi", val)
}
