package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/config"
	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/events"
	"github.com/spec-kit/vault-service/internal/repository/memory"
	"github.com/spec-kit/vault-service/internal/session"
	"github.com/spec-kit/vault-service/internal/vaultcrypto"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

type testEnv struct {
	auth       *AuthService
	vault      *VaultService
	users      *memory.UserRepository
	tokens     *memory.PersistentTokenRepository
	remember   *auth.RememberMeManager
	sessions   *session.MemoryStore
	dispatcher events.Dispatcher

	mu     sync.Mutex
	events []events.Event
}

func (e *testEnv) capture(t events.EventType) {
	e.dispatcher.Subscribe(t, func(_ context.Context, ev events.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.events = append(e.events, ev)
		return nil
	})
}

func (e *testEnv) captured(t events.EventType) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{Auth: config.AuthConfig{
		JWTSecret:               "secret",
		AccessTokenTTLMinutes:   5,
		PasswordResetTTLMinutes: 30,
		BcryptCost:              4,
	}}

	users := memory.NewUserRepository()
	tokens := memory.NewPersistentTokenRepository()
	sessions := session.NewMemoryStore()
	dispatcher := events.NewInMemoryDispatcher()
	remember := auth.NewRememberMeManager(tokens, 0, zap.NewNop())
	keyring, err := vaultcrypto.NewKeyring([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	env := &testEnv{
		users:      users,
		tokens:     tokens,
		remember:   remember,
		sessions:   sessions,
		dispatcher: dispatcher,
	}
	env.auth = NewAuthService(cfg, AuthDependencies{
		UserRepo:          users,
		PasswordResetRepo: memory.NewPasswordResetRepository(),
		Remember:          remember,
		Sessions:          sessions,
		Throttle:          auth.NewMemoryLoginThrottle(3, time.Minute),
		Dispatcher:        dispatcher,
	})
	env.vault = NewVaultService(VaultDependencies{
		ItemRepo:   memory.NewVaultItemRepository(),
		UserRepo:   users,
		Keyring:    keyring,
		Dispatcher: dispatcher,
	})
	return env
}

func statusOf(err error) int {
	return apperrors.ToDomainError(err).HTTPStatus
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.auth.Register(ctx, "Ada", " Ada@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Len(t, res.User.KeySalt, vaultcrypto.SaltSize)
	assert.NotEmpty(t, res.Token)

	_, err = env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	login, err := env.auth.Login(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)

	_, err = env.auth.Login(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.auth.Login(ctx, "nobody@example.com", "whatever1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.auth.Register(context.Background(), "", "not-an-email", "short")
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, http.StatusBadRequest, de.HTTPStatus)
	assert.Contains(t, de.Details, "name")
	assert.Contains(t, de.Details, "email")
	assert.Contains(t, de.Details, "password")
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := env.auth.Login(ctx, "ada@example.com", "nope-nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = env.auth.Login(ctx, "ada@example.com", "correct horse")
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, http.StatusTooManyRequests, de.HTTPStatus)
	assert.NotEmpty(t, de.Details["retry_after_seconds"])
}

func TestChangePasswordRevokesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)
	userID := res.User.ID

	cred, err := env.remember.Issue(ctx, userID, 0)
	require.NoError(t, err)
	sid, err := env.sessions.Create(ctx, res.User.Identity(), time.Hour)
	require.NoError(t, err)

	err = env.auth.ChangePassword(ctx, userID, "wrong", "new password!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, env.tokens.Len())

	require.NoError(t, env.auth.ChangePassword(ctx, userID, "correct horse", "new password!"))
	assert.Equal(t, 0, env.tokens.Len())
	_, err = env.sessions.Get(ctx, sid)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = env.remember.Validate(ctx, cred.Value())
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	_, err = env.auth.Login(ctx, "ada@example.com", "new password!")
	assert.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.capture(events.EventPasswordResetRequested)
	ctx := context.Background()

	res, err := env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, err = env.remember.Issue(ctx, res.User.ID, 0)
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "unknown@example.com"))
	assert.Empty(t, env.captured(events.EventPasswordResetRequested))

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "ada@example.com"))
	requested := env.captured(events.EventPasswordResetRequested)
	require.Len(t, requested, 1)
	token := requested[0].Payload.(events.PasswordResetRequestedPayload).Token
	require.NotEmpty(t, token)

	err = env.auth.ConfirmPasswordReset(ctx, "bogus", "brand new pass")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)

	require.NoError(t, env.auth.ConfirmPasswordReset(ctx, token, "brand new pass"))
	assert.Equal(t, 0, env.tokens.Len())

	err = env.auth.ConfirmPasswordReset(ctx, token, "another pass!")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)

	_, err = env.auth.Login(ctx, "ada@example.com", "brand new pass")
	assert.NoError(t, err)
}

// racingResets makes every GetByTokenHash wait until `parties` callers have
// read the row, so concurrent confirms all see it unused.
type racingResets struct {
	*memory.PasswordResetRepository
	mu      sync.Mutex
	parties int
	arrived int
	release chan struct{}
}

func (r *racingResets) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error) {
	reset, err := r.PasswordResetRepository.GetByTokenHash(ctx, tokenHash)
	r.mu.Lock()
	r.arrived++
	if r.arrived == r.parties {
		close(r.release)
	}
	r.mu.Unlock()
	<-r.release
	return reset, err
}

func TestPasswordResetTokenRedeemedOnceUnderRace(t *testing.T) {
	env := newTestEnv(t)
	env.capture(events.EventPasswordResetRequested)
	resets := &racingResets{
		PasswordResetRepository: memory.NewPasswordResetRepository(),
		parties:                 2,
		release:                 make(chan struct{}),
	}
	env.auth.resets = resets
	ctx := context.Background()

	_, err := env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)
	require.NoError(t, env.auth.RequestPasswordReset(ctx, "ada@example.com"))
	token := env.captured(events.EventPasswordResetRequested)[0].Payload.(events.PasswordResetRequestedPayload).Token

	passwords := []string{"first new pass", "second new pass"}
	errs := make([]error, len(passwords))
	var wg sync.WaitGroup
	for i, pw := range passwords {
		wg.Add(1)
		go func(i int, pw string) {
			defer wg.Done()
			errs[i] = env.auth.ConfirmPasswordReset(ctx, token, pw)
		}(i, pw)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "token redeemed twice")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, ErrResetTokenInvalid)
	}
	require.NotEqual(t, -1, winner)

	_, err = env.auth.Login(ctx, "ada@example.com", passwords[winner])
	assert.NoError(t, err)
	_, err = env.auth.Login(ctx, "ada@example.com", passwords[1-winner])
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordResetExpires(t *testing.T) {
	env := newTestEnv(t)
	env.capture(events.EventPasswordResetRequested)
	ctx := context.Background()
	_, err := env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "ada@example.com"))
	token := env.captured(events.EventPasswordResetRequested)[0].Payload.(events.PasswordResetRequestedPayload).Token

	env.auth.now = func() time.Time { return time.Now().Add(time.Hour) }
	err = env.auth.ConfirmPasswordReset(ctx, token, "brand new pass")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestLoginWithSSOCreatesThenReuses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.auth.LoginWithSSO(ctx, auth.SSOIdentity{Subject: "s1", Email: "Grace@Example.com", Name: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", first.User.Email)
	assert.NotEmpty(t, first.User.KeySalt)

	second, err := env.auth.LoginWithSSO(ctx, auth.SSOIdentity{Subject: "s1", Email: "grace@example.com"})
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestLogoutEverywhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.auth.Register(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := env.remember.Issue(ctx, res.User.ID, 0)
		require.NoError(t, err)
	}
	n, err := env.auth.LogoutEverywhere(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, env.tokens.Len())
}

func registerUser(t *testing.T, env *testEnv, email string) int64 {
	t.Helper()
	res, err := env.auth.Register(context.Background(), "User", email, "correct horse")
	require.NoError(t, err)
	return res.User.ID
}

func TestVaultCRUD(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := registerUser(t, env, "owner@example.com")

	created, err := env.vault.Create(ctx, owner, domain.VaultSecret{
		Kind:     domain.ItemKindPassword,
		Password: &domain.PasswordEntry{Name: "Mail", Username: "ada", Password: "hunter2"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemKindPassword, created.Kind)

	got, err := env.vault.Get(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Secret.Password.Password)

	updated, err := env.vault.Update(ctx, owner, created.ID, domain.VaultSecret{
		Password: &domain.PasswordEntry{Name: "Mail", Username: "ada", Password: "correct horse"},
	})
	require.NoError(t, err)
	assert.Equal(t, "correct horse", updated.Secret.Password.Password)

	_, err = env.vault.Update(ctx, owner, created.ID, domain.VaultSecret{
		Kind: domain.ItemKindNote,
		Note: &domain.NoteEntry{Title: "x"},
	})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	_, err = env.vault.Create(ctx, owner, domain.VaultSecret{
		Kind: domain.ItemKindCard,
		Card: &domain.CardEntry{Holder: "Ada", Number: "4111 1111 1111 1111", Expiry: "12/29", CVV: "123"},
	})
	require.NoError(t, err)

	card := domain.ItemKindCard
	cards, err := env.vault.List(ctx, owner, &card)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "•••• 1111", cards[0].Secret.Hint())

	summary, err := env.vault.Summary(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByKind[domain.ItemKindCard])
	assert.Equal(t, 0, summary.ByKind[domain.ItemKindNote])

	require.NoError(t, env.vault.Delete(ctx, owner, created.ID))
	_, err = env.vault.Get(ctx, owner, created.ID)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestVaultIsolationBetweenUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := registerUser(t, env, "owner@example.com")
	other := registerUser(t, env, "other@example.com")

	created, err := env.vault.Create(ctx, owner, domain.VaultSecret{
		Kind: domain.ItemKindNote,
		Note: &domain.NoteEntry{Title: "Diary", Body: "secret"},
	})
	require.NoError(t, err)

	_, err = env.vault.Get(ctx, other, created.ID)
	assert.Equal(t, http.StatusNotFound, statusOf(err))
	assert.Equal(t, http.StatusNotFound, statusOf(env.vault.Delete(ctx, other, created.ID)))

	items, err := env.vault.List(ctx, other, nil)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = env.vault.Get(ctx, owner, "not-a-uuid")
	assert.Equal(t, http.StatusNotFound, statusOf(err))
}

func TestVaultCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := registerUser(t, env, "owner@example.com")

	_, err := env.vault.Create(context.Background(), owner, domain.VaultSecret{
		Kind: domain.ItemKindCard,
		Card: &domain.CardEntry{Holder: "Ada", Number: "123", Expiry: "13/29", CVV: "1"},
	})
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, http.StatusBadRequest, de.HTTPStatus)
	assert.Contains(t, de.Details, "card.number")
	assert.Contains(t, de.Details, "card.expiry")
	assert.Contains(t, de.Details, "card.cvv")
}

func TestVaultDecryptFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := registerUser(t, env, "owner@example.com")

	created, err := env.vault.Create(ctx, owner, domain.VaultSecret{
		Kind: domain.ItemKindNote,
		Note: &domain.NoteEntry{Title: "t"},
	})
	require.NoError(t, err)

	other, err := vaultcrypto.NewKeyring([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	env.vault.keyring = other

	_, err = env.vault.Get(ctx, owner, created.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vaultcrypto.ErrDecrypt))
	assert.Equal(t, http.StatusInternalServerError, statusOf(err))
}

func TestVaultRecentOpensOnlyNewestItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := registerUser(t, env, "owner@example.com")
	note := domain.VaultSecret{Kind: domain.ItemKindNote, Note: &domain.NoteEntry{Title: "note"}}

	// The oldest item is unreadable; Recent must never have to open it.
	broken, err := env.vault.Create(ctx, owner, note)
	require.NoError(t, err)
	stored, err := env.vault.items.GetByID(ctx, owner, broken.ID)
	require.NoError(t, err)
	stored.Ciphertext = []byte("garbage")
	require.NoError(t, env.vault.items.Update(ctx, stored))

	for i := 0; i < 6; i++ {
		time.Sleep(time.Millisecond)
		_, err := env.vault.Create(ctx, owner, note)
		require.NoError(t, err)
	}

	recent, err := env.vault.Recent(ctx, owner, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for _, entry := range recent {
		assert.NotEqual(t, broken.ID, entry.ID)
		assert.Equal(t, "note", entry.Secret.Note.Title)
	}

	_, err = env.vault.List(ctx, owner, nil)
	assert.Equal(t, http.StatusInternalServerError, statusOf(err))
}

func TestAuditServiceHandlesEvents(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	audit := NewAuditService(dispatcher, zap.NewNop(), config.NotificationConfig{EmailFrom: "noreply@example.com", WebhookURL: "http://hook"})
	audit.RegisterHandlers()

	ctx := context.Background()
	assert.NoError(t, dispatcher.Publish(ctx, events.New(events.EventLoginFailed, 0, events.LoginPayload{Email: "a@b.c"})))
	assert.NoError(t, dispatcher.Publish(ctx, events.New(events.EventPasswordResetRequested, 1, events.PasswordResetRequestedPayload{Email: "a@b.c", Token: "t"})))
	assert.NoError(t, dispatcher.Publish(ctx, events.New(events.EventLoggedOutEverywhere, 1, nil)))
}
