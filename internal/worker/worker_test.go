package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/vault-service/internal/config"
	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/events"
	"github.com/spec-kit/vault-service/internal/repository/memory"
	"github.com/spec-kit/vault-service/internal/service"
)

type failingPurger struct{}

func (failingPurger) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestTokenJanitorSweep(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPersistentTokenRepository()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &domain.PersistentToken{Selector: "old", ValidatorHash: "h", UserID: 1, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(ctx, &domain.PersistentToken{Selector: "edge", ValidatorHash: "h", UserID: 1, ExpiresAt: now}))
	require.NoError(t, repo.Create(ctx, &domain.PersistentToken{Selector: "live", ValidatorHash: "h", UserID: 1, ExpiresAt: now.Add(time.Hour)}))

	janitor := NewTokenJanitor(repo, time.Minute, zap.NewNop())
	janitor.now = func() time.Time { return now }

	assert.Equal(t, int64(2), janitor.Sweep(ctx))
	assert.Equal(t, 1, repo.Len())
	_, err := repo.GetBySelector(ctx, "live")
	assert.NoError(t, err)
}

func TestTokenJanitorLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	janitor := NewTokenJanitor(failingPurger{}, 0, zap.New(core))

	assert.Equal(t, time.Hour, janitor.interval)
	assert.Zero(t, janitor.Sweep(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("purge expired remember-me tokens").Len())
}

func TestTokenJanitorRunStopsOnCancel(t *testing.T) {
	repo := memory.NewPersistentTokenRepository()
	janitor := NewTokenJanitor(repo, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		janitor.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestStartAuditWorker(t *testing.T) {
	StartAuditWorker(nil)

	core, logs := observer.New(zap.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher()
	StartAuditWorker(service.NewAuditService(dispatcher, zap.New(core), config.NotificationConfig{}))

	require.NoError(t, dispatcher.Publish(context.Background(), events.New(events.EventLoginFailed, 0, events.LoginPayload{Email: "a@b.c"})))
	entries := logs.FilterMessage(string(events.EventLoginFailed)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}
