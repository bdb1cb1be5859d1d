package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/config"
	"github.com/spec-kit/vault-service/internal/events"
)

// AuditService records security relevant events and sends the notification stubs.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, t := range []events.EventType{
		events.EventUserRegistered,
		events.EventLoginSucceeded,
		events.EventRememberMeIssued,
		events.EventRememberMeRotated,
		events.EventRememberMeRevoked,
		events.EventVaultItemCreated,
		events.EventVaultItemUpdated,
		events.EventVaultItemDeleted,
	} {
		a.dispatcher.Subscribe(t, a.handleAudit)
	}
	a.dispatcher.Subscribe(events.EventLoginFailed, a.handleSuspicious)
	a.dispatcher.Subscribe(events.EventRememberMeRejected, a.handleSuspicious)
	a.dispatcher.Subscribe(events.EventPasswordChanged, a.handleCredentialChange)
	a.dispatcher.Subscribe(events.EventPasswordResetCompleted, a.handleCredentialChange)
	a.dispatcher.Subscribe(events.EventLoggedOutEverywhere, a.handleCredentialChange)
	a.dispatcher.Subscribe(events.EventPasswordResetRequested, a.handlePasswordResetRequested)
}

func (a *AuditService) handleAudit(_ context.Context, event events.Event) error {
	a.logger.Info(string(event.Type), fields(event)...)
	return nil
}

func (a *AuditService) handleSuspicious(_ context.Context, event events.Event) error {
	a.logger.Warn(string(event.Type), fields(event)...)
	return nil
}

func (a *AuditService) handleCredentialChange(ctx context.Context, event events.Event) error {
	a.logger.Info(string(event.Type), fields(event)...)
	a.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (a *AuditService) handlePasswordResetRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PasswordResetRequestedPayload)
	if !ok {
		return nil
	}
	a.logger.Info(string(event.Type), zap.String("event_id", event.ID), zap.Int64("user_id", event.UserID))
	a.sendEmailNotificationStub(ctx, payload.Email, event)
	return nil
}

func (a *AuditService) sendEmailNotificationStub(_ context.Context, to string, event events.Event) {
	if strings.TrimSpace(a.cfg.EmailFrom) == "" {
		return
	}
	a.logger.Debug("sendEmailNotificationStub",
		zap.String("from", a.cfg.EmailFrom),
		zap.String("to", to),
		zap.String("event_type", string(event.Type)))
}

func (a *AuditService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(a.cfg.WebhookURL) == "" {
		return
	}
	a.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", a.cfg.WebhookURL),
		zap.Int64("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}

func fields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", event.ID),
		zap.Int64("user_id", event.UserID),
		zap.Time("at", event.Timestamp),
		zap.Any("payload", event.Payload),
	}
}
