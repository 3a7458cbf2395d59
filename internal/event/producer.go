package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skillbridge/auth-service/internal/audit"
	"github.com/skillbridge/auth-service/internal/domain"
	pkgkafka "github.com/skillbridge/auth-service/pkg/kafka"
)

// Aggregate type constant.
const AggregateTypeAccount = "account"

// Source identifier for events originating from this service.
const SourceAuthService = "auth-service"

// Producer publishes authentication audit events to Kafka. It implements
// audit.Sink.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new audit event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// Append publishes the audit event to its per-action topic, for example
// skillbridge.auth.login for login attempts.
func (p *Producer) Append(ctx context.Context, e audit.Event) error {
	topic := pkgkafka.Topic("auth", e.Action)

	aggregateID := e.AccountID
	if aggregateID == "" {
		// Unresolved attempts still need a partition key so retries for
		// the same email land in order.
		aggregateID = e.Email
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeAccount, SourceAuthService, e)
	if err != nil {
		return fmt.Errorf("create %s audit event: %w", e.Action, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s audit event: %w", e.Action, err)
	}

	p.logger.DebugContext(ctx, "published audit event",
		slog.String("topic", topic),
		slog.String("action", e.Action),
		slog.String("outcome", string(e.Outcome)),
	)

	return nil
}

// TopicPasswordReset carries reset tokens to the notification service,
// which emails the reset link. Distinct from the audit topics; this is
// the only event that holds a plaintext token.
var TopicPasswordReset = pkgkafka.Topic("auth", "password_reset")

// PasswordResetData is the payload for a password reset delivery event.
type PasswordResetData struct {
	AccountID  string    `json:"account_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PublishPasswordReset hands a freshly issued reset token to the
// notification pipeline.
func (p *Producer) PublishPasswordReset(ctx context.Context, account *domain.Account, resetToken string, expiresAt time.Time) error {
	data := PasswordResetData{
		AccountID:  account.ID,
		Email:      account.Email,
		FullName:   account.FullName,
		ResetToken: resetToken,
		ExpiresAt:  expiresAt,
	}

	event, err := pkgkafka.NewEvent(TopicPasswordReset, account.ID, AggregateTypeAccount, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create password reset event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicPasswordReset, event); err != nil {
		return fmt.Errorf("publish password reset event: %w", err)
	}

	p.logger.DebugContext(ctx, "published password reset event",
		slog.String("topic", TopicPasswordReset),
		slog.String("account_id", account.ID),
	)

	return nil
}
