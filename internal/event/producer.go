package event

import (
	"context"
	"log/slog"
	"time"

	pkgkafka "github.com/memora-app/memora/pkg/kafka"

	"github.com/memora-app/memora/internal/domain"
)

// Kafka topics for account lifecycle events.
var (
	TopicUserRegistered         = pkgkafka.Topic("user", "registered")
	TopicUserDeleted            = pkgkafka.Topic("user", "deleted")
	TopicVerificationRequested  = pkgkafka.Topic("auth", "verification_requested")
	TopicPasswordResetRequested = pkgkafka.Topic("auth", "password_reset_requested")
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// Source identifier for events originating from the auth service.
const SourceAuthService = "memora-auth"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// UserDeletedData is the payload for a user.deleted event.
type UserDeletedData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// MailTokenData is the payload for events that instruct the notification
// service to send a tokenized link. The secret is the plaintext token; it is
// never persisted on our side, so this event is the only place it travels.
type MailTokenData struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Producer publishes account lifecycle events to Kafka. Publishing is best
// effort: a broker outage must not fail the login or registration that
// triggered the event, so failures are logged and swallowed here.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) {
	data := UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Provider: string(user.Provider()),
	}

	p.publish(ctx, TopicUserRegistered, user.ID, data)
}

// PublishUserDeleted publishes a user.deleted event.
func (p *Producer) PublishUserDeleted(ctx context.Context, userID, email string) {
	data := UserDeletedData{
		UserID: userID,
		Email:  email,
	}

	p.publish(ctx, TopicUserDeleted, userID, data)
}

// PublishVerificationRequested asks the notification service to mail an
// email-verification link.
func (p *Producer) PublishVerificationRequested(ctx context.Context, userID, email, token string, expiresAt time.Time) {
	data := MailTokenData{
		UserID:    userID,
		Email:     email,
		Token:     token,
		ExpiresAt: expiresAt,
	}

	p.publish(ctx, TopicVerificationRequested, userID, data)
}

// PublishPasswordResetRequested asks the notification service to mail a
// password-reset link.
func (p *Producer) PublishPasswordResetRequested(ctx context.Context, userID, email, token string, expiresAt time.Time) {
	data := MailTokenData{
		UserID:    userID,
		Email:     email,
		Token:     token,
		ExpiresAt: expiresAt,
	}

	p.publish(ctx, TopicPasswordResetRequested, userID, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) {
	if p.kafka == nil {
		return
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		p.logger.WarnContext(ctx, "event publish failed, continuing",
			slog.String("topic", topic),
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
	}
}
