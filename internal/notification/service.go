package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/rs/zerolog"
)

type Event struct {
	QueryID  string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyQueryDone(ctx context.Context, queryID, sourceName string, elapsedMillis int64) error
	NotifyQueryFailed(ctx context.Context, queryID, sourceName, reason string) error
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo   repository.NotificationRepository
	logger zerolog.Logger
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}
	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		QueryID:  evt.QueryID,
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	return notif, nil
}

func (s *service) NotifyQueryDone(ctx context.Context, queryID, sourceName string, elapsedMillis int64) error {
	name := fallbackName(sourceName, queryID)
	_, err := s.Publish(ctx, Event{
		QueryID:  queryID,
		Event:    models.NotificationEventQueryDone,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Query done: %s", name),
		Message:  fmt.Sprintf("Query %s against %s completed in %dms.", queryID, name, elapsedMillis),
		Metadata: map[string]interface{}{
			"query_id":   queryID,
			"source":     name,
			"elapsed_ms": elapsedMillis,
		},
	})
	return err
}

func (s *service) NotifyQueryFailed(ctx context.Context, queryID, sourceName, reason string) error {
	name := fallbackName(sourceName, queryID)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	_, err := s.Publish(ctx, Event{
		QueryID:  queryID,
		Event:    models.NotificationEventQueryFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Query failed: %s", name),
		Message:  fmt.Sprintf("Query %s against %s failed: %s", queryID, name, reason),
		Metadata: map[string]interface{}{
			"query_id": queryID,
			"source":   name,
			"reason":   reason,
		},
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func fallbackName(name, fallback string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallback
}
