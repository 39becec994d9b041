package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/medfuse/broker-api/internal/models"
)

type CreateNotificationParams struct {
	QueryID  string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	metadata := []byte("{}")
	if params.Metadata != nil {
		encoded, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, err
		}
		metadata = encoded
	}

	notif := models.Notification{
		QueryID:   params.QueryID,
		EventType: params.Event,
		Severity:  params.Severity,
		Title:     params.Title,
		Message:   params.Message,
		Metadata:  metadata,
	}
	query := `
		INSERT INTO broker.notifications (query_id, event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		notif.QueryID,
		notif.EventType,
		notif.Severity,
		notif.Title,
		notif.Message,
		notif.Metadata,
	).Scan(&notif.ID, &notif.CreatedAt)
	return notif, err
}

func (r *notificationRepository) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, query_id, event_type, severity, title, message, metadata, created_at, read_at
		FROM broker.notifications
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var (
			notif  models.Notification
			readAt sql.NullTime
		)
		if err := rows.Scan(
			&notif.ID,
			&notif.QueryID,
			&notif.EventType,
			&notif.Severity,
			&notif.Title,
			&notif.Message,
			&notif.Metadata,
			&notif.CreatedAt,
			&readAt,
		); err != nil {
			return nil, err
		}
		if readAt.Valid {
			notif.ReadAt = &readAt.Time
		}
		notifications = append(notifications, notif)
	}
	return notifications, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	query := `
		UPDATE broker.notifications
		SET read_at = COALESCE(read_at, now())
		WHERE id = $1
		RETURNING id, query_id, event_type, severity, title, message, metadata, created_at, read_at
	`
	var (
		notif  models.Notification
		readAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, notificationID).Scan(
		&notif.ID,
		&notif.QueryID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&notif.Metadata,
		&notif.CreatedAt,
		&readAt,
	)
	if err == sql.ErrNoRows {
		return notif, ErrNotFound
	}
	if readAt.Valid {
		notif.ReadAt = &readAt.Time
	}
	return notif, err
}
