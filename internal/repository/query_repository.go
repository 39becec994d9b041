package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/medfuse/broker-api/internal/models"
)

// QueryRepository is the broker's document store.
type QueryRepository interface {
	Create(ctx context.Context, doc *models.QueryDocument) error
	Get(ctx context.Context, id string) (models.QueryDocument, error)
	List(ctx context.Context) ([]models.QueryDocument, error)
	// Update writes the full in-memory document state back to the store.
	Update(ctx context.Context, doc *models.QueryDocument) error
	Delete(ctx context.Context, id string) error
}

type queryRepository struct {
	db *sql.DB
}

func NewQueryRepository(db *sql.DB) QueryRepository {
	return &queryRepository{db: db}
}

const queryColumns = `id, endpoint, credentials, input, status, status_info, started_at, ended_at, output, created_at, updated_at`

func (r *queryRepository) Create(ctx context.Context, doc *models.QueryDocument) error {
	endpoint, credentials, input, output, err := marshalQueryParts(doc)
	if err != nil {
		return err
	}
	if doc.Status.Status == "" {
		doc.Status.Status = models.StatusUnknown
	}
	query := `
		INSERT INTO broker.queries (endpoint, credentials, input, status, status_info, started_at, ended_at, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		endpoint,
		credentials,
		input,
		doc.Status.Status,
		doc.Status.Info,
		doc.Status.Start,
		doc.Status.End,
		output,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *queryRepository) Get(ctx context.Context, id string) (models.QueryDocument, error) {
	query := `
		SELECT ` + queryColumns + `
		FROM broker.queries
		WHERE id = $1
	`
	doc, err := scanQuery(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return doc, ErrNotFound
	}
	return doc, err
}

func (r *queryRepository) List(ctx context.Context) ([]models.QueryDocument, error) {
	query := `
		SELECT ` + queryColumns + `
		FROM broker.queries
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.QueryDocument
	for rows.Next() {
		doc, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *queryRepository) Update(ctx context.Context, doc *models.QueryDocument) error {
	endpoint, credentials, input, output, err := marshalQueryParts(doc)
	if err != nil {
		return err
	}
	query := `
		UPDATE broker.queries
		SET endpoint = $2,
		    credentials = $3,
		    input = $4,
		    status = $5,
		    status_info = $6,
		    started_at = $7,
		    ended_at = $8,
		    output = $9,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		doc.ID,
		endpoint,
		credentials,
		input,
		doc.Status.Status,
		doc.Status.Info,
		doc.Status.Start,
		doc.Status.End,
		output,
	).Scan(&doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (r *queryRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM broker.queries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalQueryParts(doc *models.QueryDocument) (endpoint, credentials, input, output []byte, err error) {
	if endpoint, err = json.Marshal(doc.Endpoint); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal endpoint: %w", err)
	}
	if credentials, err = json.Marshal(doc.Credentials); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal credentials: %w", err)
	}
	if input, err = json.Marshal(doc.Input); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal input: %w", err)
	}
	if output, err = json.Marshal(doc.Output); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal output: %w", err)
	}
	return endpoint, credentials, input, output, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (models.QueryDocument, error) {
	var (
		doc                                  models.QueryDocument
		endpoint, credentials, input, output []byte
		started, ended                       sql.NullTime
	)
	err := row.Scan(
		&doc.ID,
		&endpoint,
		&credentials,
		&input,
		&doc.Status.Status,
		&doc.Status.Info,
		&started,
		&ended,
		&output,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return doc, err
	}
	if started.Valid {
		doc.Status.Start = &started.Time
	}
	if ended.Valid {
		doc.Status.End = &ended.Time
	}
	if err := json.Unmarshal(endpoint, &doc.Endpoint); err != nil {
		return doc, fmt.Errorf("unmarshal endpoint: %w", err)
	}
	if err := json.Unmarshal(credentials, &doc.Credentials); err != nil {
		return doc, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := json.Unmarshal(input, &doc.Input); err != nil {
		return doc, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal(output, &doc.Output); err != nil {
		return doc, fmt.Errorf("unmarshal output: %w", err)
	}
	return doc, nil
}
