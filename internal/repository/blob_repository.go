package repository

import (
	"context"
	"database/sql"
)

// BlobRepository stores raw and standardized output payloads. Each blob
// belongs to one query; deleting the query releases its blobs.
type BlobRepository interface {
	Put(ctx context.Context, queryID string, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Update(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
	DeleteByQuery(ctx context.Context, queryID string) error
}

type blobRepository struct {
	db *sql.DB
}

func NewBlobRepository(db *sql.DB) BlobRepository {
	return &blobRepository{db: db}
}

func (r *blobRepository) Put(ctx context.Context, queryID string, data []byte) (string, error) {
	var id string
	query := `
		INSERT INTO broker.blobs (query_id, data, data_size)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, queryID, data, len(data)).Scan(&id)
	return id, err
}

func (r *blobRepository) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM broker.blobs WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *blobRepository) Update(ctx context.Context, id string, data []byte) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broker.blobs
		SET data = $2, data_size = $3, updated_at = now()
		WHERE id = $1
	`, id, data, len(data))
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

func (r *blobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM broker.blobs WHERE id = $1`, id)
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

func (r *blobRepository) DeleteByQuery(ctx context.Context, queryID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM broker.blobs WHERE query_id = $1`, queryID)
	return err
}
