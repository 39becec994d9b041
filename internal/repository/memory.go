package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medfuse/broker-api/internal/models"
)

// In-memory implementations of the stores, used by tests and by local runs
// without a database. Documents are deep-copied on the way in and out so
// callers never share mutable state with the store.

type MemoryQueryRepository struct {
	mu   sync.RWMutex
	docs map[string]models.QueryDocument
}

func NewMemoryQueryRepository() *MemoryQueryRepository {
	return &MemoryQueryRepository{docs: make(map[string]models.QueryDocument)}
}

func cloneDoc(doc models.QueryDocument) models.QueryDocument {
	raw, _ := json.Marshal(doc)
	var out models.QueryDocument
	_ = json.Unmarshal(raw, &out)
	return out
}

func (r *MemoryQueryRepository) Create(ctx context.Context, doc *models.QueryDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.ID = uuid.NewString()
	if doc.Status.Status == "" {
		doc.Status.Status = models.StatusUnknown
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	r.docs[doc.ID] = cloneDoc(*doc)
	return nil
}

func (r *MemoryQueryRepository) Get(ctx context.Context, id string) (models.QueryDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.QueryDocument{}, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (r *MemoryQueryRepository) List(ctx context.Context) ([]models.QueryDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]models.QueryDocument, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, cloneDoc(doc))
	}
	return docs, nil
}

func (r *MemoryQueryRepository) Update(ctx context.Context, doc *models.QueryDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return ErrNotFound
	}
	doc.UpdatedAt = time.Now().UTC()
	r.docs[doc.ID] = cloneDoc(*doc)
	return nil
}

func (r *MemoryQueryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

type memoryBlob struct {
	queryID string
	data    []byte
}

type MemoryBlobRepository struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

func NewMemoryBlobRepository() *MemoryBlobRepository {
	return &MemoryBlobRepository{blobs: make(map[string]memoryBlob)}
}

func (r *MemoryBlobRepository) Put(ctx context.Context, queryID string, data []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.blobs[id] = memoryBlob{queryID: queryID, data: append([]byte(nil), data...)}
	return id, nil
}

func (r *MemoryBlobRepository) Get(ctx context.Context, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blob, ok := r.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob.data...), nil
}

func (r *MemoryBlobRepository) Update(ctx context.Context, id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[id]
	if !ok {
		return ErrNotFound
	}
	blob.data = append([]byte(nil), data...)
	r.blobs[id] = blob
	return nil
}

func (r *MemoryBlobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.blobs, id)
	return nil
}

func (r *MemoryBlobRepository) DeleteByQuery(ctx context.Context, queryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, blob := range r.blobs {
		if blob.queryID == queryID {
			delete(r.blobs, id)
		}
	}
	return nil
}

// Len reports the number of stored blobs.
func (r *MemoryBlobRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

type MemoryNotificationRepository struct {
	mu            sync.RWMutex
	notifications []models.Notification
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{}
}

func (r *MemoryNotificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	metadata := []byte("{}")
	if params.Metadata != nil {
		encoded, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, err
		}
		metadata = encoded
	}
	notif := models.Notification{
		ID:        uuid.NewString(),
		QueryID:   params.QueryID,
		EventType: params.Event,
		Severity:  params.Severity,
		Title:     params.Title,
		Message:   params.Message,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	r.notifications = append(r.notifications, notif)
	return notif, nil
}

func (r *MemoryNotificationRepository) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Notification, 0, limit)
	for i := len(r.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.notifications[i])
	}
	return out, nil
}

func (r *MemoryNotificationRepository) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		if r.notifications[i].ID == notificationID {
			if r.notifications[i].ReadAt == nil {
				now := time.Now().UTC()
				r.notifications[i].ReadAt = &now
			}
			return r.notifications[i], nil
		}
	}
	return models.Notification{}, ErrNotFound
}
