// Package engine drives query execution: it binds a document to its adapter
// variant, times the attempt, and maps every outcome onto the status state
// machine (unknown -> running -> done|fail).
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/medfuse/broker-api/internal/adapter"
	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/notification"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Result is the single shape every execution attempt resolves to, success or
// failure, so callers need exactly one rendering path.
type Result struct {
	Status string          `json:"status"` // success | fail
	Time   int64           `json:"time"`   // elapsed milliseconds
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultFail    = "fail"
)

type Engine struct {
	docs          repository.QueryRepository
	blobs         repository.BlobRepository
	notifications notification.Service
	logger        zerolog.Logger
	opts          adapter.Options
	timeout       time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	wg    sync.WaitGroup
}

func New(docs repository.QueryRepository, blobs repository.BlobRepository, notifications notification.Service, logger zerolog.Logger, opts adapter.Options, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		docs:          docs,
		blobs:         blobs,
		notifications: notifications,
		logger:        logger.With().Str("component", "engine").Logger(),
		opts:          opts,
		timeout:       timeout,
		locks:         make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing execute attempts for one document.
// Concurrent executes of the same query would otherwise race the
// check-then-act in the adapter's token refresh.
func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// Execute starts one asynchronous execution attempt for doc. The running
// transition is stamped and persisted before returning, so a poll issued
// right after the execute request already observes "running"; the attempt
// body runs in the background and is observed through further polls.
func (e *Engine) Execute(ctx context.Context, doc *models.QueryDocument) error {
	ad, err := adapter.New(doc, e.docs, e.blobs, e.opts)
	if err != nil {
		return err
	}

	start := time.Now().UTC()
	doc.Status.Status = models.StatusRunning
	doc.Status.Start = &start
	doc.Status.End = nil
	doc.Status.Info = ""
	if err := e.docs.Update(ctx, doc); err != nil {
		return errors.Wrap(err, "persist running status")
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ad, doc, start)
	}()
	return nil
}

// run performs the attempt body under the per-document lock and finalizes
// the status record. Every failure mode - auth, transport, persistence -
// lands in the same fail shape with the error recorded in status.info.
func (e *Engine) run(ad adapter.Adapter, doc *models.QueryDocument, start time.Time) {
	lock := e.lockFor(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	std, err := ad.Execute(ctx)
	end := time.Now().UTC()
	elapsed := end.Sub(start).Milliseconds()

	result := Result{Time: elapsed}
	if err != nil {
		doc.Status.Status = models.StatusFail
		doc.Status.Info = err.Error()
		result.Status = ResultFail
		result.Error = err.Error()
	} else {
		doc.Status.Status = models.StatusDone
		result.Status = ResultSuccess
		result.Data = std
	}
	doc.Status.End = &end

	if persistErr := e.docs.Update(context.Background(), doc); persistErr != nil {
		// The attempt outcome is still reported; the document must not be
		// left in running state, so the persistence failure wins.
		e.logger.Error().Err(persistErr).Str("query_id", doc.ID).Msg("failed to persist final status")
		result.Status = ResultFail
		result.Error = persistErr.Error()
	}

	e.notify(doc, result)

	event := e.logger.Info()
	if result.Status == ResultFail {
		event = e.logger.Error()
	}
	event.
		Str("query_id", doc.ID).
		Str("source_type", doc.Endpoint.SourceType).
		Str("status", doc.Status.Status).
		Int64("elapsed_ms", result.Time).
		Str("error", result.Error).
		Msg("query execution finished")
}

func (e *Engine) notify(doc *models.QueryDocument, result Result) {
	if e.notifications == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if result.Status == ResultSuccess {
		err = e.notifications.NotifyQueryDone(ctx, doc.ID, doc.Endpoint.SourceName, result.Time)
	} else {
		err = e.notifications.NotifyQueryFailed(ctx, doc.ID, doc.Endpoint.SourceName, result.Error)
	}
	if err != nil {
		e.logger.Error().Err(err).Str("query_id", doc.ID).Msg("failed to publish completion notification")
	}
}

// Wait blocks until all in-flight attempts finish. Used during shutdown and
// by tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}
