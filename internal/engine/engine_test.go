package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/medfuse/broker-api/internal/adapter"
	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/notification"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	docs   *repository.MemoryQueryRepository
	blobs  *repository.MemoryBlobRepository
	notifs *repository.MemoryNotificationRepository
	eng    *Engine
}

func newEngineFixture(t *testing.T, timeout time.Duration) *engineFixture {
	t.Helper()
	docs := repository.NewMemoryQueryRepository()
	blobs := repository.NewMemoryBlobRepository()
	notifs := repository.NewMemoryNotificationRepository()
	svc := notification.NewService(notifs, zerolog.Nop())
	return &engineFixture{
		docs:   docs,
		blobs:  blobs,
		notifs: notifs,
		eng:    New(docs, blobs, svc, zerolog.Nop(), adapter.Options{}, timeout),
	}
}

func endpointFor(t *testing.T, serverURL string) models.Endpoint {
	t.Helper()
	parsed, err := url.Parse(serverURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return models.Endpoint{
		SourceType: adapter.SourceTypeTS171,
		SourceName: "test-source",
		SourceHost: parsed.Hostname(),
		SourcePort: port,
	}
}

func createDoc(t *testing.T, docs repository.QueryRepository, endpoint models.Endpoint) *models.QueryDocument {
	t.Helper()
	doc := &models.QueryDocument{
		Endpoint:    endpoint,
		Credentials: models.Credentials{Username: "admin", Password: "admin"},
		Input: models.Input{
			Local: models.RequestSpec{URI: "/v2/observations"},
		},
		Status: models.QueryStatus{Status: models.StatusUnknown},
	}
	require.NoError(t, docs.Create(context.Background(), doc))
	return doc
}

func TestExecuteLifecycleDone(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok",
				"expires_in":   3600,
			})
			return
		}
		<-release
		json.NewEncoder(w).Encode(map[string]interface{}{
			"dimensionDeclarations": []interface{}{},
		})
	}))
	t.Cleanup(server.Close)

	f := newEngineFixture(t, 10*time.Second)
	doc := createDoc(t, f.docs, endpointFor(t, server.URL))

	require.NoError(t, f.eng.Execute(context.Background(), doc))

	// The running transition is visible before the attempt body finishes.
	stored, err := f.docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, stored.Status.Status)
	require.NotNil(t, stored.Status.Start)
	assert.Nil(t, stored.Status.End)

	close(release)
	f.eng.Wait()

	stored, err = f.docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, stored.Status.Status)
	require.NotNil(t, stored.Status.Start)
	require.NotNil(t, stored.Status.End)
	assert.False(t, stored.Status.End.Before(*stored.Status.Start))
	assert.Empty(t, stored.Status.Info)
	require.NotNil(t, stored.Output.Std.DataID)

	notifs, err := f.notifs.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, models.NotificationEventQueryDone, notifs[0].EventType)
	assert.Equal(t, doc.ID, notifs[0].QueryID)
}

func TestExecuteLifecycleFail(t *testing.T) {
	// Grab a port that no longer listens so the token request fails at the
	// transport layer.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	f := newEngineFixture(t, 5*time.Second)
	doc := createDoc(t, f.docs, endpointFor(t, deadURL))

	require.NoError(t, f.eng.Execute(context.Background(), doc))
	f.eng.Wait()

	stored, err := f.docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, stored.Status.Status)
	assert.NotEmpty(t, stored.Status.Info)
	require.NotNil(t, stored.Status.End)
	assert.Nil(t, stored.Output.Std.DataID)

	notifs, err := f.notifs.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, models.NotificationEventQueryFailed, notifs[0].EventType)
	assert.Equal(t, models.NotificationSeverityError, notifs[0].Severity)
}

func TestExecuteUnsupportedSourceType(t *testing.T) {
	f := newEngineFixture(t, time.Second)
	doc := createDoc(t, f.docs, models.Endpoint{SourceType: "TS163", SourceHost: "localhost", SourcePort: 1})

	err := f.eng.Execute(context.Background(), doc)
	require.Error(t, err)

	// Status never left unknown.
	stored, getErr := f.docs.Get(context.Background(), doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusUnknown, stored.Status.Status)
	assert.Nil(t, stored.Status.Start)
}

func TestExecuteTimesOutSlowSource(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	f := newEngineFixture(t, 100*time.Millisecond)
	doc := createDoc(t, f.docs, endpointFor(t, server.URL))

	require.NoError(t, f.eng.Execute(context.Background(), doc))
	f.eng.Wait()

	stored, err := f.docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFail, stored.Status.Status)
	assert.NotEmpty(t, stored.Status.Info)
}

func TestConcurrentExecutesSerializePerDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok",
				"expires_in":   3600,
			})
			return
		}
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]interface{}{"cells": []interface{}{}})
	}))
	t.Cleanup(server.Close)

	f := newEngineFixture(t, 10*time.Second)
	doc := createDoc(t, f.docs, endpointFor(t, server.URL))

	for i := 0; i < 4; i++ {
		attempt, err := f.docs.Get(context.Background(), doc.ID)
		require.NoError(t, err)
		require.NoError(t, f.eng.Execute(context.Background(), &attempt))
	}
	f.eng.Wait()

	stored, err := f.docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, stored.Status.Status)
}
