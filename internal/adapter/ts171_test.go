package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an httptest stand-in for a tranSMART 17.1 instance.
type fakeSource struct {
	server     *httptest.Server
	tokenCalls int64
	fetchCalls int64
	lastBearer string
	lastQuery  url.Values
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	src := &fakeSource{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&src.tokenCalls, 1)
		query := r.URL.Query()
		if query.Get("grant_type") != "password" || query.Get("username") == "" {
			http.Error(w, "invalid_grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-" + strconv.FormatInt(atomic.LoadInt64(&src.tokenCalls), 10),
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/observations", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&src.fetchCalls, 1)
		src.lastBearer = r.Header.Get("Authorization")
		src.lastQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"dimensionDeclarations": []map[string]interface{}{
				{"name": "patient", "dimensionType": "subject"},
				{"name": "concept", "dimensionType": "attribute"},
			},
			"cells": []map[string]interface{}{
				{"dimensionIndexes": []int{0, 0}, "numericValue": 60},
			},
		})
	})
	src.server = httptest.NewServer(mux)
	t.Cleanup(src.server.Close)
	return src
}

// endpoint describes the fake source as a query endpoint.
func (s *fakeSource) endpoint(t *testing.T) models.Endpoint {
	t.Helper()
	parsed, err := url.Parse(s.server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return models.Endpoint{
		SourceType: SourceTypeTS171,
		SourceName: "test-transmart",
		SourceHost: parsed.Hostname(),
		SourcePort: port,
	}
}

func newTestDocument(t *testing.T, docs repository.QueryRepository, endpoint models.Endpoint, creds models.Credentials) *models.QueryDocument {
	t.Helper()
	doc := &models.QueryDocument{
		Endpoint:    endpoint,
		Credentials: creds,
		Input: models.Input{
			Local: models.RequestSpec{
				URI: "/v2/observations",
				Params: map[string]interface{}{
					"type":       "clinical",
					"constraint": map[string]interface{}{"type": "combination", "operator": "and"},
				},
			},
		},
		Status: models.QueryStatus{Status: models.StatusUnknown},
	}
	require.NoError(t, docs.Create(context.Background(), doc))
	return doc
}

func TestNewRejectsUnsupportedSourceType(t *testing.T) {
	doc := &models.QueryDocument{Endpoint: models.Endpoint{SourceType: "TS163"}}
	_, err := New(doc, repository.NewMemoryQueryRepository(), repository.NewMemoryBlobRepository(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TS163")
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported(SourceTypeTS171))
	assert.False(t, Supported(""))
	assert.False(t, Supported("TS163"))
}

func TestExecuteAuthenticatesFetchesAndPersistsOutput(t *testing.T) {
	src := newFakeSource(t)
	docs := repository.NewMemoryQueryRepository()
	blobs := repository.NewMemoryBlobRepository()
	doc := newTestDocument(t, docs, src.endpoint(t), models.Credentials{Username: "admin", Password: "admin"})

	ad, err := New(doc, docs, blobs, Options{})
	require.NoError(t, err)

	std, err := ad.Execute(context.Background())
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(std, &payload))
	assert.Contains(t, payload, "dimensionDeclarations")

	// Token bundle merged into credentials, username preserved, persisted.
	stored, err := docs.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", stored.Credentials.Username)
	assert.Equal(t, "token-1", stored.Credentials.AccessToken)
	assert.EqualValues(t, 3600, stored.Credentials.ExpiresIn)
	assert.True(t, stored.Credentials.TokenValid(time.Now()))

	// Both output references point at stored payloads.
	require.NotNil(t, stored.Output.Local.DataID)
	require.NotNil(t, stored.Output.Std.DataID)
	assert.Equal(t, int64(len(std)), stored.Output.Std.DataSize)
	local, err := blobs.Get(context.Background(), *stored.Output.Local.DataID)
	require.NoError(t, err)
	assert.JSONEq(t, string(std), string(local))

	// Remote fetch carried the bearer token and the serialized constraint.
	assert.Equal(t, "Bearer token-1", src.lastBearer)
	assert.Equal(t, "clinical", src.lastQuery.Get("type"))
	assert.JSONEq(t, `{"type":"combination","operator":"and"}`, src.lastQuery.Get("constraint"))
}

func TestExecuteReusesValidToken(t *testing.T) {
	src := newFakeSource(t)
	docs := repository.NewMemoryQueryRepository()
	blobs := repository.NewMemoryBlobRepository()
	doc := newTestDocument(t, docs, src.endpoint(t), models.Credentials{
		Username:    "admin",
		Password:    "admin",
		AccessToken: "still-good",
		ExpiresIn:   3600,
		Generated:   time.Now().UnixMilli(),
	})

	ad, err := New(doc, docs, blobs, Options{})
	require.NoError(t, err)
	_, err = ad.Execute(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 0, src.tokenCalls)
	assert.Equal(t, "Bearer still-good", src.lastBearer)
}

func TestExecuteRefreshesExpiredToken(t *testing.T) {
	src := newFakeSource(t)
	docs := repository.NewMemoryQueryRepository()
	blobs := repository.NewMemoryBlobRepository()
	doc := newTestDocument(t, docs, src.endpoint(t), models.Credentials{
		Username:    "admin",
		Password:    "admin",
		AccessToken: "stale",
		ExpiresIn:   3600,
		Generated:   time.Now().Add(-2 * time.Hour).UnixMilli(),
	})

	ad, err := New(doc, docs, blobs, Options{})
	require.NoError(t, err)
	_, err = ad.Execute(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, src.tokenCalls)
	assert.Equal(t, "Bearer token-1", src.lastBearer)
}

func TestAuthFailureLeavesCredentialsUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	docs := repository.NewMemoryQueryRepository()
	blobs := repository.NewMemoryBlobRepository()
	doc := newTestDocument(t, docs, models.Endpoint{
		SourceType: SourceTypeTS171,
		SourceHost: parsed.Hostname(),
		SourcePort: port,
	}, models.Credentials{Username: "admin", Password: "admin"})

	ad, err := New(doc, docs, blobs, Options{})
	require.NoError(t, err)
	_, err = ad.Execute(context.Background())
	require.Error(t, err)

	stored, getErr := docs.Get(context.Background(), doc.ID)
	require.NoError(t, getErr)
	assert.False(t, stored.Credentials.HasToken())
	assert.Nil(t, stored.Output.Local.DataID)
	assert.Nil(t, stored.Output.Std.DataID)
}

func TestExecuteHonorsContextTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	docs := repository.NewMemoryQueryRepository()
	doc := newTestDocument(t, docs, models.Endpoint{
		SourceType: SourceTypeTS171,
		SourceHost: parsed.Hostname(),
		SourcePort: port,
	}, models.Credentials{Username: "admin", Password: "admin"})

	ad, err := New(doc, docs, repository.NewMemoryBlobRepository(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ad.Execute(ctx)
	require.Error(t, err)
}

func TestEncodeParams(t *testing.T) {
	assert.Equal(t, "", encodeParams(nil))
	assert.Equal(t, "", encodeParams(map[string]interface{}{}))

	got := encodeParams(map[string]interface{}{
		"type":  "clinical",
		"limit": float64(10),
	})
	values, err := url.ParseQuery(got[1:])
	require.NoError(t, err)
	assert.Equal(t, "clinical", values.Get("type"))
	assert.Equal(t, "10", values.Get("limit"))
}
