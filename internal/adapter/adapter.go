// Package adapter defines the uniform contract every source-specific query
// adapter satisfies, plus the shared persistence helpers and the registry
// that binds a query document to the adapter variant declared by its
// endpoint.sourceType.
package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/pkg/errors"
)

// Translator holds the four translation hooks between a source's native
// (local) shape and the broker's standardized shape. All four are pure.
// Callers must not assume a semantic transformation takes place unless the
// concrete variant documents one; identity is the default.
type Translator interface {
	InputLocalToStandard(in models.RequestSpec) (models.RequestSpec, error)
	InputStandardToLocal(in models.RequestSpec) (models.RequestSpec, error)
	OutputLocalToStandard(payload []byte) ([]byte, error)
	OutputStandardToLocal(payload []byte) ([]byte, error)
}

// Adapter is the contract one bound query adapter satisfies. Execute runs a
// single attempt against the remote source: it authenticates, fetches, and
// persists output, returning the standardized payload. Status bookkeeping
// and timing belong to the engine driving the adapter.
type Adapter interface {
	Translator
	Execute(ctx context.Context) ([]byte, error)
}

// Options carries the environment shared by all adapter instances.
type Options struct {
	// HTTPClient issues the token refresh and remote fetch requests. It
	// should carry a bounded timeout; a nil client falls back to a 30s one.
	HTTPClient *http.Client
	// OAuthClientID is sent as client_id on password-grant token requests.
	OAuthClientID string
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Factory builds one adapter instance bound to a document and its two
// external collaborators. Construction has no network or auth side effects.
type Factory func(doc *models.QueryDocument, docs repository.QueryRepository, blobs repository.BlobRepository, opts Options) Adapter

var registry = map[string]Factory{}

// Register makes a source type constructible. Called from variant init().
func Register(sourceType string, factory Factory) {
	registry[sourceType] = factory
}

// Supported reports whether an adapter variant exists for the source type.
func Supported(sourceType string) bool {
	_, ok := registry[sourceType]
	return ok
}

// New binds doc to the adapter variant its endpoint declares. It fails fast
// when no variant is registered for the source type.
func New(doc *models.QueryDocument, docs repository.QueryRepository, blobs repository.BlobRepository, opts Options) (Adapter, error) {
	factory, ok := registry[doc.Endpoint.SourceType]
	if !ok {
		return nil, errors.Errorf("unsupported source type %q", doc.Endpoint.SourceType)
	}
	return factory(doc, docs, blobs, opts), nil
}

// Base carries the document binding and the shared persistence helpers each
// variant embeds.
type Base struct {
	Doc   *models.QueryDocument
	Docs  repository.QueryRepository
	Blobs repository.BlobRepository
}

// PersistDocument writes the current in-memory document state back to the
// document store. Every dependent step awaits this write so later status and
// credential mutations cannot race an earlier unflushed one.
func (b *Base) PersistDocument(ctx context.Context) error {
	if err := b.Docs.Update(ctx, b.Doc); err != nil {
		return errors.Wrap(err, "persist query document")
	}
	return nil
}

// PersistLocalOutput stores the raw payload, records its reference into
// output.local, derives the standardized form through the variant's
// OutputLocalToStandard hook and stores that into output.std, then writes the
// document back. An output reference is only ever set after its payload write
// succeeded. Returns the standardized payload.
func (b *Base) PersistLocalOutput(ctx context.Context, raw []byte, t Translator) ([]byte, error) {
	localID, err := b.Blobs.Put(ctx, b.Doc.ID, raw)
	if err != nil {
		return nil, errors.Wrap(err, "store local output")
	}
	b.Doc.Output.Local = models.OutputRef{DataSize: int64(len(raw)), DataID: &localID}

	std, err := t.OutputLocalToStandard(raw)
	if err != nil {
		return nil, errors.Wrap(err, "translate local output")
	}

	stdID, err := b.Blobs.Put(ctx, b.Doc.ID, std)
	if err != nil {
		return nil, errors.Wrap(err, "store standard output")
	}
	b.Doc.Output.Std = models.OutputRef{DataSize: int64(len(std)), DataID: &stdID}

	if err := b.PersistDocument(ctx); err != nil {
		return nil, err
	}
	return std, nil
}
