package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/medfuse/broker-api/internal/models"
	"github.com/medfuse/broker-api/internal/repository"
	"github.com/pkg/errors"
)

// SourceTypeTS171 identifies tranSMART 17.1 sources. The variant speaks the
// v2 REST API: password-grant OAuth at /oauth/token, bearer-authenticated
// GETs for data, observation payloads keyed by dimensionDeclarations.
const SourceTypeTS171 = "TS171"

func init() {
	Register(SourceTypeTS171, newTS171)
}

type ts171 struct {
	Base
	client   *http.Client
	clientID string
}

func newTS171(doc *models.QueryDocument, docs repository.QueryRepository, blobs repository.BlobRepository, opts Options) Adapter {
	return &ts171{
		Base:     Base{Doc: doc, Docs: docs, Blobs: blobs},
		client:   opts.client(),
		clientID: opts.OAuthClientID,
	}
}

func (a *ts171) baseURL() string {
	host := a.Doc.Endpoint.SourceHost
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s:%d", host, a.Doc.Endpoint.SourcePort)
}

// ensureAuthenticated refreshes the token when none is recorded or the
// recorded one is past its window. Valid tokens are reused as-is.
func (a *ts171) ensureAuthenticated(ctx context.Context) error {
	if a.Doc.Credentials.TokenValid(time.Now()) {
		return nil
	}
	return a.refreshToken(ctx)
}

// refreshToken issues a password-grant request against the source's token
// endpoint and merges the returned bundle into the document's credentials,
// preserving username and password. A transport failure leaves the
// credentials untouched.
func (a *ts171) refreshToken(ctx context.Context) error {
	params := url.Values{
		"grant_type": {"password"},
		"client_id":  {a.clientID},
		"username":   {a.Doc.Credentials.Username},
		"password":   {a.Doc.Credentials.Password},
	}
	tokenURL := a.baseURL() + "/oauth/token?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return errors.Wrap(err, "build token request")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.Errorf("token request returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return errors.Wrap(err, "decode token response")
	}
	if token.AccessToken == "" {
		return errors.New("token response missing access_token")
	}

	a.Doc.Credentials.AccessToken = token.AccessToken
	a.Doc.Credentials.ExpiresIn = token.ExpiresIn
	a.Doc.Credentials.Generated = time.Now().UnixMilli()

	return a.PersistDocument(ctx)
}

// fetch issues the bearer-authenticated GET described by input.local.
func (a *ts171) fetch(ctx context.Context) ([]byte, error) {
	fetchURL := a.baseURL() + a.Doc.Input.Local.URI + encodeParams(a.Doc.Input.Local.Params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build fetch request")
	}
	req.Header.Set("Authorization", "Bearer "+a.Doc.Credentials.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "remote fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("remote fetch returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// encodeParams serializes the local request params as a query string.
// Scalar values go through as-is; structured values (e.g. a tranSMART
// constraint object) are JSON-encoded.
func encodeParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, key := range keys {
		switch v := params[key].(type) {
		case string:
			values.Set(key, v)
		case fmt.Stringer:
			values.Set(key, v.String())
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			values.Set(key, string(encoded))
		}
	}
	return "?" + values.Encode()
}

func (a *ts171) Execute(ctx context.Context) ([]byte, error) {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	raw, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return a.PersistLocalOutput(ctx, raw, a)
}

// The tranSMART v2 payloads are already the closest thing the broker has to
// a standard clinical shape, so all four hooks pass data through unchanged.
// The seam stays so a real structural mapping can land per direction later.

func (a *ts171) InputLocalToStandard(in models.RequestSpec) (models.RequestSpec, error) {
	return in, nil
}

func (a *ts171) InputStandardToLocal(in models.RequestSpec) (models.RequestSpec, error) {
	return in, nil
}

func (a *ts171) OutputLocalToStandard(payload []byte) ([]byte, error) {
	return payload, nil
}

func (a *ts171) OutputStandardToLocal(payload []byte) ([]byte, error) {
	return payload, nil
}
