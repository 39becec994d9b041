package models

import (
	"time"
)

// Query status values. Within one execution attempt the status only moves
// forward: unknown -> running -> done|fail. A new execute request may restart
// the cycle.
const (
	StatusUnknown = "unknown"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFail    = "fail"
)

// Endpoint identifies the remote data source a query targets. SourceType
// selects the adapter variant bound to the query at execute time.
type Endpoint struct {
	SourceType string `json:"sourceType"`
	SourceName string `json:"sourceName"`
	SourceHost string `json:"sourceHost"`
	SourcePort int    `json:"sourcePort"`
	Public     bool   `json:"public"`
	Visibility string `json:"visibility"`
}

// Credentials holds the long-lived username/password pair plus, once a token
// request has succeeded, the OAuth bearer token bundle. Both may coexist;
// presence of all three token fields marks an attempted authentication.
type Credentials struct {
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"` // seconds
	Generated   int64  `json:"generated,omitempty"`  // unix milliseconds
}

// HasToken reports whether all three token fields are recorded.
func (c Credentials) HasToken() bool {
	return c.AccessToken != "" && c.ExpiresIn != 0 && c.Generated != 0
}

// TokenValid reports whether the recorded token is present and unexpired at
// the given instant. The boundary is exclusive: a token is valid only while
// now < generated + expires_in*1000. An expired token is treated as absent
// for auth decisions; the fields themselves are left in place.
func (c Credentials) TokenValid(now time.Time) bool {
	if !c.HasToken() {
		return false
	}
	return now.UnixMilli() < c.Generated+c.ExpiresIn*1000
}

// RequestSpec describes one request against a source, either in the source's
// native (local) shape or the broker's standardized shape.
type RequestSpec struct {
	URI    string                 `json:"uri,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
	Type   string                 `json:"type,omitempty"`
}

type Input struct {
	Local RequestSpec `json:"local"`
	Std   RequestSpec `json:"std"`
}

// QueryStatus tracks one execution attempt.
type QueryStatus struct {
	Status string     `json:"status"`
	Start  *time.Time `json:"start"`
	End    *time.Time `json:"end"`
	Info   string     `json:"info"`
}

// OutputRef points at a persisted payload in the blob store. DataID is set
// only after the payload write succeeded; size and id are never set
// independently of each other.
type OutputRef struct {
	DataSize int64   `json:"dataSize"`
	DataID   *string `json:"dataId"`
}

type Output struct {
	Local OutputRef `json:"local"`
	Std   OutputRef `json:"std"`
}

// QueryDocument is the unit of broker state: one remote query, its
// credentials, its lifecycle status and its output references. It is owned
// exclusively by the broker and referenced by the opaque ID.
type QueryDocument struct {
	ID          string      `json:"_id"`
	Endpoint    Endpoint    `json:"endpoint"`
	Credentials Credentials `json:"credentials"`
	Input       Input       `json:"input"`
	Status      QueryStatus `json:"status"`
	Output      Output      `json:"output"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
