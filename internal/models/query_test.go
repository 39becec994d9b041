package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenValid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{
			name: "generated two hours ago with one hour expiry is invalid",
			creds: Credentials{
				AccessToken: "tok",
				ExpiresIn:   3600,
				Generated:   now.Add(-2 * time.Hour).UnixMilli(),
			},
			want: false,
		},
		{
			name: "two hour expiry window still open is valid",
			creds: Credentials{
				AccessToken: "tok",
				ExpiresIn:   7200,
				Generated:   now.Add(-2*time.Hour + time.Second).UnixMilli(),
			},
			want: true,
		},
		{
			name:  "no token recorded",
			creds: Credentials{Username: "admin", Password: "secret"},
			want:  false,
		},
		{
			name: "missing generated timestamp",
			creds: Credentials{
				AccessToken: "tok",
				ExpiresIn:   3600,
			},
			want: false,
		},
		{
			name: "missing expiry window",
			creds: Credentials{
				AccessToken: "tok",
				Generated:   now.UnixMilli(),
			},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.creds.TokenValid(now))
		})
	}
}

// The expiry boundary is exclusive: at exactly generated + expires_in*1000
// the token is already expired.
func TestTokenValidBoundaryExclusive(t *testing.T) {
	now := time.Now()
	creds := Credentials{
		AccessToken: "tok",
		ExpiresIn:   3600,
		Generated:   now.UnixMilli() - 3600*1000,
	}
	assert.False(t, creds.TokenValid(now))

	creds.Generated++
	assert.True(t, creds.TokenValid(now))
}

func TestHasToken(t *testing.T) {
	assert.False(t, Credentials{Username: "u", Password: "p"}.HasToken())
	assert.True(t, Credentials{AccessToken: "tok", ExpiresIn: 1, Generated: 1}.HasToken())
}
