package egress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetDomain(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"simple", "https://example.com/", "example.com", false},
		{"with path", "https://example.net/submit", "example.net", false},
		{"with port", "https://api.example.com:8443/v1", "api.example.com", false},
		{"uppercase host", "https://API.Example.COM/x", "api.example.com", false},
		{"http scheme", "http://internal.svc/health", "internal.svc", false},
		{"no host", "https:///path", "", true},
		{"relative", "/just/a/path", "", true},
		{"unsupported scheme", "ftp://example.com/file", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetDomain(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTargetURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
