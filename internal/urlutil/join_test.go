package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		paths   []string
		want    string
		wantErr bool
	}{
		{
			name:  "simple join",
			base:  "https://example.com",
			paths: []string{"auth", "v1"},
			want:  "https://example.com/auth/v1",
		},
		{
			name:  "base with path",
			base:  "https://example.com/base",
			paths: []string{"auth", "v1"},
			want:  "https://example.com/base/auth/v1",
		},
		{
			name:  "trailing slash preserved",
			base:  "https://example.com",
			paths: []string{"auth", "v1/"},
			want:  "https://example.com/auth/v1/",
		},
		{
			name:  "duplicate slashes collapsed",
			base:  "https://example.com/",
			paths: []string{"/auth/", "/v1"},
			want:  "https://example.com/auth/v1",
		},
		{
			name: "empty paths",
			base: "https://example.com/auth",
			want: "https://example.com/auth",
		},
		{
			name:    "invalid base",
			base:    "://bad",
			paths:   []string{"x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfirmLink(t *testing.T) {
	link, err := ConfirmLink("https://app.example.com", "/private")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/auth/confirm?next=%2Fprivate", link)
}

func TestConfirmLinkWithoutNext(t *testing.T) {
	link, err := ConfirmLink("https://app.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/auth/confirm", link)
}
