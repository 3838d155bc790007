package fixture

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	t.Parallel()

	s, err := Start(WithHTTPBin())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close(context.Background())) })

	assert.True(t, strings.HasPrefix(s.URL(), "http://127.0.0.1:"), s.URL())

	get := func(t *testing.T, u string) (*http.Response, string) {
		t.Helper()

		resp, err := http.Get(u) //nolint:gosec,noctx
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(body)
	}

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"root", "/", http.StatusOK, "text/html", `id="clickButton"`},
		{"index", "/index.html", http.StatusOK, "text/html", `id="typeInput"`},
		{"script", "/", http.StatusOK, "text/html", "console.log('" + LoadedMessage + "')"},
		{"not_found", "/missing", http.StatusNotFound, "text/plain", "Not found"},
		{"httpbin", "/httpbin/get", http.StatusOK, "application/json", `"url"`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := get(t, s.URLFor(tt.path))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), tt.contentType)
			assert.Contains(t, body, tt.contains)
		})
	}

	t.Run("redirect", func(t *testing.T) {
		t.Parallel()

		target := s.URLFor("/index.html")
		resp, body := get(t, s.URLFor("/httpbin/redirect-to?url="+url.QueryEscape(target)))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, target, resp.Request.URL.String())
		assert.Contains(t, body, "Browser Test Page")
	})
}

func TestServerWithoutHTTPBin(t *testing.T) {
	t.Parallel()

	s, err := Start()
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close(context.Background())) }()

	resp, err := http.Get(s.URLFor("/httpbin/get")) //nolint:gosec,noctx
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
