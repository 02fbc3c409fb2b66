package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	content := []byte("downloaded file bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/download", r.URL.Path)

		var args pathArgs
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &args))
		assert.Equal(t, "/report.pdf", args.Path)

		w.Header().Set("Dropbox-API-Result", `{".tag": "file", "name": "report.pdf", "path_lower": "/report.pdf", "size": 21, "rev": "r9"}`)
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, NewCredentials("T1"), nil)

	var buf bytes.Buffer

	n, entry, err := client.Download(context.Background(), "report.pdf", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.Bytes())

	require.NotNil(t, entry)
	assert.Equal(t, "report.pdf", entry.Name)
	assert.Equal(t, "r9", entry.Rev)
}

// Content endpoints report path errors as 409 with a structured body; the
// dispatcher classifies them the same as RPC failures.
func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error_summary": "path/not_found/..", "error": {".tag": "path"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, NewCredentials("T1"), nil)

	var buf bytes.Buffer

	_, _, err := client.Download(context.Background(), "missing.txt", &buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "path", apiErr.Tag)
	assert.Zero(t, buf.Len())
}

// A missing metadata header degrades to nil metadata; the bytes still land.
func TestDownload_MissingResultHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("raw"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, NewCredentials("T1"), nil)

	var buf bytes.Buffer

	n, entry, err := client.Download(context.Background(), "x", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Nil(t, entry)
}
