package dropbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/upload", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		var args uploadArgs
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &args))
		assert.Equal(t, "/notes.txt", args.Path)
		assert.Equal(t, "overwrite", args.Mode)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "file contents", string(body))

		_, _ = w.Write([]byte(`{".tag": "file", "name": "notes.txt", "path_lower": "/notes.txt", "size": 13, "rev": "r1"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, NewCredentials("T1"), nil)

	entry, err := client.UploadBytes(context.Background(), "notes.txt", []byte("file contents"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", entry.Name)
	assert.Equal(t, int64(13), entry.Size)
	assert.Equal(t, "r1", entry.Rev)
}

// Upload is the streaming call that motivates the regenerable-body
// contract: an expired token mid-upload means the retry must re-produce
// the full content, since the first attempt's stream is gone.
func TestUpload_RetriesWithFreshBodyAfterRefresh(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(expiredTokenBody))

			return
		}

		assert.Equal(t, "Bearer T2", r.Header.Get("Authorization"))
		assert.Equal(t, "big payload", string(body))
		_, _ = w.Write([]byte(`{".tag": "file", "name": "big.bin", "path_lower": "/big.bin"}`))
	}))
	defer srv.Close()

	refresh := func(context.Context) (string, error) {
		return "T2", nil
	}

	client := newTestClient(t, srv.URL, NewCredentials("T1"), refresh)

	var produced atomic.Int32

	entry, err := client.Upload(context.Background(), "big.bin", func() (io.Reader, error) {
		produced.Add(1)
		return strings.NewReader("big payload"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "big.bin", entry.Name)
	assert.Equal(t, int32(2), produced.Load())
}

func TestUploadSessionLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server

		switch r.URL.Path {
		case "/files/upload_session/start":
			assert.Equal(t, "chunk-one", string(body))
			_, _ = w.Write([]byte(`{"session_id": "sess-1"}`))
		case "/files/upload_session/append_v2":
			var args uploadSessionAppendArgs
			require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &args))
			assert.Equal(t, "sess-1", args.Cursor.SessionID)
			assert.Equal(t, int64(9), args.Cursor.Offset)
			assert.Equal(t, "chunk-two", string(body))
			w.WriteHeader(http.StatusOK)
		case "/files/upload_session/finish":
			var args uploadSessionFinishArgs
			require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &args))
			assert.Equal(t, "sess-1", args.Cursor.SessionID)
			assert.Equal(t, int64(18), args.Cursor.Offset)
			assert.Equal(t, "/assembled.bin", args.Commit.Path)
			assert.Empty(t, body)

			_, _ = w.Write([]byte(`{".tag": "file", "name": "assembled.bin", "path_lower": "/assembled.bin", "size": 18}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, NewCredentials("T1"), nil)
	ctx := context.Background()

	chunk := func(s string) func() (io.Reader, error) {
		return func() (io.Reader, error) { return strings.NewReader(s), nil }
	}

	sessionID, err := client.UploadSessionStart(ctx, chunk("chunk-one"))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	require.NoError(t, client.UploadSessionAppend(ctx, sessionID, 9, chunk("chunk-two")))

	entry, err := client.UploadSessionFinish(ctx, sessionID, 18, "assembled.bin", chunk(""))
	require.NoError(t, err)
	assert.Equal(t, "assembled.bin", entry.Name)
	assert.Equal(t, int64(18), entry.Size)
}

func TestUpload_PathTooLong(t *testing.T) {
	client := newTestClient(t, "http://unused", NewCredentials("T1"), nil)

	longName := strings.Repeat("x", maxFileNameLength+1)

	_, err := client.UploadBytes(context.Background(), "/"+longName, []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}
