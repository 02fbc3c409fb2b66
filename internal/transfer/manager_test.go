package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dropbox-go/internal/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/contenthash"
)

// fakeUploader records the bytes each call receives and can be told to
// fail a specific append.
type fakeUploader struct {
	mu sync.Mutex

	simpleCalls  int
	sessionBytes []byte
	appendCalls  int
	failAppendAt int // fail the Nth append (1-based); 0 = never
	finished     bool
	finishPath   string
	finishOffset int64
}

func readProducer(t *testing.T, producer func() (io.Reader, error)) []byte {
	t.Helper()

	r, err := producer()
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return data
}

func (f *fakeUploader) Upload(_ context.Context, path string, body func() (io.Reader, error)) (*dropbox.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, err := body()
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.simpleCalls++
	f.sessionBytes = data

	return &dropbox.Entry{
		PathDisplay: path,
		Size:        int64(len(data)),
		ContentHash: contenthash.SumHexBytes(data),
	}, nil
}

func (f *fakeUploader) UploadSessionStart(_ context.Context, chunk func() (io.Reader, error)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, err := chunk()
	if err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	f.sessionBytes = append(f.sessionBytes, data...)

	return "fake-session", nil
}

func (f *fakeUploader) UploadSessionAppend(_ context.Context, sessionID string, offset int64, chunk func() (io.Reader, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sessionID != "fake-session" {
		return errors.New("unknown session")
	}

	if offset != int64(len(f.sessionBytes)) {
		return errors.New("incorrect offset")
	}

	f.appendCalls++
	if f.failAppendAt > 0 && f.appendCalls == f.failAppendAt {
		return errors.New("injected append failure")
	}

	r, err := chunk()
	if err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	f.sessionBytes = append(f.sessionBytes, data...)

	return nil
}

func (f *fakeUploader) UploadSessionFinish(_ context.Context, sessionID string, offset int64, path string, chunk func() (io.Reader, error)) (*dropbox.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sessionID != "fake-session" {
		return nil, errors.New("unknown session")
	}

	if offset != int64(len(f.sessionBytes)) {
		return nil, errors.New("incorrect offset")
	}

	r, err := chunk()
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.sessionBytes = append(f.sessionBytes, data...)
	f.finished = true
	f.finishPath = path
	f.finishOffset = offset

	return &dropbox.Entry{
		PathDisplay: path,
		Size:        int64(len(f.sessionBytes)),
		ContentHash: contenthash.SumHexBytes(f.sessionBytes),
	}, nil
}

// writeTestFile creates a temp file of n bytes with a repeating pattern.
func writeTestFile(t *testing.T, n int) string {
	t.Helper()

	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%23)
	}

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func newTestManager(t *testing.T, fake *fakeUploader, withStore bool) *Manager {
	t.Helper()

	var store *Store
	if withStore {
		store = newTestStore(t)
	}

	return NewManager(fake, store, Options{
		ChunkSize:        1024,
		SessionThreshold: 4096,
		Workers:          2,
	}, testLogger(t))
}

func TestUploadFile_SmallUsesSingleRequest(t *testing.T) {
	fake := &fakeUploader{}
	m := newTestManager(t, fake, true)
	path := writeTestFile(t, 100)

	entry, err := m.UploadFile(context.Background(), path, "/dest/small.bin")
	require.NoError(t, err)

	assert.Equal(t, 1, fake.simpleCalls)
	assert.Zero(t, fake.appendCalls)
	assert.Equal(t, int64(100), entry.Size)
}

func TestUploadFile_LargeUsesSession(t *testing.T) {
	fake := &fakeUploader{}
	m := newTestManager(t, fake, true)

	// 4500 bytes with 1 KiB chunks: start(1024) + 3 appends + finish(428).
	path := writeTestFile(t, 4500)

	entry, err := m.UploadFile(context.Background(), path, "/dest/large.bin")
	require.NoError(t, err)

	assert.Zero(t, fake.simpleCalls)
	assert.Equal(t, 3, fake.appendCalls)
	assert.True(t, fake.finished)
	assert.Equal(t, "/dest/large.bin", fake.finishPath)
	assert.Equal(t, int64(4500), entry.Size)

	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, fake.sessionBytes)
}

func TestUploadFile_ExactChunkMultiple(t *testing.T) {
	fake := &fakeUploader{}
	m := newTestManager(t, fake, true)

	// 4096 = 4 chunks exactly: start + 2 appends + finish with the last chunk.
	path := writeTestFile(t, 4096)

	entry, err := m.UploadFile(context.Background(), path, "/dest/even.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), entry.Size)

	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, fake.sessionBytes)
}

func TestUploadFile_ResumesFromLedger(t *testing.T) {
	fake := &fakeUploader{failAppendAt: 2}
	store := newTestStore(t)
	m := NewManager(fake, store, Options{ChunkSize: 1024, SessionThreshold: 4096}, testLogger(t))
	path := writeTestFile(t, 4500)
	ctx := context.Background()

	_, err := m.UploadFile(ctx, path, "/dest/resume.bin")
	require.Error(t, err)

	// The ledger holds the last committed offset: start + 1 good append.
	rec, err := store.Get(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(2048), rec.Offset)
	assert.Equal(t, "fake-session", rec.SessionID)

	// Second run resumes; no bytes are re-sent.
	fake.failAppendAt = 0
	entry, err := m.UploadFile(ctx, path, "/dest/resume.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4500), entry.Size)

	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, fake.sessionBytes)

	// The record is cleared after the commit.
	rec, err = store.Get(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUploadFile_DiscardsLedgerWhenFileChanged(t *testing.T) {
	fake := &fakeUploader{}
	store := newTestStore(t)
	m := NewManager(fake, store, Options{ChunkSize: 1024, SessionThreshold: 4096}, testLogger(t))
	path := writeTestFile(t, 4500)
	ctx := context.Background()

	// A stale record whose hash no longer matches the file on disk.
	require.NoError(t, store.Save(ctx, &Session{
		LocalPath:   path,
		RemotePath:  "/dest/changed.bin",
		SessionID:   "stale-session",
		Offset:      2048,
		Size:        4500,
		ContentHash: "0000000000000000000000000000000000000000000000000000000000000000",
	}))

	entry, err := m.UploadFile(ctx, path, "/dest/changed.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4500), entry.Size)

	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, fake.sessionBytes)
}

func TestUploadFile_NoStoreStillUploads(t *testing.T) {
	fake := &fakeUploader{}
	m := newTestManager(t, fake, false)
	path := writeTestFile(t, 4500)

	entry, err := m.UploadFile(context.Background(), path, "/dest/nostore.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4500), entry.Size)
}

func TestUploadFile_MissingLocalFile(t *testing.T) {
	fake := &fakeUploader{}
	m := newTestManager(t, fake, true)

	_, err := m.UploadFile(context.Background(), filepath.Join(t.TempDir(), "nope"), "/dest/x")
	require.Error(t, err)
	assert.Zero(t, fake.simpleCalls)
}

// hashMismatchUploader returns a wrong content hash from Upload.
type hashMismatchUploader struct {
	fakeUploader
}

func (h *hashMismatchUploader) Upload(ctx context.Context, path string, body func() (io.Reader, error)) (*dropbox.Entry, error) {
	entry, err := h.fakeUploader.Upload(ctx, path, body)
	if err != nil {
		return nil, err
	}

	entry.ContentHash = contenthash.SumHexBytes([]byte("something else"))

	return entry, nil
}

func TestUploadFile_HashMismatch(t *testing.T) {
	m := newTestManager(t, nil, false)
	m.uploader = &hashMismatchUploader{}
	path := writeTestFile(t, 100)

	_, err := m.UploadFile(context.Background(), path, "/dest/bad.bin")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestUploadAll(t *testing.T) {
	t.Run("empty job list", func(t *testing.T) {
		m := newTestManager(t, &fakeUploader{}, false)

		report, err := m.UploadAll(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, report.Uploaded)
	})

	t.Run("uploads all small files", func(t *testing.T) {
		fake := &fakeUploader{}
		m := newTestManager(t, fake, false)

		var jobs []Job
		for _, name := range []string{"a", "b", "c"} {
			data := bytes.Repeat([]byte(name), 50)
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, data, 0o600))
			jobs = append(jobs, Job{LocalPath: path, RemotePath: "/dest/" + name})
		}

		report, err := m.UploadAll(context.Background(), jobs)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Uploaded)
		assert.Equal(t, int64(150), report.Bytes)
		assert.Empty(t, report.Errors)
	})

	t.Run("records per-file failures without aborting", func(t *testing.T) {
		fake := &fakeUploader{}
		m := newTestManager(t, fake, false)

		good := writeTestFile(t, 100)
		jobs := []Job{
			{LocalPath: good, RemotePath: "/dest/good"},
			{LocalPath: filepath.Join(t.TempDir(), "missing"), RemotePath: "/dest/bad"},
		}

		report, err := m.UploadAll(context.Background(), jobs)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Uploaded)
		require.Len(t, report.Errors, 1)
		assert.Equal(t, "/dest/bad", report.Errors[0].Job.RemotePath)
	})
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(&fakeUploader{}, nil, Options{}, testLogger(t))
	assert.Equal(t, int64(defaultChunkSize), m.chunkSize)
	assert.Equal(t, int64(defaultSessionThreshold), m.threshold)
	assert.Equal(t, defaultWorkers, m.workers)
}
