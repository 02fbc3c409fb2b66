package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dropbox-go/internal/dropbox"
	"github.com/tonimelisma/dropbox-go/pkg/contenthash"
)

// ErrHashMismatch is returned when the content hash reported by the
// service after an upload does not match the hash computed locally.
var ErrHashMismatch = errors.New("content hash mismatch after upload")

// Uploader is the subset of the API client the manager needs. Satisfied
// by *dropbox.Client.
type Uploader interface {
	Upload(ctx context.Context, path string, body func() (io.Reader, error)) (*dropbox.Entry, error)
	UploadSessionStart(ctx context.Context, chunk func() (io.Reader, error)) (string, error)
	UploadSessionAppend(ctx context.Context, sessionID string, offset int64, chunk func() (io.Reader, error)) error
	UploadSessionFinish(ctx context.Context, sessionID string, offset int64, path string, chunk func() (io.Reader, error)) (*dropbox.Entry, error)
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	ChunkSize        int64 // bytes per session append
	SessionThreshold int64 // files at or above this size use sessions
	Workers          int   // parallel uploads in UploadAll
}

const (
	defaultChunkSize        = 8 * 1024 * 1024
	defaultSessionThreshold = 16 * 1024 * 1024
	defaultWorkers          = 4
)

// Manager drives file uploads: small files in a single request, large
// files through chunked upload sessions with resume via the ledger.
// Safe for concurrent use.
type Manager struct {
	uploader  Uploader
	store     *Store // nil = no resume persistence
	chunkSize int64
	threshold int64
	workers   int
	logger    *slog.Logger
}

// NewManager creates a Manager. store may be nil, in which case
// interrupted session uploads start over instead of resuming.
func NewManager(uploader Uploader, store *Store, opts Options, logger *slog.Logger) *Manager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	if opts.SessionThreshold <= 0 {
		opts.SessionThreshold = defaultSessionThreshold
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	return &Manager{
		uploader:  uploader,
		store:     store,
		chunkSize: opts.ChunkSize,
		threshold: opts.SessionThreshold,
		workers:   opts.Workers,
		logger:    logger,
	}
}

// Job names one file to upload.
type Job struct {
	LocalPath  string
	RemotePath string
}

// JobError pairs a failed job with its error.
type JobError struct {
	Job Job
	Err error
}

// Report summarizes an UploadAll run.
type Report struct {
	Uploaded int
	Bytes    int64
	Errors   []JobError
}

// UploadFile uploads the file at localPath to remotePath. The upload path
// is chosen by size: below the session threshold a single request, above
// it a chunked session that resumes from the ledger when a matching
// record exists. The service's content hash is verified against the
// local hash after the upload.
func (m *Manager) UploadFile(ctx context.Context, localPath, remotePath string) (*dropbox.Entry, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	localHash, err := hashFile(localPath)
	if err != nil {
		return nil, err
	}

	size := info.Size()

	m.logger.Debug("uploading",
		slog.String("local", localPath),
		slog.String("remote", remotePath),
		slog.Int64("size", size),
	)

	var entry *dropbox.Entry
	if size < m.threshold {
		entry, err = m.uploader.Upload(ctx, remotePath, fileProducer(localPath))
	} else {
		entry, err = m.sessionUpload(ctx, localPath, remotePath, size, localHash)
	}

	if err != nil {
		return nil, err
	}

	if entry.ContentHash != "" && entry.ContentHash != localHash {
		return nil, fmt.Errorf("%w: %s: local %s, remote %s",
			ErrHashMismatch, remotePath, localHash, entry.ContentHash)
	}

	return entry, nil
}

// UploadAll runs the jobs through a bounded worker pool. Per-file errors
// are recorded in the report; only context cancellation aborts the pool.
func (m *Manager) UploadAll(ctx context.Context, jobs []Job) (*Report, error) {
	report := &Report{}
	if len(jobs) == 0 {
		return report, nil
	}

	m.logger.Info("starting uploads",
		slog.Int("count", len(jobs)),
		slog.Int("workers", m.workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	var mu sync.Mutex

	for _, job := range jobs {
		g.Go(func() error {
			entry, err := m.UploadFile(gctx, job.LocalPath, job.RemotePath)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if gctx.Err() != nil {
					return err
				}

				report.Errors = append(report.Errors, JobError{Job: job, Err: err})

				m.logger.Warn("upload failed",
					slog.String("local", job.LocalPath),
					slog.String("error", err.Error()),
				)

				return nil
			}

			report.Uploaded++
			report.Bytes += entry.Size

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

// sessionUpload runs a chunked upload session, persisting progress to the
// ledger after every append so an interrupted transfer resumes at its
// last committed offset.
func (m *Manager) sessionUpload(ctx context.Context, localPath, remotePath string, size int64, localHash string) (*dropbox.Entry, error) {
	sessionID, offset, err := m.resumeOrStart(ctx, localPath, remotePath, size, localHash)
	if err != nil {
		return nil, err
	}

	// Append full chunks, holding back the final partial (or full) chunk
	// for the finish call.
	for size-offset > m.chunkSize {
		chunk, err := readChunk(localPath, offset, m.chunkSize)
		if err != nil {
			return nil, err
		}

		if err := m.uploader.UploadSessionAppend(ctx, sessionID, offset, byteProducer(chunk)); err != nil {
			return nil, err
		}

		offset += int64(len(chunk))

		if err := m.persist(ctx, localPath, remotePath, sessionID, offset, size, localHash); err != nil {
			return nil, err
		}
	}

	final, err := readChunk(localPath, offset, size-offset)
	if err != nil {
		return nil, err
	}

	entry, err := m.uploader.UploadSessionFinish(ctx, sessionID, offset, remotePath, byteProducer(final))
	if err != nil {
		return nil, err
	}

	if m.store != nil {
		if err := m.store.Delete(ctx, localPath); err != nil {
			m.logger.Warn("failed to clear upload session record",
				slog.String("path", localPath),
				slog.String("error", err.Error()),
			)
		}
	}

	return entry, nil
}

// resumeOrStart returns an open session and the offset to continue from.
// A ledger record is honored only when the file's size and content hash
// still match; otherwise the record is discarded and a fresh session
// starts.
func (m *Manager) resumeOrStart(ctx context.Context, localPath, remotePath string, size int64, localHash string) (string, int64, error) {
	if m.store != nil {
		rec, err := m.store.Get(ctx, localPath)
		if err != nil {
			return "", 0, err
		}

		if rec != nil {
			if rec.Size == size && rec.ContentHash == localHash {
				m.logger.Info("resuming upload session",
					slog.String("path", localPath),
					slog.Int64("offset", rec.Offset),
				)

				return rec.SessionID, rec.Offset, nil
			}

			m.logger.Info("local file changed, discarding upload session",
				slog.String("path", localPath),
			)

			if err := m.store.Delete(ctx, localPath); err != nil {
				return "", 0, err
			}
		}
	}

	first, err := readChunk(localPath, 0, min(m.chunkSize, size))
	if err != nil {
		return "", 0, err
	}

	sessionID, err := m.uploader.UploadSessionStart(ctx, byteProducer(first))
	if err != nil {
		return "", 0, err
	}

	offset := int64(len(first))

	if err := m.persist(ctx, localPath, remotePath, sessionID, offset, size, localHash); err != nil {
		return "", 0, err
	}

	return sessionID, offset, nil
}

func (m *Manager) persist(ctx context.Context, localPath, remotePath, sessionID string, offset, size int64, hash string) error {
	if m.store == nil {
		return nil
	}

	return m.store.Save(ctx, &Session{
		LocalPath:   localPath,
		RemotePath:  remotePath,
		SessionID:   sessionID,
		Offset:      offset,
		Size:        size,
		ContentHash: hash,
	})
}

// readChunk reads n bytes from path starting at off. Chunks are buffered
// in memory so the request body producer can regenerate them on retry.
func readChunk(path string, off, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(f, off, n), buf); err != nil {
		return nil, fmt.Errorf("read %s at %d: %w", path, off, err)
	}

	return buf, nil
}

// byteProducer wraps an in-memory chunk as a regenerable body producer.
func byteProducer(b []byte) func() (io.Reader, error) {
	return func() (io.Reader, error) {
		return bytes.NewReader(b), nil
	}
}

// fileProducer reopens the file on each attempt so a retried request
// reads the content from the start.
func fileProducer(path string) func() (io.Reader, error) {
	return func() (io.Reader, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		return bytes.NewReader(data), nil
	}
}

// hashFile computes the service content hash of a local file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sum, err := contenthash.SumHex(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return sum, nil
}
