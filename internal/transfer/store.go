// Package transfer manages resumable uploads: a SQLite-backed ledger of
// open upload sessions plus a manager that drives chunked uploads through
// a bounded worker pool.
package transfer

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// StaleSessionAge is the TTL for ledger records. The service expires
// upload sessions after about 7 days; records older than that cannot be
// resumed and should be pruned.
const StaleSessionAge = 7 * 24 * time.Hour

// Session is a persisted upload session. A record exists from the first
// successful append until the session is committed or abandoned.
type Session struct {
	LocalPath   string
	RemotePath  string
	SessionID   string
	Offset      int64
	Size        int64
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists upload sessions in an embedded SQLite database so an
// interrupted upload can resume at its last committed offset. Safe for
// concurrent use. Use ":memory:" as the path in tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	saveStmt      *sql.Stmt
	getStmt       *sql.Stmt
	deleteStmt    *sql.Stmt
	listStaleStmt *sql.Stmt
}

// NewStore opens the ledger database at dbPath, applying migrations and
// preparing statements.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Debug("opening transfer ledger", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// Strip the "migrations/" prefix so goose sees files at the FS root.
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("transfer: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("transfer: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("transfer: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

const (
	sqlSaveSession = `INSERT INTO upload_sessions
		(local_path, remote_path, session_id, offset, size, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_path) DO UPDATE SET
			remote_path = excluded.remote_path,
			session_id = excluded.session_id,
			offset = excluded.offset,
			size = excluded.size,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`

	sqlGetSession = `SELECT local_path, remote_path, session_id, offset, size,
		content_hash, created_at, updated_at
		FROM upload_sessions WHERE local_path = ?`

	sqlDeleteSession = `DELETE FROM upload_sessions WHERE local_path = ?`

	sqlListStale = `SELECT local_path, remote_path, session_id, offset, size,
		content_hash, created_at, updated_at
		FROM upload_sessions WHERE updated_at < ?`
)

func (s *Store) prepareStatements(ctx context.Context) error {
	stmts := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.saveStmt, sqlSaveSession},
		{&s.getStmt, sqlGetSession},
		{&s.deleteStmt, sqlDeleteSession},
		{&s.listStaleStmt, sqlListStale},
	}

	for _, st := range stmts {
		prepared, err := s.db.PrepareContext(ctx, st.sql)
		if err != nil {
			return err
		}

		*st.dst = prepared
	}

	return nil
}

// Save upserts a session record, keyed by local path. CreatedAt is set on
// first save; UpdatedAt is always bumped.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()

	created := sess.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := s.saveStmt.ExecContext(ctx,
		sess.LocalPath, sess.RemotePath, sess.SessionID,
		sess.Offset, sess.Size, sess.ContentHash,
		created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session for %s: %w", sess.LocalPath, err)
	}

	return nil
}

// Get returns the session record for localPath, or nil if none exists.
func (s *Store) Get(ctx context.Context, localPath string) (*Session, error) {
	sess, err := scanSession(s.getStmt.QueryRowContext(ctx, localPath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get session for %s: %w", localPath, err)
	}

	return sess, nil
}

// Delete removes the session record for localPath. Deleting a missing
// record is not an error.
func (s *Store) Delete(ctx context.Context, localPath string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, localPath); err != nil {
		return fmt.Errorf("delete session for %s: %w", localPath, err)
	}

	return nil
}

// PruneStale deletes records older than StaleSessionAge and returns how
// many were removed. The service has already expired these sessions.
func (s *Store) PruneStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-StaleSessionAge).Format(time.RFC3339Nano)

	rows, err := s.listStaleStmt.QueryContext(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var stale []string

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return 0, fmt.Errorf("scan stale session: %w", err)
		}

		stale = append(stale, sess.LocalPath)
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate stale sessions: %w", err)
	}

	for _, path := range stale {
		if err := s.Delete(ctx, path); err != nil {
			return 0, err
		}

		s.logger.Info("pruned stale upload session", slog.String("path", path))
	}

	return len(stale), nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.saveStmt, s.getStmt, s.deleteStmt, s.listStaleStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess                 Session
		createdAt, updatedAt string
	)

	err := row.Scan(&sess.LocalPath, &sess.RemotePath, &sess.SessionID,
		&sess.Offset, &sess.Size, &sess.ContentHash, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &sess, nil
}
