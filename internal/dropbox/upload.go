package dropbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
)

// SimpleUploadMaxSize is the largest file the single-request upload
// endpoint accepts (150 MB). Larger files must use upload sessions.
const SimpleUploadMaxSize = 150 * 1024 * 1024

// writeModeOverwrite replaces existing content unconditionally. The short
// union form ("mode": "overwrite") is accepted by the service.
const writeModeOverwrite = "overwrite"

type uploadArgs struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type uploadSessionStartArgs struct {
	Close bool `json:"close"`
}

type uploadSessionStartResponse struct {
	SessionID string `json:"session_id"`
}

type uploadSessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

type uploadSessionAppendArgs struct {
	Cursor uploadSessionCursor `json:"cursor"`
	Close  bool                `json:"close"`
}

type uploadSessionFinishArgs struct {
	Cursor uploadSessionCursor `json:"cursor"`
	Commit uploadArgs          `json:"commit"`
}

// Upload uploads a file in a single request, overwriting any existing
// content at path. body is a regenerable producer per the dispatcher
// contract — it is invoked fresh for each attempt, so a retry after a
// token refresh re-reads the content from the source.
func (c *Client) Upload(ctx context.Context, path string, body func() (io.Reader, error)) (*Entry, error) {
	c.logger.Info("uploading file", slog.String("path", path))

	if err := CheckPathLength(path); err != nil {
		return nil, err
	}

	args := uploadArgs{
		Path: NormalizePath(path),
		Mode: writeModeOverwrite,
	}

	var result metadataResponse
	if err := c.contentUpload(ctx, "/files/upload", args, body, &result); err != nil {
		return nil, err
	}

	entry := result.toEntry(c.logger)

	return &entry, nil
}

// UploadBytes uploads an in-memory byte slice. Convenience wrapper around
// Upload with a producer that re-slices the buffer on retry.
func (c *Client) UploadBytes(ctx context.Context, path string, data []byte) (*Entry, error) {
	return c.Upload(ctx, path, func() (io.Reader, error) {
		return bytes.NewReader(data), nil
	})
}

// UploadSessionStart opens a resumable upload session, sending the first
// chunk of content. Returns the session ID for subsequent appends.
func (c *Client) UploadSessionStart(ctx context.Context, chunk func() (io.Reader, error)) (string, error) {
	var result uploadSessionStartResponse

	err := c.contentUpload(ctx, "/files/upload_session/start", uploadSessionStartArgs{}, chunk, &result)
	if err != nil {
		return "", err
	}

	c.logger.Debug("upload session started", slog.String("session_id", result.SessionID))

	return result.SessionID, nil
}

// UploadSessionAppend adds a chunk to an open session. offset must equal
// the number of bytes the session has already received; the service rejects
// mismatches with an incorrect_offset conflict.
func (c *Client) UploadSessionAppend(ctx context.Context, sessionID string, offset int64, chunk func() (io.Reader, error)) error {
	c.logger.Debug("appending to upload session",
		slog.String("session_id", sessionID),
		slog.Int64("offset", offset),
	)

	args := uploadSessionAppendArgs{
		Cursor: uploadSessionCursor{SessionID: sessionID, Offset: offset},
	}

	return c.contentUpload(ctx, "/files/upload_session/append_v2", args, chunk, nil)
}

// UploadSessionFinish commits an upload session to a path, sending any
// final chunk of content, and returns the created entry. chunk may produce
// an empty reader when all content went through prior appends.
func (c *Client) UploadSessionFinish(ctx context.Context, sessionID string, offset int64, path string, chunk func() (io.Reader, error)) (*Entry, error) {
	c.logger.Info("finishing upload session",
		slog.String("session_id", sessionID),
		slog.String("path", path),
	)

	if err := CheckPathLength(path); err != nil {
		return nil, err
	}

	args := uploadSessionFinishArgs{
		Cursor: uploadSessionCursor{SessionID: sessionID, Offset: offset},
		Commit: uploadArgs{
			Path: NormalizePath(path),
			Mode: writeModeOverwrite,
		},
	}

	var result metadataResponse
	if err := c.contentUpload(ctx, "/files/upload_session/finish", args, chunk, &result); err != nil {
		return nil, err
	}

	entry := result.toEntry(c.logger)

	return &entry, nil
}
