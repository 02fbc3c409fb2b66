package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Download streams the content of the file at path to w and returns the
// byte count plus the entry metadata carried in the Dropbox-API-Result
// header. Only the request/response cycle goes through the dispatcher;
// streaming happens after it returns, so a mid-stream failure surfaces
// from the copy, not as a classified error.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, *Entry, error) {
	c.logger.Info("downloading file", slog.String("path", path))

	resp, err := c.contentDownload(ctx, "/files/download", pathArgs{Path: NormalizePath(path)})
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	entry := c.parseResultHeader(resp.Header.Get("Dropbox-API-Result"))

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("path", path),
			slog.Int64("bytes_before_error", n),
			slog.String("error", copyErr.Error()),
		)

		return n, entry, fmt.Errorf("dropbox: streaming download content: %w", copyErr)
	}

	c.logger.Debug("download complete",
		slog.String("path", path),
		slog.Int64("bytes_written", n),
	)

	return n, entry, nil
}

// parseResultHeader decodes the metadata side channel of a content
// download. A missing or malformed header degrades to nil metadata with a
// warning — the downloaded bytes are still good.
func (c *Client) parseResultHeader(raw string) *Entry {
	if raw == "" {
		return nil
	}

	var meta metadataResponse
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		c.logger.Warn("unparsable Dropbox-API-Result header",
			slog.String("error", err.Error()),
		)

		return nil
	}

	entry := meta.toEntry(c.logger)

	return &entry
}
