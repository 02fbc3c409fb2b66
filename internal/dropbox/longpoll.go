package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Longpoll timeout bounds enforced by the notify endpoint.
const (
	minLongpollTimeout = 30 * time.Second
	maxLongpollTimeout = 480 * time.Second
)

type longpollArgs struct {
	Cursor  string `json:"cursor"`
	Timeout int64  `json:"timeout"`
}

type longpollResponse struct {
	Changes bool  `json:"changes"`
	Backoff int64 `json:"backoff"`
}

// Longpoll blocks until the folder behind cursor changes or timeout
// elapses. Returns whether changes occurred and a server-requested backoff
// to honor before polling again (zero when none).
//
// The notify endpoint takes no Authorization header — the cursor alone
// scopes the poll — so this bypasses the dispatcher and its refresh logic.
// The transport timeout must exceed the longpoll timeout; callers using a
// short-timeout http.Client should pass a dedicated one to NewClient.
func (c *Client) Longpoll(ctx context.Context, cursor string, timeout time.Duration) (bool, time.Duration, error) {
	if timeout < minLongpollTimeout {
		timeout = minLongpollTimeout
	}

	if timeout > maxLongpollTimeout {
		timeout = maxLongpollTimeout
	}

	c.logger.Debug("longpolling for changes",
		slog.Duration("timeout", timeout),
	)

	args := longpollArgs{Cursor: cursor, Timeout: int64(timeout.Seconds())}

	data, err := json.Marshal(args)
	if err != nil {
		return false, 0, fmt.Errorf("dropbox: marshaling longpoll args: %w", err)
	}

	url := c.endpoints.Notify + "/files/list_folder/longpoll"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return false, 0, fmt.Errorf("dropbox: creating longpoll request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("dropbox: longpoll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for classification

		return false, 0, Classify(resp.StatusCode, body, c.logger)
	}

	var result longpollResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, 0, fmt.Errorf("dropbox: decoding longpoll response: %w", err)
	}

	return result.Changes, time.Duration(result.Backoff) * time.Second, nil
}
