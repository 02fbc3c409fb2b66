package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const userAgent = "dropbox-go/0.1"

// Default service endpoints. RPC calls (JSON in, JSON out) go to API,
// upload/download streams go to Content, and change longpolls go to Notify.
const (
	defaultAPIURL     = "https://api.dropboxapi.com/2"
	defaultContentURL = "https://content.dropboxapi.com/2"
	defaultNotifyURL  = "https://notify.dropboxapi.com/2"
)

// Endpoints are the base URLs for the three service hosts.
// Tests point these at httptest servers.
type Endpoints struct {
	API     string
	Content string
	Notify  string
}

// DefaultEndpoints returns the production service endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		API:     defaultAPIURL,
		Content: defaultContentURL,
		Notify:  defaultNotifyURL,
	}
}

// RefreshFunc obtains a fresh bearer token after the current one expires.
// It may block on network I/O and may fail; the dispatcher invokes it at
// most once per logical request and never retries after it fails.
type RefreshFunc func(ctx context.Context) (string, error)

// RequestSpec describes one logical request. Body is a regenerable
// producer, not a one-shot stream: the dispatcher invokes it once per
// attempt, so a request resent after a token refresh gets a fresh body.
// Producers must be safely callable twice (e.g. re-open a file, re-slice
// a buffer). A nil Body means the request has no body.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   func() (io.Reader, error)
}

// Client is an HTTP client for the Dropbox API. It injects the current
// bearer token into every request, classifies failures, and on the one
// curable failure — 401 with the expired_access_token tag — refreshes the
// credential and resends exactly once.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	creds      *Credentials
	refresh    RefreshFunc
	logger     *slog.Logger
}

// NewClient creates a Dropbox API client. refresh may be nil, in which case
// expired-token failures surface like any other APIError.
func NewClient(endpoints Endpoints, httpClient *http.Client, creds *Credentials, refresh RefreshFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		endpoints:  endpoints,
		httpClient: httpClient,
		creds:      creds,
		refresh:    refresh,
		logger:     logger,
	}
}

// do executes a request spec: send, classify, refresh-and-resend at most
// once. Outcomes are exactly one of a successful response, *APIError,
// *RefreshError, or a wrapped transport error. Statuses below 400 count as
// success — redirect handling is not this layer's concern.
//
// The caller is responsible for closing the response body on success.
func (c *Client) do(ctx context.Context, spec *RequestSpec) (*http.Response, error) {
	resp, err := c.send(ctx, spec)
	if err != nil {
		// Transport failure: surfaced as-is, never classified or retried.
		return nil, err
	}

	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	apiErr := c.classifyResponse(resp)
	if !errors.Is(apiErr, ErrExpiredAccessToken) || c.refresh == nil {
		return nil, apiErr
	}

	c.logger.Info("access token expired, refreshing",
		slog.String("method", spec.Method),
		slog.String("url", spec.URL),
	)

	tok, refreshErr := c.refresh(ctx)
	if refreshErr != nil {
		return nil, &RefreshError{Err: refreshErr}
	}

	c.creds.Replace(tok)

	// Resend once with the new credential and a freshly produced body.
	// Whatever comes back is final: a second expired-token failure is not
	// refreshed again, or two bad tokens would loop forever.
	resp, err = c.send(ctx, spec)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	return nil, c.classifyResponse(resp)
}

// send performs a single attempt: produce the body, build the request,
// inject the current bearer token, and execute it.
func (c *Client) send(ctx context.Context, spec *RequestSpec) (*http.Response, error) {
	var body io.Reader

	if spec.Body != nil {
		var err error

		body, err = spec.Body()
		if err != nil {
			return nil, fmt.Errorf("dropbox: producing request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: creating request: %w", err)
	}

	for key, values := range spec.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	req.Header.Set("Authorization", "Bearer "+c.creds.Current())
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dropbox: %s %s: %w", spec.Method, spec.URL, err)
	}

	return resp, nil
}

// classifyResponse drains and closes a failed response's body and hands it
// to the classifier.
func (c *Client) classifyResponse(resp *http.Response) *APIError {
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		c.logger.Warn("reading error response body",
			slog.Int("status", resp.StatusCode),
			slog.String("error", readErr.Error()),
		)

		body = nil
	}

	return Classify(resp.StatusCode, body, c.logger)
}

// rpc calls a JSON-in, JSON-out endpoint on the API host. args is marshaled
// once and replayed from memory on retry. A nil args sends no body and no
// content type, which the service requires for argument-less endpoints. A
// nil result discards the response body.
func (c *Client) rpc(ctx context.Context, path string, args, result any) error {
	spec := &RequestSpec{
		Method: http.MethodPost,
		URL:    c.endpoints.API + path,
		Header: http.Header{},
	}

	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("dropbox: marshaling %s args: %w", path, err)
		}

		spec.Header.Set("Content-Type", "application/json")
		spec.Body = func() (io.Reader, error) {
			return bytes.NewReader(data), nil
		}
	}

	resp, err := c.do(ctx, spec)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain to reuse connection
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("dropbox: decoding %s response: %w", path, err)
	}

	return nil
}

// contentUpload calls an upload-style endpoint on the content host: the
// JSON arguments travel in the Dropbox-API-Arg header and the raw bytes in
// an application/octet-stream body. body must be non-nil and regenerable —
// a resend after refresh consumes a fresh producer invocation.
func (c *Client) contentUpload(ctx context.Context, path string, args any, body func() (io.Reader, error), result any) error {
	if body == nil {
		return fmt.Errorf("%w: %s", ErrNoBody, path)
	}

	arg, err := marshalAPIArg(args)
	if err != nil {
		return fmt.Errorf("dropbox: marshaling %s arg header: %w", path, err)
	}

	header := http.Header{}
	header.Set("Dropbox-API-Arg", arg)
	header.Set("Content-Type", "application/octet-stream")

	spec := &RequestSpec{
		Method: http.MethodPost,
		URL:    c.endpoints.Content + path,
		Header: header,
		Body:   body,
	}

	resp, err := c.do(ctx, spec)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain to reuse connection
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("dropbox: decoding %s response: %w", path, err)
	}

	return nil
}

// contentDownload calls a download-style endpoint on the content host. The
// response body streams the file content; the caller owns closing it. File
// metadata rides in the Dropbox-API-Result header.
func (c *Client) contentDownload(ctx context.Context, path string, args any) (*http.Response, error) {
	arg, err := marshalAPIArg(args)
	if err != nil {
		return nil, fmt.Errorf("dropbox: marshaling %s arg header: %w", path, err)
	}

	header := http.Header{}
	header.Set("Dropbox-API-Arg", arg)

	spec := &RequestSpec{
		Method: http.MethodPost,
		URL:    c.endpoints.Content + path,
		Header: header,
	}

	return c.do(ctx, spec)
}

// marshalAPIArg renders args as JSON safe for an HTTP header value: bytes
// outside printable ASCII are \uXXXX-escaped, as the service requires for
// the Dropbox-API-Arg side channel.
func marshalAPIArg(args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	for _, r := range string(data) {
		if r >= 0x20 && r <= 0x7e {
			sb.WriteRune(r)
			continue
		}

		if r > 0xffff {
			// Encode astral-plane runes as a UTF-16 surrogate pair.
			r -= 0x10000
			fmt.Fprintf(&sb, "\\u%04x\\u%04x", 0xd800+(r>>10), 0xdc00+(r&0x3ff))

			continue
		}

		fmt.Fprintf(&sb, "\\u%04x", r)
	}

	return sb.String(), nil
}
