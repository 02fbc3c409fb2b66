// Package dropbox provides an HTTP client for the Dropbox API with bearer
// authentication, transparent refresh of expired access tokens, and error
// classification.
package dropbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, dropbox.ErrExpiredAccessToken) to check.
var (
	ErrBadRequest         = errors.New("dropbox: bad request")
	ErrUnauthorized       = errors.New("dropbox: unauthorized")
	ErrExpiredAccessToken = errors.New("dropbox: access token expired")
	ErrForbidden          = errors.New("dropbox: forbidden")
	ErrNotFound           = errors.New("dropbox: not found")
	ErrConflict           = errors.New("dropbox: conflict")
	ErrTooManyRequests    = errors.New("dropbox: too many requests")
	ErrServerError        = errors.New("dropbox: server error")
)

// ErrNoBody is returned when an operation that requires a request body is
// called with a nil body producer. This is a caller bug — it fails
// synchronously, before any network I/O.
var ErrNoBody = errors.New("dropbox: request requires a body producer")

// TagExpiredAccessToken is the machine-readable discriminator the service
// attaches to the one 401 variant that a credential refresh can cure.
const TagExpiredAccessToken = "expired_access_token"

// APIError is a structured application-level rejection: the HTTP status plus
// whatever the service's error body carried. Summary and Tag are empty when
// the body could not be parsed as structured JSON.
type APIError struct {
	StatusCode int
	Summary    string // error_summary, human-readable
	Tag        string // nested error .tag, machine-readable
	Err        error  // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("dropbox: HTTP %d: %s", e.StatusCode, e.Summary)
	}

	return fmt.Sprintf("dropbox: HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RefreshError reports that the credential refresh callback itself failed.
// It is deliberately distinct from APIError so callers can tell "could not
// refresh credential" (re-authentication needed) apart from "API rejected
// request".
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("dropbox: refreshing credential: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// apiErrorBody mirrors the service's error JSON:
//
//	{"error_summary": "expired_access_token/..", "error": {".tag": "expired_access_token"}}
type apiErrorBody struct {
	ErrorSummary string `json:"error_summary"`
	Error        struct {
		Tag string `json:".tag"` //nolint:tagliatelle // Dropbox union discriminator key
	} `json:"error"`
}

// Classify parses a failed HTTP response body into an APIError. It always
// succeeds: a malformed or non-JSON body degrades to an APIError carrying
// only the status code, logged at warning level. statusCode is expected to
// be >= 400.
func Classify(statusCode int, body []byte, logger *slog.Logger) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		logger.Warn("unparsable API error body",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	} else {
		apiErr.Summary = parsed.ErrorSummary
		apiErr.Tag = parsed.Error.Tag
	}

	apiErr.Err = classifyStatus(statusCode, apiErr.Tag)

	return apiErr
}

// classifyStatus maps a status code and error tag to a sentinel error.
// The expired-token tag takes precedence over the generic 401 sentinel
// because it is the one failure the dispatcher can cure.
func classifyStatus(code int, tag string) error {
	if code == http.StatusUnauthorized && tag == TagExpiredAccessToken {
		return ErrExpiredAccessToken
	}

	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrTooManyRequests
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
