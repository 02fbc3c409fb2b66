package dropbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/dropbox-go/internal/tokenfile"
)

// ErrNotLoggedIn is returned when no saved token exists for the account.
var ErrNotLoggedIn = errors.New("dropbox: not logged in (run 'dropbox-go login')")

// Dropbox OAuth2 app registered for dropbox-go (public client, PKCE, no secret).
const defaultAppKey = "q0nq0kgiwq83a2b"

const (
	authorizeURL = "https://www.dropbox.com/oauth2/authorize"
	tokenURL     = "https://api.dropboxapi.com/oauth2/token"
)

var defaultScopes = []string{
	"account_info.read",
	"files.metadata.read",
	"files.content.read",
	"files.content.write",
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackTimeout bounds the callback server's header read and shutdown drain.
const callbackTimeout = 5 * time.Second

// oauthConfig builds the oauth2.Config for the Dropbox token endpoint.
func oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: defaultAppKey,
		Scopes:   defaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authorizeURL,
			TokenURL: tokenURL,
		},
	}
}

// NewRefreshFunc returns the refresh callback the dispatcher invokes when
// the service reports an expired access token. Each invocation exchanges
// the saved refresh token for a fresh access token and persists the result.
// Concurrent invocations are tolerated; the last persisted token wins.
func NewRefreshFunc(tokenPath string, logger *slog.Logger) RefreshFunc {
	return newRefreshFunc(tokenPath, oauthConfig(), logger)
}

// newRefreshFunc accepts a pre-built oauth2.Config so tests can inject a
// mock token endpoint.
func newRefreshFunc(tokenPath string, cfg *oauth2.Config, logger *slog.Logger) RefreshFunc {
	return func(ctx context.Context) (string, error) {
		tok, meta, err := tokenfile.Load(tokenPath)
		if err != nil {
			return "", err
		}

		if tok == nil {
			return "", ErrNotLoggedIn
		}

		// Force the refresh regardless of the stored expiry — the service
		// just rejected the access token, so the local clock lost.
		stale := *tok
		stale.Expiry = time.Now().Add(-time.Minute)

		fresh, err := cfg.TokenSource(ctx, &stale).Token()
		if err != nil {
			return "", fmt.Errorf("exchanging refresh token: %w", err)
		}

		logger.Info("access token refreshed",
			slog.Time("expiry", fresh.Expiry),
		)

		if saveErr := tokenfile.Save(tokenPath, fresh, meta); saveErr != nil {
			// The in-memory token is still good; persistence failure only
			// costs a refresh on the next process start.
			logger.Warn("failed to persist refreshed token",
				slog.String("path", tokenPath),
				slog.String("error", saveErr.Error()),
			)
		}

		return fresh.AccessToken, nil
	}
}

// CredentialsFromPath loads the saved token and seeds a credential store
// with its access token. Returns ErrNotLoggedIn when no token file exists.
func CredentialsFromPath(tokenPath string) (*Credentials, error) {
	tok, _, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	return NewCredentials(tok.AccessToken), nil
}

// callbackResult carries the authorization code or error from the loopback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to the Dropbox authorization endpoint with
//     token_access_type=offline so a refresh token is issued
//  3. Receives the loopback callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//  5. Saves the token to disk at tokenPath
//
// openURL is called with the authorization URL; if it fails, the URL is
// printed to stderr so the user can open it manually.
func LoginWithBrowser(ctx context.Context, tokenPath string, openURL func(string) error, logger *slog.Logger) error {
	logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("path", tokenPath),
	)

	cfg := oauthConfig()

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("dropbox: generating state token: %w", err)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	)

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return err
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("dropbox: token exchange failed: %w", err)
	}

	if saveErr := tokenfile.Save(tokenPath, tok, nil); saveErr != nil {
		return fmt.Errorf("dropbox: saving token: %w", saveErr)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// Logout removes the saved token file. Returns nil if none exists.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	logger.Info("logout: token file removed",
		slog.String("path", tokenPath),
	)

	return nil
}
