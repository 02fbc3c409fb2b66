package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/config"
	"github.com/tonimelisma/dropbox-go/internal/dropbox"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Dropbox in your browser",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	logger.Info("login started")

	err := dropbox.LoginWithBrowser(ctx, config.TokenPath(), func(url string) error {
		// The authorization URL must always be visible — not suppressed by --quiet.
		fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", url)
		return openBrowser(url)
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("login successful")
	statusf("Login successful.\n")

	return nil
}

// openBrowser launches the platform's URL handler. Failure is not fatal:
// the URL is already printed, the user can open it by hand.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	logger.Info("logout started")

	if err := dropbox.Logout(config.TokenPath(), logger); err != nil {
		return err
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("whoami")

	account, err := client.GetCurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			AccountID:   account.AccountID,
			DisplayName: account.DisplayName,
			Email:       account.Email,
		})
	}

	fmt.Printf("User:  %s (%s)\n", account.DisplayName, account.Email)
	fmt.Printf("ID:    %s\n", account.AccountID)

	return nil
}
