package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/config"
	"github.com/tonimelisma/dropbox-go/internal/dropbox"
)

// longpollTransportMargin is added to the HTTP client timeout so the
// transport outlives the server-side longpoll window.
const longpollTransportMargin = 30 * time.Second

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a folder for changes",
		Long: `Watch a remote folder and print changes as they happen.

Uses the service's longpoll endpoint, so the command blocks cheaply
between changes. Interrupt with Ctrl-C to stop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	creds, err := dropbox.CredentialsFromPath(config.TokenPath())
	if err != nil {
		return fmt.Errorf("not logged in — run 'dropbox-go login' first")
	}

	// Longpoll holds connections open for the full poll window, so the
	// watch client needs a much longer transport timeout than normal calls.
	httpClient := &http.Client{Timeout: resolvedCfg.LongpollTimeout + longpollTransportMargin}
	refresh := dropbox.NewRefreshFunc(config.TokenPath(), logger)
	client := dropbox.NewClient(dropbox.DefaultEndpoints(), httpClient, creds, refresh, logger)

	// Establish a cursor at the current state of the folder; everything
	// after this point is a change.
	_, cursor, err := client.ListFolderAll(ctx, remotePath, true)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	statusf("Watching %s for changes...\n", remotePath)

	for {
		changes, backoff, err := client.Longpoll(ctx, cursor, resolvedCfg.LongpollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("polling for changes: %w", err)
		}

		if backoff > 0 {
			logger.Debug("server requested backoff", "backoff", backoff)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
		}

		if !changes {
			continue
		}

		cursor, err = printChanges(ctx, client, cursor)
		if err != nil {
			return err
		}
	}
}

// printChanges drains the cursor and prints each changed entry, returning
// the advanced cursor.
func printChanges(ctx context.Context, client *dropbox.Client, cursor string) (string, error) {
	for {
		entries, next, hasMore, err := client.ListFolderContinue(ctx, cursor)
		if err != nil {
			return "", fmt.Errorf("fetching changes: %w", err)
		}

		for i := range entries {
			printChange(&entries[i])
		}

		cursor = next
		if !hasMore {
			return cursor, nil
		}
	}
}

func printChange(entry *dropbox.Entry) {
	switch {
	case entry.IsDeleted:
		fmt.Printf("deleted  %s\n", entry.PathDisplay)
	case entry.IsFolder:
		fmt.Printf("folder   %s\n", entry.PathDisplay)
	default:
		fmt.Printf("changed  %s (%s)\n", entry.PathDisplay, formatSize(entry.Size))
	}
}
