package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/config"
	"github.com/tonimelisma/dropbox-go/internal/dropbox"
	"github.com/tonimelisma/dropbox-go/internal/transfer"
	"github.com/tonimelisma/dropbox-go/pkg/contenthash"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list folders recursively")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file or directory",
		Long: `Upload a file or directory to Dropbox.

Files at or above the session threshold (16 MiB by default) upload in
chunks through a resumable session. Interrupted uploads resume from the
last committed chunk when the same command is re-run.

Directories upload all contained files in parallel.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runPut,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder on Dropbox. Deleted items can be restored
from the Dropbox web interface until the account's retention window ends.

Folder deletion is recursive — all contents will be deleted.
Use --recursive (-r) to confirm intent when deleting folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (parents created automatically)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from-path> <to-path>",
		Short: "Move or rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("ls", "path", remotePath, "recursive", recursive)

	entries, _, err := client.ListFolderAll(ctx, remotePath, recursive)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		return printEntriesJSON(entries)
	}

	printEntriesTable(entries)

	return nil
}

// lsJSONEntry is the JSON output schema for a single entry in ls output.
type lsJSONEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Rev        string `json:"rev,omitempty"`
}

func printEntriesJSON(entries []dropbox.Entry) error {
	out := make([]lsJSONEntry, 0, len(entries))
	for i := range entries {
		e := lsJSONEntry{
			Name:     entries[i].Name,
			Path:     entries[i].PathDisplay,
			Size:     entries[i].Size,
			IsFolder: entries[i].IsFolder,
			Rev:      entries[i].Rev,
		}

		if !entries[i].ServerModified.IsZero() {
			e.ModifiedAt = entries[i].ServerModified.UTC().Format("2006-01-02T15:04:05Z")
		}

		out = append(out, e)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printEntriesTable(entries []dropbox.Entry) {
	// Sort: folders first, then alphabetical by display path.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsFolder != entries[j].IsFolder {
			return entries[i].IsFolder
		}

		return entries[i].PathDisplay < entries[j].PathDisplay
	})

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(entries))

	for i := range entries {
		name := strings.TrimPrefix(entries[i].PathDisplay, "/")
		size := formatSize(entries[i].Size)

		if entries[i].IsFolder {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(entries[i].ServerModified)})
	}

	printTable(os.Stdout, headers, rows)
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("get", "remote_path", remotePath)

	localPath := path.Base(dropbox.NormalizePath(remotePath))
	if len(args) > 1 {
		localPath = args[1]
	}

	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("creating partial file for download: %w", err)
	}

	n, entry, dlErr := client.Download(ctx, remotePath, f)
	f.Close()

	if dlErr != nil {
		os.Remove(partialPath)
		return fmt.Errorf("downloading %q: %w", remotePath, dlErr)
	}

	// Verify hash if the result metadata carries one.
	if entry != nil && entry.ContentHash != "" {
		if err := verifyDownloadHash(partialPath, entry.ContentHash, remotePath); err != nil {
			return err
		}
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, localPath); err != nil {
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	logger.Debug("download complete", "local_path", localPath, "bytes", n)
	statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

	return nil
}

// verifyDownloadHash checks the downloaded .partial file against the remote
// content hash. Deletes the partial on mismatch.
func verifyDownloadHash(partialPath, remoteHash, remotePath string) error {
	f, err := os.Open(partialPath)
	if err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("opening downloaded file for hashing: %w", err)
	}

	localHash, err := contenthash.SumHex(f)
	f.Close()

	if err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("hashing downloaded file: %w", err)
	}

	if localHash != remoteHash {
		os.Remove(partialPath)
		return fmt.Errorf("hash mismatch after download of %q (deleted, try again)", remotePath)
	}

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	ctx := cmd.Context()

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local path: %w", err)
	}

	// Default remote path is root + local base name.
	remotePath := "/" + filepath.Base(localPath)
	if len(args) > 1 {
		remotePath = args[1]
	}

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	manager, store := newTransferManager(client, logger)
	if store != nil {
		defer store.Close()
	}

	if fi.IsDir() {
		return putDirectory(cmd, manager, localPath, remotePath, logger)
	}

	logger.Debug("put", "local_path", localPath, "remote_path", remotePath, "size", fi.Size())

	entry, err := manager.UploadFile(ctx, localPath, remotePath)
	if err != nil {
		if fi.Size() >= resolvedCfg.SessionThreshold {
			statusf("Upload session saved. Re-run the same command to resume.\n")
		}

		return fmt.Errorf("uploading %q: %w", remotePath, err)
	}

	logger.Debug("upload complete", "remote_path", entry.PathDisplay, "size", entry.Size)
	statusf("Uploaded %s (%s)\n", remotePath, formatSize(entry.Size))

	return nil
}

// putDirectory uploads every regular file under localDir in parallel,
// mirroring the directory layout under remotePrefix.
func putDirectory(cmd *cobra.Command, manager *transfer.Manager, localDir, remotePrefix string, logger *slog.Logger) error {
	var jobs []transfer.Job

	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}

		jobs = append(jobs, transfer.Job{
			LocalPath:  p,
			RemotePath: path.Join(remotePrefix, filepath.ToSlash(rel)),
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %q: %w", localDir, err)
	}

	if len(jobs) == 0 {
		statusf("Nothing to upload in %s\n", localDir)
		return nil
	}

	report, err := manager.UploadAll(shutdownContext(cmd.Context(), logger), jobs)
	if err != nil {
		return err
	}

	statusf("Uploaded %d file(s) (%s)\n", report.Uploaded, formatSize(report.Bytes))

	if len(report.Errors) > 0 {
		for _, je := range report.Errors {
			fmt.Fprintf(os.Stderr, "failed: %s: %v\n", je.Job.LocalPath, je.Err)
		}

		return fmt.Errorf("%d upload(s) failed", len(report.Errors))
	}

	return nil
}

// newTransferManager assembles an upload manager backed by the session
// ledger. A ledger open failure downgrades to no resume support rather
// than blocking the upload. The returned store may be nil; the caller
// closes it when non-nil.
func newTransferManager(client *dropbox.Client, logger *slog.Logger) (*transfer.Manager, *transfer.Store) {
	var store *transfer.Store

	if dataDir := config.DefaultDataDir(); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o700); err == nil {
			if s, err := transfer.NewStore(config.LedgerPath(), logger); err == nil {
				store = s
			} else {
				logger.Warn("transfer ledger unavailable, uploads will not resume", "error", err)
			}
		}
	}

	if store != nil {
		if _, err := store.PruneStale(context.Background()); err != nil {
			logger.Warn("pruning stale upload sessions failed", "error", err)
		}
	}

	manager := transfer.NewManager(client, store, transfer.Options{
		ChunkSize:        resolvedCfg.ChunkSize,
		SessionThreshold: resolvedCfg.SessionThreshold,
		Workers:          resolvedCfg.ParallelUploads,
	}, logger)

	return manager, store
}

// rmJSONOutput is the JSON output schema for the rm command.
type rmJSONOutput struct {
	Deleted string `json:"deleted"`
}

func runRm(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("rm", "path", remotePath)

	entry, err := client.GetMetadata(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	if entry.IsFolder && !recursive {
		return fmt.Errorf("cannot delete folder %q without --recursive (-r) flag", remotePath)
	}

	if _, err := client.Delete(ctx, remotePath); err != nil {
		return fmt.Errorf("deleting %q: %w", remotePath, err)
	}

	logger.Debug("delete complete", "path", remotePath)

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(rmJSONOutput{Deleted: remotePath})
	}

	statusf("Deleted %s\n", remotePath)

	return nil
}

// mkdirJSONOutput is the JSON output schema for the mkdir command.
type mkdirJSONOutput struct {
	Created string `json:"created"`
	ID      string `json:"id"`
}

func runMkdir(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("mkdir", "path", remotePath)

	entry, err := client.CreateFolder(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("creating folder %q: %w", remotePath, err)
	}

	logger.Debug("mkdir complete", "path", entry.PathDisplay, "id", entry.ID)

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(mkdirJSONOutput{Created: entry.PathDisplay, ID: entry.ID})
	}

	statusf("Created %s\n", entry.PathDisplay)

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	fromPath, toPath := args[0], args[1]
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("mv", "from", fromPath, "to", toPath)

	entry, err := client.Move(ctx, fromPath, toPath)
	if err != nil {
		return fmt.Errorf("moving %q to %q: %w", fromPath, toPath, err)
	}

	statusf("Moved %s -> %s\n", fromPath, entry.PathDisplay)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	client, logger, err := newAPIClient(ctx)
	if err != nil {
		return err
	}

	logger.Debug("stat", "path", remotePath)

	entry, err := client.GetMetadata(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if flagJSON {
		return printStatJSON(entry)
	}

	printStatText(entry)

	return nil
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsFolder    bool   `json:"is_folder"`
	ModifiedAt  string `json:"modified_at,omitempty"`
	Rev         string `json:"rev,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

func printStatJSON(entry *dropbox.Entry) error {
	out := statJSONOutput{
		ID:          entry.ID,
		Name:        entry.Name,
		Path:        entry.PathDisplay,
		Size:        entry.Size,
		IsFolder:    entry.IsFolder,
		Rev:         entry.Rev,
		ContentHash: entry.ContentHash,
	}

	if !entry.ServerModified.IsZero() {
		out.ModifiedAt = entry.ServerModified.UTC().Format("2006-01-02T15:04:05Z")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatText(entry *dropbox.Entry) {
	entryType := "file"
	if entry.IsFolder {
		entryType = "folder"
	}

	fmt.Printf("Name:     %s\n", entry.Name)
	fmt.Printf("Path:     %s\n", entry.PathDisplay)
	fmt.Printf("Type:     %s\n", entryType)

	if !entry.IsFolder {
		fmt.Printf("Size:     %s (%d bytes)\n", formatSize(entry.Size), entry.Size)
	}

	if !entry.ServerModified.IsZero() {
		fmt.Printf("Modified: %s\n", entry.ServerModified.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	fmt.Printf("ID:       %s\n", entry.ID)

	if entry.Rev != "" {
		fmt.Printf("Rev:      %s\n", entry.Rev)
	}

	if entry.ContentHash != "" {
		fmt.Printf("Hash:     %s\n", entry.ContentHash)
	}
}
