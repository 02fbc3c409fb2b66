package dropbox

import (
	"context"
	"log/slog"
)

// listFolderPageSize is the limit value for ListFolder requests.
// 2000 is the maximum the service allows per page.
const listFolderPageSize = 2000

type listFolderArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Limit     uint32 `json:"limit,omitempty"`
}

type listFolderContinueArgs struct {
	Cursor string `json:"cursor"`
}

type listFolderResponse struct {
	Entries []metadataResponse `json:"entries"`
	Cursor  string             `json:"cursor"`
	HasMore bool               `json:"has_more"`
}

type pathArgs struct {
	Path string `json:"path"`
}

type metadataResult struct {
	Metadata metadataResponse `json:"metadata"`
}

type createFolderArgs struct {
	Path       string `json:"path"`
	Autorename bool   `json:"autorename"`
}

type moveArgs struct {
	FromPath   string `json:"from_path"`
	ToPath     string `json:"to_path"`
	Autorename bool   `json:"autorename"`
}

// ListFolder returns one page of entries under path ("" for the Dropbox
// root). The returned cursor feeds ListFolderContinue when hasMore is true.
func (c *Client) ListFolder(ctx context.Context, path string, recursive bool) (entries []Entry, cursor string, hasMore bool, err error) {
	c.logger.Debug("listing folder",
		slog.String("path", path),
		slog.Bool("recursive", recursive),
	)

	args := listFolderArgs{
		Path:      NormalizePath(path),
		Recursive: recursive,
		Limit:     listFolderPageSize,
	}

	var result listFolderResponse
	if err := c.rpc(ctx, "/files/list_folder", args, &result); err != nil {
		return nil, "", false, err
	}

	return c.toEntries(result.Entries), result.Cursor, result.HasMore, nil
}

// ListFolderContinue retrieves the next page for a cursor from a previous
// ListFolder or ListFolderContinue call.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (entries []Entry, next string, hasMore bool, err error) {
	var result listFolderResponse
	if err := c.rpc(ctx, "/files/list_folder/continue", listFolderContinueArgs{Cursor: cursor}, &result); err != nil {
		return nil, "", false, err
	}

	return c.toEntries(result.Entries), result.Cursor, result.HasMore, nil
}

// ListFolderAll lists a folder to exhaustion, following pagination.
// Returns the final cursor, usable with Longpoll to watch for changes.
func (c *Client) ListFolderAll(ctx context.Context, path string, recursive bool) ([]Entry, string, error) {
	entries, cursor, hasMore, err := c.ListFolder(ctx, path, recursive)
	if err != nil {
		return nil, "", err
	}

	for hasMore {
		var page []Entry

		page, cursor, hasMore, err = c.ListFolderContinue(ctx, cursor)
		if err != nil {
			return nil, "", err
		}

		entries = append(entries, page...)
	}

	return entries, cursor, nil
}

// GetMetadata returns the metadata for a single file or folder.
func (c *Client) GetMetadata(ctx context.Context, path string) (*Entry, error) {
	var result metadataResponse
	if err := c.rpc(ctx, "/files/get_metadata", pathArgs{Path: NormalizePath(path)}, &result); err != nil {
		return nil, err
	}

	entry := result.toEntry(c.logger)

	return &entry, nil
}

// CreateFolder creates a folder at path. The service rejects the call with
// a conflict error if something already exists there.
func (c *Client) CreateFolder(ctx context.Context, path string) (*Entry, error) {
	c.logger.Info("creating folder", slog.String("path", path))

	if err := CheckPathLength(path); err != nil {
		return nil, err
	}

	args := createFolderArgs{Path: NormalizePath(path)}

	var result metadataResult
	if err := c.rpc(ctx, "/files/create_folder_v2", args, &result); err != nil {
		return nil, err
	}

	entry := result.Metadata.toEntry(c.logger)

	return &entry, nil
}

// Delete removes a file or folder. Folder deletion is recursive on the
// service side. The deleted entry's last metadata is returned.
func (c *Client) Delete(ctx context.Context, path string) (*Entry, error) {
	c.logger.Info("deleting item", slog.String("path", path))

	var result metadataResult
	if err := c.rpc(ctx, "/files/delete_v2", pathArgs{Path: NormalizePath(path)}, &result); err != nil {
		return nil, err
	}

	entry := result.Metadata.toEntry(c.logger)

	return &entry, nil
}

// Move relocates or renames a file or folder.
func (c *Client) Move(ctx context.Context, fromPath, toPath string) (*Entry, error) {
	c.logger.Info("moving item",
		slog.String("from", fromPath),
		slog.String("to", toPath),
	)

	if err := CheckPathLength(toPath); err != nil {
		return nil, err
	}

	args := moveArgs{
		FromPath: NormalizePath(fromPath),
		ToPath:   NormalizePath(toPath),
	}

	var result metadataResult
	if err := c.rpc(ctx, "/files/move_v2", args, &result); err != nil {
		return nil, err
	}

	entry := result.Metadata.toEntry(c.logger)

	return &entry, nil
}

func (c *Client) toEntries(raw []metadataResponse) []Entry {
	entries := make([]Entry, 0, len(raw))
	for i := range raw {
		entries = append(entries, raw[i].toEntry(c.logger))
	}

	return entries
}
