package dropbox

import (
	"log/slog"
	"time"
)

// Entry represents a file or folder in the user's Dropbox.
// Fields are normalized from the API response — callers never see raw API data.
type Entry struct {
	ID             string
	Name           string
	PathLower      string // canonical lowercased path, the service's identity for the entry
	PathDisplay    string // cased as the user typed it
	IsFolder       bool
	IsDeleted      bool
	Size           int64
	Rev            string // opaque revision, changes on every content write
	ContentHash    string // two-level chunked SHA-256, lowercase hex (files only)
	ClientModified time.Time
	ServerModified time.Time
}

// metadataResponse mirrors the service's Metadata JSON exactly.
// Unexported — callers use Entry via toEntry() normalization.
type metadataResponse struct {
	Tag            string `json:".tag"` //nolint:tagliatelle // Dropbox union discriminator key
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathLower      string `json:"path_lower"`
	PathDisplay    string `json:"path_display"`
	Size           int64  `json:"size"`
	Rev            string `json:"rev"`
	ContentHash    string `json:"content_hash"`
	ClientModified string `json:"client_modified"`
	ServerModified string `json:"server_modified"`
}

// toEntry normalizes a raw metadata response into our Entry type.
// Unparsable timestamps are zeroed with a warning rather than failing the
// whole call.
func (m *metadataResponse) toEntry(logger *slog.Logger) Entry {
	return Entry{
		ID:             m.ID,
		Name:           m.Name,
		PathLower:      m.PathLower,
		PathDisplay:    m.PathDisplay,
		IsFolder:       m.Tag == "folder",
		IsDeleted:      m.Tag == "deleted",
		Size:           m.Size,
		Rev:            m.Rev,
		ContentHash:    m.ContentHash,
		ClientModified: parseTime(m.ClientModified, logger),
		ServerModified: parseTime(m.ServerModified, logger),
	}
}

func parseTime(s string, logger *slog.Logger) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		logger.Warn("unparsable timestamp in API response",
			slog.String("value", s),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	return t
}
