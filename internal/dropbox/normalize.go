package dropbox

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxFileNameLength is the service's per-segment path component limit,
// counted in characters.
const maxFileNameLength = 255

// NormalizePath converts a user-supplied path into the form the API
// expects: NFC-normalized, leading slash, no trailing slash, and the empty
// string for the Dropbox root. The service stores paths NFC-normalized, so
// sending NFD (macOS filesystems) would create lookalike duplicates.
func NormalizePath(path string) string {
	path = norm.NFC.String(path)
	path = strings.Trim(path, "/")

	if path == "" {
		return ""
	}

	return "/" + path
}

// CheckPathLength verifies every path segment fits the service's name
// length limit. Counted in characters, not bytes — multibyte names are not
// penalized.
func CheckPathLength(path string) error {
	for _, segment := range strings.Split(path, "/") {
		if n := utf8.RuneCountInString(segment); n > maxFileNameLength {
			return fmt.Errorf("dropbox: path segment is %d characters, limit is %d",
				n, maxFileNameLength)
		}
	}

	return nil
}
