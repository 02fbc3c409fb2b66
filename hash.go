package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/pkg/contenthash"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <local-path>...",
		Short: "Compute the Dropbox content hash of local files",
		Long: `Compute the Dropbox content hash of one or more local files.

The content hash is what 'stat' reports for remote files: the file is
split into 4 MiB chunks, each chunk is hashed with SHA-256, and the
concatenated digests are hashed again. Comparing the two values checks
file integrity without downloading.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runHash,
	}
}

func runHash(_ *cobra.Command, args []string) error {
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %q: %w", path, err)
		}

		sum, err := contenthash.SumHex(f)
		f.Close()

		if err != nil {
			return fmt.Errorf("hashing %q: %w", path, err)
		}

		fmt.Printf("%s  %s\n", sum, path)
	}

	return nil
}
