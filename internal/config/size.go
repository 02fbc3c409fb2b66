package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Size unit multipliers. Binary units (KiB) are powers of two; decimal
// units (KB) are powers of ten, matching how users write them.
const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
	kb  = 1000
	mb  = 1000 * kb
	gb  = 1000 * mb
)

var sizeUnits = map[string]int64{
	"":    1,
	"b":   1,
	"kib": kib,
	"mib": mib,
	"gib": gib,
	"kb":  kb,
	"mb":  mb,
	"gb":  gb,
}

// ParseSize parses a human-readable size string ("8MiB", "100kb", "4096")
// into a byte count.
func ParseSize(s string) (int64, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))

	digits := strings.TrimRightFunc(trimmed, func(r rune) bool {
		return r < '0' || r > '9'
	})
	unit := strings.TrimSpace(trimmed[len(digits):])

	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("config: unknown size unit %q in %q", unit, s)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size %q: %w", s, err)
	}

	return n * mult, nil
}
