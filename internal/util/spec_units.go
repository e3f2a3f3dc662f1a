package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSpecDuration parses the configuration document's duration shorthand,
// `<integer><s|m|h|d>` (e.g. "30s", "5m", "2h", "1d"). time.ParseDuration
// doesn't understand the "d" suffix, so days are handled separately.
func ParseSpecDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// ParseSpecSize parses the configuration document's size shorthand,
// `<integer>[KMGT]B` (e.g. "10MB", "256KB", "1GB"). A bare integer is
// treated as a byte count.
func ParseSpecSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	upper := strings.ToUpper(s)
	multiplier := int64(1)
	numeric := upper

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1 << 10
		numeric = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1 << 20
		numeric = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1 << 30
		numeric = strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "TB"):
		multiplier = 1 << 40
		numeric = strings.TrimSuffix(upper, "TB")
	case strings.HasSuffix(upper, "B"):
		numeric = strings.TrimSuffix(upper, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(numeric), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * multiplier, nil
}
