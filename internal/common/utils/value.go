package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// StringOrNil returns a pointer to the string if it's not empty, otherwise nil.
// Useful for converting empty strings to NULL values in database operations.
func StringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringFromPtr safely dereferences a string pointer.
func StringFromPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases a string and collapses runs of non-alphanumerics into
// single hyphens.
func Slugify(s string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}

// ParseDuration parses a duration string, extending time.ParseDuration with
// days ("d") and weeks ("w").
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 {
		return time.Duration(days) * 24 * time.Hour, nil
	}

	var weeks int
	if n, err := fmt.Sscanf(s, "%dw", &weeks); err == nil && n == 1 {
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}
