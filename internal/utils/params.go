// Package utils provides small, generic helpers for parsing request
// parameters. These utilities are independent of domain or business logic.
package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidID is returned for ids that are not positive integers.
var ErrInvalidID = errors.New("id must be a positive integer")

// AtoiDefault converts s to an int, returning def when s is empty or not a
// valid integer.
//
//	n := utils.AtoiDefault("42", 0) // 42
//	n = utils.AtoiDefault("", 10)   // 10
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParseID parses a positive int64 identifier (community, user, case, note).
func ParseID(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidID
	}
	return n, nil
}

// ParseOptionalID is ParseID for optional filters: empty input yields nil.
func ParseOptionalID(s string) (*int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := ParseID(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseCursor parses a "before" cursor. Empty or "0" means first page.
func ParseCursor(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("cursor must be a non-negative integer")
	}
	return n, nil
}

// ParseTime accepts RFC 3339 timestamps or unix seconds and returns UTC.
// Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.New("time must be RFC 3339 or unix seconds")
	}
	return t.UTC(), nil
}
