package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CaseKind enumerates the moderation actions a case can record.
type CaseKind string

const (
	KindBan         CaseKind = "ban"
	KindKick        CaseKind = "kick"
	KindTimeout     CaseKind = "timeout"
	KindWarn        CaseKind = "warn"
	KindAutoTimeout CaseKind = "auto_timeout"
)

// kindCodes maps each kind to the short code used in case labels.
var kindCodes = map[CaseKind]string{
	KindBan:         "B",
	KindKick:        "K",
	KindTimeout:     "T",
	KindWarn:        "W",
	KindAutoTimeout: "AT",
}

// ParseCaseKind accepts the canonical kind name, case-insensitively.
func ParseCaseKind(s string) (CaseKind, bool) {
	k := CaseKind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := kindCodes[k]
	return k, ok
}

// Valid reports whether k is a known kind.
func (k CaseKind) Valid() bool {
	_, ok := kindCodes[k]
	return ok
}

// Code returns the label prefix for k ("W", "AT", ...).
func (k CaseKind) Code() string { return kindCodes[k] }

// Bounded reports whether cases of this kind carry a duration and can expire.
func (k CaseKind) Bounded() bool {
	return k == KindTimeout || k == KindAutoTimeout
}

// Manual reports whether k may be recorded directly by a moderator action.
// Warnings go through the warn operation and AutoTimeouts through escalation.
func (k CaseKind) Manual() bool {
	return k == KindBan || k == KindKick || k == KindTimeout
}

var titleCaser = cases.Title(language.English)

// DisplayName returns a human-readable kind name, e.g. "Auto Timeout".
func (k CaseKind) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(string(k), "_", " "))
}

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	StatusActive   CaseStatus = "active"
	StatusReversed CaseStatus = "reversed"
	StatusExpired  CaseStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s CaseStatus) Terminal() bool {
	return s == StatusReversed || s == StatusExpired
}

// EventType enumerates case audit-trail entries.
type EventType string

const (
	EventCreated       EventType = "created"
	EventReversed      EventType = "reversed"
	EventExpired       EventType = "expired"
	EventNoteUpdated   EventType = "note_updated"
	EventReasonUpdated EventType = "reason_updated"
)

// Label returns the per-kind case label, e.g. "W3" or "AT1".
func (c *Case) Label() string {
	return c.Kind.Code() + strconv.FormatInt(c.KindNumber, 10)
}

// Title renders the heading collaborators use for modlog entries,
// e.g. "Auto Timeout - #AT1".
func (c *Case) Title() string {
	return fmt.Sprintf("%s - #%s", c.Kind.DisplayName(), c.Label())
}

// ParseLabel splits a case label such as "at12" into its kind and number.
func ParseLabel(label string) (CaseKind, int64, bool) {
	s := strings.ToUpper(strings.TrimSpace(label))
	i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(s[i:], 10, 64)
	if err != nil || n < 1 {
		return "", 0, false
	}
	for k, code := range kindCodes {
		if code == s[:i] {
			return k, n, true
		}
	}
	return "", 0, false
}

// FormatDuration renders d compactly using days, hours, minutes and seconds,
// e.g. 26h -> "1d2h". Sub-second remainders are dropped.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	secs := int64(d / time.Second)
	units := []struct {
		suffix string
		size   int64
	}{
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}
	var b strings.Builder
	for _, u := range units {
		if n := secs / u.size; n > 0 {
			b.WriteString(strconv.FormatInt(n, 10))
			b.WriteString(u.suffix)
			secs -= n * u.size
		}
	}
	return b.String()
}

// ParseDuration accepts either Go duration syntax ("36h") or the compact form
// produced by FormatDuration ("1d12h", "7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var total time.Duration
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			var unit time.Duration
			switch r {
			case 'w':
				unit = 7 * 24 * time.Hour
			case 'd':
				unit = 24 * time.Hour
			case 'h':
				unit = time.Hour
			case 'm':
				unit = time.Minute
			case 's':
				unit = time.Second
			default:
				return 0, fmt.Errorf("invalid duration unit %q in %q", r, s)
			}
			if n > math.MaxInt64/int64(unit) {
				return 0, fmt.Errorf("invalid duration %q: out of range", s)
			}
			part := time.Duration(n) * unit
			if total > math.MaxInt64-part {
				return 0, fmt.Errorf("invalid duration %q: out of range", s)
			}
			total += part
			num = ""
		}
	}
	if num != "" {
		return 0, fmt.Errorf("missing unit in duration %q", s)
	}
	return total, nil
}
