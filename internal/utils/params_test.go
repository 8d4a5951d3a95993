package utils

import (
	"testing"
	"time"
)

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		{"x", 5, 5},
		{" 42", 7, 7},
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParseID(t *testing.T) {
	if n, err := ParseID(" 123456789012345678 "); err != nil || n != 123456789012345678 {
		t.Fatalf("ParseID = %d, %v", n, err)
	}
	for _, bad := range []string{"", "0", "-1", "abc", "1.5"} {
		if _, err := ParseID(bad); err != ErrInvalidID {
			t.Fatalf("ParseID(%q) err = %v; want ErrInvalidID", bad, err)
		}
	}
}

func TestParseOptionalID(t *testing.T) {
	if p, err := ParseOptionalID(""); p != nil || err != nil {
		t.Fatalf("empty: %v %v", p, err)
	}
	if p, err := ParseOptionalID("7"); err != nil || p == nil || *p != 7 {
		t.Fatalf("7: %v %v", p, err)
	}
	if _, err := ParseOptionalID("-7"); err == nil {
		t.Fatalf("negative must fail")
	}
}

func TestParseCursor(t *testing.T) {
	for in, want := range map[string]int64{"": 0, "0": 0, " 15 ": 15} {
		if got, err := ParseCursor(in); err != nil || got != want {
			t.Fatalf("ParseCursor(%q) = %d, %v", in, got, err)
		}
	}
	for _, bad := range []string{"-1", "x"} {
		if _, err := ParseCursor(bad); err == nil {
			t.Fatalf("ParseCursor(%q) should fail", bad)
		}
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-03-01T12:00:00Z", "2025-03-01T14:00:00+02:00", "1740830400"} {
		got, err := ParseTime(in)
		if err != nil || !got.Equal(want) || got.Location() != time.UTC {
			t.Fatalf("ParseTime(%q) = %v, %v", in, got, err)
		}
	}
	if got, err := ParseTime(""); err != nil || !got.IsZero() {
		t.Fatalf("empty: %v %v", got, err)
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Fatalf("garbage must fail")
	}
}
