package util

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	cases := []string{
		"2024-10-10T10:10:10Z",
		`"2024-10-10T12:10:10+02:00"`,
		"1728555010",
		" 1728555010000 ",
	}
	for _, in := range cases {
		got, ok := ParseTime(in)
		if !ok {
			t.Fatalf("ParseTime(%q) failed", in)
		}
		if !got.Equal(want) || got.Location() != time.UTC {
			t.Fatalf("ParseTime(%q) = %v; want %v", in, got, want)
		}
	}
	for _, bad := range []string{"", "null", "0", "-5", "yesterday"} {
		if _, ok := ParseTime(bad); ok {
			t.Fatalf("ParseTime(%q) should fail", bad)
		}
	}
}

func TestParseTimeKeepsMillis(t *testing.T) {
	got, ok := ParseTime("1700000000123")
	if !ok || got.UnixMilli() != 1700000000123 {
		t.Fatalf("unexpected %v %v", got, ok)
	}
}

func TestParseFloat(t *testing.T) {
	cases := map[string]float64{
		"64000.5":  64000.5,
		` "21.3" `: 21.3,
		"-0.25":    -0.25,
	}
	for in, want := range cases {
		got, ok := ParseFloat(in)
		if !ok || got != want {
			t.Fatalf("ParseFloat(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	for _, bad := range []string{"", "abc", "NaN", "Inf"} {
		if _, ok := ParseFloat(bad); ok {
			t.Fatalf("ParseFloat(%q) should fail", bad)
		}
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault(" 12 ", 3) != 12 {
		t.Fatalf("expected 12")
	}
	if ParseIntDefault("x", 3) != 3 {
		t.Fatalf("expected default")
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" kraken, ,binance,")
	if len(got) != 2 || got[0] != "kraken" || got[1] != "binance" {
		t.Fatalf("unexpected split %v", got)
	}
	if SplitCSV(" , ") != nil {
		t.Fatalf("expected nil")
	}
}
