package client

import (
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1", 1_000_000},
		{"12.5", 12_500_000},
		{"0.000001", 1},
		{"0.0000019", 1}, // truncated, never rounded
		{"3.141592653", 3_141_592},
		{".25", 250_000},
		{"100.", 100_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.in, err)
			}
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("parse %q: want %d got %s", tc.in, tc.want, got)
			}
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "  ", "-1", "0", "0.0000009", "1.2.3", "abc", "1,5"} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{1, "0.000001"},
		{1_000_000, "1"},
		{12_500_000, "12.5"},
		{3_141_592, "3.141592"},
	}
	for _, tc := range cases {
		if got := FormatAmount(big.NewInt(tc.in)); got != tc.want {
			t.Fatalf("format %d: want %s got %s", tc.in, tc.want, got)
		}
	}
	if got := FormatAmount(nil); got != "0" {
		t.Fatalf("format nil: got %s", got)
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, in := range []string{"1", "0.000001", "987654.321", "12.5"} {
		units, err := ParseAmount(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := FormatAmount(units); got != in {
			t.Fatalf("round trip %q: got %s", in, got)
		}
	}
}
