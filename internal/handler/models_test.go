package handler

import (
	"errors"
	"testing"

	"github.com/blues/spl/internal/logic"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     int64
		wantErr  bool
	}{
		{"12.5", 6, 12_500_000, false},
		{"0.000001", 6, 1, false},
		{"100", 2, 10000, false},
		{"0.0000001", 6, 0, true}, // 精度超出最小单位
		{"-1", 6, 0, true},
		{"0", 6, 0, true},
		{"abc", 6, 0, true},
		{"", 6, 0, true},
	}

	for _, tc := range cases {
		got, err := parseAmount(tc.in, tc.decimals)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseAmount(%q): expected error", tc.in)
			}
			if !errors.Is(err, logic.ErrValidation) {
				t.Fatalf("parseAmount(%q): expected ErrValidation, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmount(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in       int64
		decimals int32
		want     string
	}{
		{12_500_000, 6, "12.5"},
		{1, 6, "0.000001"},
		{10000, 2, "100"},
		{0, 6, "0"},
	}

	for _, tc := range cases {
		if got := formatAmount(tc.in, tc.decimals); got != tc.want {
			t.Fatalf("formatAmount(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeSignedTxns(t *testing.T) {
	raw, err := decodeSignedTxns([]string{"0x0102", "0xff"})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(raw) != 2 || raw[0][0] != 0x01 || raw[1][0] != 0xff {
		t.Fatalf("unexpected decode result %v", raw)
	}

	if _, err := decodeSignedTxns([]string{"zzz"}); err == nil {
		t.Fatalf("expected error for bad hex")
	}
}
