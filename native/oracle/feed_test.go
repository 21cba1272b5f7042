package oracle

import (
	"errors"
	"testing"

	"hedge/fixed"
)

func TestToQ60Exact(t *testing.T) {
	got, err := ToQ60(9998880000, -5)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if want := fixed.MustParse("99988.8"); got.Cmp(want) != 0 {
		t.Fatalf("unexpected price: got %s want %s", got, want)
	}

	whole, err := ToQ60(150, 0)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if whole.Cmp(fixed.FromUint64(150)) != 0 {
		t.Fatalf("unexpected whole price: %s", whole)
	}

	scaled, err := ToQ60(3, 2)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if scaled.Cmp(fixed.FromUint64(300)) != 0 {
		t.Fatalf("unexpected scaled price: %s", scaled)
	}
}

func TestToQ60Rejects(t *testing.T) {
	if _, err := ToQ60(-1, 0); !errors.Is(err, ErrNegativePrice) {
		t.Fatalf("expected ErrNegativePrice, got %v", err)
	}
	if _, err := ToQ60(1, MaxExponent+1); !errors.Is(err, ErrInvalidExponent) {
		t.Fatalf("expected ErrInvalidExponent, got %v", err)
	}
	if _, err := ToQ60(1, 30); !errors.Is(err, fixed.ErrOverflow) {
		t.Fatalf("expected overflow for 1e30, got %v", err)
	}
}

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		price int64
		expo  int32
		want  string
	}{
		{9998880000, -5, "99988.80000"},
		{5, -3, "0.005"},
		{-125, -2, "-1.25"},
		{42, 2, "4200"},
		{0, -2, "0.00"},
	}
	for _, tc := range cases {
		if got := FormatPrice(tc.price, tc.expo); got != tc.want {
			t.Fatalf("FormatPrice(%d, %d) = %q, want %q", tc.price, tc.expo, got, tc.want)
		}
	}
}
