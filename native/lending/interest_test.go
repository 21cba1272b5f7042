package lending

import (
	"errors"
	"testing"

	"hedge/fixed"
)

func TestBorrowAPYCurve(t *testing.T) {
	model := RateModel{KinkUtilBps: 8000, BaseBorrowAPYBps: 200, Slope1Bps: 1000, Slope2Bps: 20000, MaxBorrowAPYBps: 5000}
	cases := []struct {
		util uint16
		want uint16
	}{
		{0, 200},
		{4000, 600},
		{8000, 1000},
		{9000, 3000},
		{10000, 5000},
	}
	for _, tc := range cases {
		if got := model.BorrowAPYBps(tc.util); got != tc.want {
			t.Fatalf("borrow apy at %d: got %d want %d", tc.util, got, tc.want)
		}
	}
}

func TestBorrowAPYHardCap(t *testing.T) {
	model := RateModel{BaseBorrowAPYBps: 9000, Slope1Bps: 5000, KinkUtilBps: 10000, MaxBorrowAPYBps: 65000}
	if got := model.BorrowAPYBps(10000); got != MaxBorrowAPYHardBps {
		t.Fatalf("expected hard cap %d, got %d", MaxBorrowAPYHardBps, got)
	}
}

func TestDepositAPY(t *testing.T) {
	model := RateModel{KinkUtilBps: 8000, BaseBorrowAPYBps: 200, Slope1Bps: 1000, ReserveFactorBps: 1000, MaxBorrowAPYBps: 10000}
	// borrow 700 bps at 50% utilisation, 90% passed through
	if got := model.DepositAPYBps(5000); got != 315 {
		t.Fatalf("expected 315 bps, got %d", got)
	}
	if got := model.DepositAPYBps(0); got != 0 {
		t.Fatalf("expected zero deposit apy at zero utilisation, got %d", got)
	}
}

func TestAdvanceFactor(t *testing.T) {
	model := RateModel{BaseBorrowAPYBps: 1000, MaxBorrowAPYBps: 10000}
	one := fixed.One()
	if got := model.AdvanceFactor(one, 0, 0, true); got.Cmp(one) != 0 {
		t.Fatalf("zero elapsed must not move the factor")
	}
	if got := model.AdvanceFactor(one, 0, SecondsPerYear, false); got.Cmp(one) != 0 {
		t.Fatalf("zero deposit apy must not move the factor")
	}
	grown := model.AdvanceFactor(one, 0, SecondsPerYear, true)
	if grown.Cmp(fixed.MustParse("1.0999999")) < 0 {
		t.Fatalf("expected about 1.1 after a year at 10%%, got %s", grown)
	}
	if grown.Cmp(fixed.MustParse("1.1")) > 0 {
		t.Fatalf("growth must round down, got %s", grown)
	}
	if got := model.AdvanceFactor(fixed.Max(), 0, SecondsPerYear, true); got.Cmp(fixed.Max()) != 0 {
		t.Fatalf("factor must saturate at the ceiling")
	}
}

func TestRateModelValidate(t *testing.T) {
	if err := flatRate().Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}
	if err := (RateModel{KinkUtilBps: 10001}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if err := (RateModel{ReserveFactorBps: 10001}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestCurveSampling(t *testing.T) {
	model := flatRate()
	curve := model.Curve(4)
	if len(curve) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(curve))
	}
	if curve[0].UtilizationBps != 0 || curve[2].UtilizationBps != 5000 || curve[4].UtilizationBps != 10000 {
		t.Fatalf("unexpected utilisations %+v", curve)
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].BorrowAPYBps < curve[i-1].BorrowAPYBps {
			t.Fatalf("curve not monotonic at %d", i)
		}
	}
	keys := model.KeyPoints()
	if len(keys) != 3 || keys[1].UtilizationBps != model.KinkUtilBps {
		t.Fatalf("unexpected key points %+v", keys)
	}
}
