package lending

import (
	"testing"

	"hedge/fixed"
)

func poolWith(deposits, borrows uint64) *Pool {
	p := newPool(MarketAddress(testAuthority), testMintA, flatRate(), testNow.Unix())
	p.TotalDepositShares = fixed.FromUint64(deposits)
	p.TotalBorrowShares = fixed.FromUint64(borrows)
	return p
}

func TestUtilization(t *testing.T) {
	cases := []struct {
		name              string
		deposits, borrows uint64
		want              uint16
	}{
		{"empty", 0, 0, 0},
		{"no borrows", 1000, 0, 0},
		{"no deposits", 0, 1000, 0},
		{"half", 1000, 500, 5000},
		{"truncates", 3, 1, 3333},
		{"capped", 1000, 5000, 10000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := poolWith(tc.deposits, tc.borrows).Utilization(); got != tc.want {
				t.Fatalf("utilisation: got %d want %d", got, tc.want)
			}
		})
	}
	if got := (*Pool)(nil).Utilization(); got != 0 {
		t.Fatalf("nil pool utilisation: %d", got)
	}
}

func TestAccrueIndicesNonDecreasing(t *testing.T) {
	p := poolWith(1_000_000, 900_000)
	prevBorrow, prevDeposit := p.BorrowIndex, p.DepositIndex
	now := p.LastTimestamp
	for _, step := range []int64{0, 1, 59, 3600, 86_400, 0, 31_536_000} {
		now += step
		p.Accrue(now)
		if p.BorrowIndex.Cmp(prevBorrow) < 0 || p.DepositIndex.Cmp(prevDeposit) < 0 {
			t.Fatalf("index decreased at t=%d", now)
		}
		prevBorrow, prevDeposit = p.BorrowIndex, p.DepositIndex
	}
	if p.BorrowIndex.Cmp(fixed.One()) <= 0 {
		t.Fatalf("borrow index did not grow: %s", p.BorrowIndex)
	}
	if p.BorrowIndex.Cmp(p.DepositIndex) < 0 {
		t.Fatalf("deposit index outgrew borrow index")
	}
}

func TestAccrueIgnoresPastTimestamps(t *testing.T) {
	p := poolWith(1000, 500)
	start := p.LastTimestamp
	p.Accrue(start - 100)
	p.Accrue(start)
	if p.LastTimestamp != start || p.BorrowIndex.Cmp(fixed.One()) != 0 {
		t.Fatalf("accrual at or before the last timestamp must be a no-op")
	}
}

func TestPoolAPYSnapshot(t *testing.T) {
	p := poolWith(1000, 500)
	apy := p.APY()
	if apy.UtilizationBps != 5000 || apy.BorrowAPYBps != 700 || apy.DepositAPYBps != 315 {
		t.Fatalf("unexpected apy %+v", apy)
	}
	total, err := p.TotalBorrows()
	if err != nil || total != 500 {
		t.Fatalf("total borrows: %d %v", total, err)
	}
}

func TestShareRoundTripWithinOneUnit(t *testing.T) {
	idx := fixed.MustParse("1.0375")
	for _, amount := range []uint64{1, 7, 999, 123_456_789, 1 << 50} {
		shares, err := fixed.SharesFromAmount(amount, idx)
		if err != nil {
			t.Fatalf("shares: %v", err)
		}
		back, err := fixed.AmountFromShares(shares, idx)
		if err != nil {
			t.Fatalf("amount: %v", err)
		}
		if back > amount || amount-back > 1 {
			t.Fatalf("round trip of %d gave %d", amount, back)
		}
	}
}
