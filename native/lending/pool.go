package lending

import (
	"math/bits"

	"hedge/crypto"
	"hedge/fixed"
)

// TotalDeposits converts the deposit share supply into atomic units.
func (p *Pool) TotalDeposits() (uint64, error) {
	return fixed.AmountFromShares(p.TotalDepositShares, p.DepositIndex)
}

// TotalBorrows converts the borrow share supply into atomic units.
func (p *Pool) TotalBorrows() (uint64, error) {
	return fixed.AmountFromShares(p.TotalBorrowShares, p.BorrowIndex)
}

// Utilization returns borrows/deposits in basis points, capped at 10000. A
// total that cannot be expressed in atomic units counts as zero.
func (p *Pool) Utilization() uint16 {
	if p == nil || p.TotalBorrowShares.IsZero() || p.TotalDepositShares.IsZero() {
		return 0
	}
	borrows, err := p.TotalBorrows()
	if err != nil {
		borrows = 0
	}
	deposits, err := p.TotalDeposits()
	if err != nil || deposits == 0 {
		return 0
	}
	hi, lo := bits.Mul64(borrows, BasisPoints)
	if hi >= deposits {
		return BasisPoints
	}
	util, _ := bits.Div64(hi, lo, deposits)
	if util > BasisPoints {
		return BasisPoints
	}
	return uint16(util)
}

// Accrue advances both indices to now. Calls with now at or before the last
// accrual are ignored.
func (p *Pool) Accrue(now int64) {
	if p == nil {
		return
	}
	if now <= p.LastTimestamp {
		return
	}
	elapsed := uint64(now) - uint64(p.LastTimestamp)
	util := p.Utilization()
	p.BorrowIndex = p.Rate.AdvanceFactor(p.BorrowIndex, util, elapsed, true)
	p.DepositIndex = p.Rate.AdvanceFactor(p.DepositIndex, util, elapsed, false)
	p.LastTimestamp = now
}

// APY reports the current utilisation and the rates it implies.
func (p *Pool) APY() CurvePoint {
	if p == nil {
		return CurvePoint{}
	}
	return p.Rate.point(p.Utilization())
}

// newPool returns a pool with unit indices and no shares.
func newPool(market, mint crypto.Address, rate RateModel, now int64) *Pool {
	return &Pool{
		Address:       PoolAddress(market, mint),
		Market:        market,
		Mint:          mint,
		BorrowIndex:   fixed.One(),
		DepositIndex:  fixed.One(),
		LastTimestamp: now,
		Rate:          rate,
	}
}
