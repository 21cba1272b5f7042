package lending

import (
	"fmt"

	"hedge/crypto"
	"hedge/fixed"
)

// HealthMode selects the risk parameter used to weight collateral.
type HealthMode uint8

const (
	// HealthModeLTV weights collateral by loan-to-value and gates borrow,
	// withdraw and leverage.
	HealthModeLTV HealthMode = iota
	// HealthModeLiquidation weights collateral by liquidation threshold.
	HealthModeLiquidation
)

func (m HealthMode) String() string {
	if m == HealthModeLiquidation {
		return "liquidation"
	}
	return "ltv"
}

// HealthReport carries the health score together with the USD totals it was
// computed from.
type HealthReport struct {
	// Score is weighted collateral / total borrow scaled by 1000. HealthMax
	// marks an obligation without debt.
	Score        uint64    `json:"score"`
	DepositValue fixed.Q60 `json:"depositValue"`
	BorrowValue  fixed.Q60 `json:"borrowValue"`
	Weighted     fixed.Q60 `json:"weightedCollateral"`
	Mode         string    `json:"mode"`
}

// Healthy reports whether the score is at or above the risk boundary.
func (r HealthReport) Healthy() bool { return r.Score >= HealthThreshold }

// HealthInput bundles the market snapshot a health computation reads.
type HealthInput struct {
	Market *Market
	Assets *AssetRegistry
	Risk   *RiskRegistry
	Prices PriceSource
	// Pools must contain every pool referenced by the obligation, already
	// accrued to the evaluation time.
	Pools []*Pool
}

func (in HealthInput) pool(mint crypto.Address) *Pool {
	for _, p := range in.Pools {
		if p != nil && p.Mint.Equal(mint) {
			return p
		}
	}
	return nil
}

type valuedLeg struct {
	index uint16
	value fixed.Q60
}

// ComputeHealth returns the health score of an obligation.
func ComputeHealth(ob *Obligation, in HealthInput, mode HealthMode) (uint64, error) {
	report, err := EvaluateHealth(ob, in, mode)
	if err != nil {
		return 0, err
	}
	return report.Score, nil
}

// EvaluateHealth values every position and folds them into a health report.
// Each deposit is weighted by the borrow-value-weighted average of its pair
// parameter against every borrowed asset. The score is independent of the
// order of positions.
func EvaluateHealth(ob *Obligation, in HealthInput, mode HealthMode) (*HealthReport, error) {
	if ob == nil || in.Market == nil {
		return nil, ErrStateNotConfigured
	}
	if len(ob.Positions) > MaxPositions {
		return nil, ErrTooManyPositions
	}
	prices := in.Prices
	if prices == nil {
		prices = PriceSourceFor(in.Market, nil)
	}
	report := &HealthReport{Mode: mode.String()}

	var deposits, borrows []valuedLeg
	for _, pos := range ob.Positions {
		asset, err := in.Assets.resolve(pos.Mint)
		if err != nil {
			return nil, err
		}
		pool := in.pool(pos.Mint)
		if pool == nil {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, pos.Mint)
		}
		var depAtomic, borAtomic uint64
		if !pos.DepositShares.IsZero() {
			if depAtomic, err = fixed.AmountFromShares(pos.DepositShares, pool.DepositIndex); err != nil {
				return nil, mathErr(err)
			}
		}
		if !pos.BorrowShares.IsZero() {
			if borAtomic, err = fixed.AmountFromShares(pos.BorrowShares, pool.BorrowIndex); err != nil {
				return nil, mathErr(err)
			}
		}
		price, err := prices.Price(asset.Index)
		if err != nil {
			return nil, err
		}
		if depAtomic > 0 {
			value, err := fixed.AmountToUSD(depAtomic, asset.Decimals, price)
			if err != nil {
				return nil, mathErr(err)
			}
			report.DepositValue = report.DepositValue.SaturatingAdd(value)
			deposits = append(deposits, valuedLeg{index: asset.Index, value: value})
		}
		if borAtomic > 0 {
			value, err := fixed.AmountToUSD(borAtomic, asset.Decimals, price)
			if err != nil {
				return nil, mathErr(err)
			}
			report.BorrowValue = report.BorrowValue.SaturatingAdd(value)
			borrows = append(borrows, valuedLeg{index: asset.Index, value: value})
		}
	}

	if len(borrows) == 0 || report.BorrowValue.IsZero() {
		report.Score = HealthMax
		return report, nil
	}

	total := report.BorrowValue
	for _, dep := range deposits {
		var sumBps uint64
		for _, bor := range borrows {
			ltv, threshold := in.Risk.Resolve(in.Market, dep.index, bor.index)
			param := ltv
			if mode == HealthModeLiquidation {
				param = threshold
			}
			shareBps, err := bor.value.MulUint64(BasisPoints).Ratio(total)
			if err != nil {
				return nil, mathErr(err)
			}
			sumBps += uint64(param) * shareBps / BasisPoints
		}
		weighted := dep.value.MulUint64(sumBps).DivUint64(BasisPoints)
		report.Weighted = report.Weighted.SaturatingAdd(weighted)
	}

	if report.Weighted.IsZero() {
		report.Score = 0
		return report, nil
	}
	score, err := report.Weighted.MulUint64(HealthThreshold).Ratio(total)
	if err != nil {
		return nil, mathErr(err)
	}
	report.Score = score
	return report, nil
}
