package lending

import (
	"fmt"

	"hedge/core/events"
	"hedge/crypto"
	"hedge/fixed"
)

// LiquidationRequest names the debt a liquidator repays and the collateral it
// seizes in return.
type LiquidationRequest struct {
	Liquidator     crypto.Address `json:"liquidator"`
	Target         crypto.Address `json:"target"`
	RepayAmount    uint64         `json:"repayAmount"`
	BorrowMint     crypto.Address `json:"borrowMint"`
	CollateralMint crypto.Address `json:"collateralMint"`
}

// LiquidationResult reports the settled amounts of a liquidation.
type LiquidationResult struct {
	RepayShares      fixed.Q60 `json:"repayShares"`
	SeizeValue       fixed.Q60 `json:"seizeValue"`
	SeizeAmount      uint64    `json:"seizeAmount"`
	SeizeShares      fixed.Q60 `json:"seizeShares"`
	LiquidatorDebit  fixed.Q60 `json:"liquidatorDebitShares"`
	HealthBefore     uint64    `json:"healthBefore"`
	LiquidationBonus uint16    `json:"liquidationBonusBps"`
}

// CheckLiquidation scores the target in liquidation mode. The report is
// returned together with ErrPositionHealthy when the target is not eligible.
func (e *Engine) CheckLiquidation(target crypto.Address) (*HealthReport, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	ob, err := snap.obligation(target, false)
	if err != nil {
		return nil, err
	}
	report, err := snap.health(ob, HealthModeLiquidation)
	if err != nil {
		return nil, err
	}
	if report.Healthy() {
		return report, fmt.Errorf("%w: health %d", ErrPositionHealthy, report.Score)
	}
	return report, nil
}

// Liquidate repays part of the target's debt out of the liquidator's deposit
// in the borrowed asset and moves the bonus-adjusted collateral to the
// liquidator. The liquidator's own health is not checked.
func (e *Engine) Liquidate(req LiquidationRequest) (*LiquidationResult, error) {
	if req.RepayAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if req.Liquidator.Equal(req.Target) {
		return nil, fmt.Errorf("%w: self liquidation", ErrInvalidOwner)
	}
	snap, err := e.loadActive()
	if err != nil {
		return nil, err
	}
	borrowAsset, err := snap.assets.resolve(req.BorrowMint)
	if err != nil {
		return nil, err
	}
	collateralAsset, err := snap.assets.resolve(req.CollateralMint)
	if err != nil {
		return nil, err
	}
	target, err := snap.obligation(req.Target, false)
	if err != nil {
		return nil, err
	}
	report, err := snap.health(target, HealthModeLiquidation)
	if err != nil {
		return nil, err
	}
	if report.Healthy() {
		return nil, fmt.Errorf("%w: health %d", ErrPositionHealthy, report.Score)
	}

	debtPos := target.find(req.BorrowMint)
	collPos := target.find(req.CollateralMint)
	if debtPos == nil || collPos == nil {
		return nil, fmt.Errorf("%w: target lacks borrow or collateral position", ErrPositionNotFound)
	}
	borrowPool, err := snap.pool(req.BorrowMint)
	if err != nil {
		return nil, err
	}
	collateralPool, err := snap.pool(req.CollateralMint)
	if err != nil {
		return nil, err
	}

	repayShares, err := fixed.SharesFromAmount(req.RepayAmount, borrowPool.BorrowIndex)
	if err != nil {
		return nil, mathErr(err)
	}
	if repayShares.Cmp(debtPos.BorrowShares) > 0 {
		return nil, fmt.Errorf("%w: repay exceeds outstanding borrow", ErrPositionNotFound)
	}

	prices := PriceSourceFor(snap.market, snap.prices)
	borrowPrice, err := prices.Price(borrowAsset.Index)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := prices.Price(collateralAsset.Index)
	if err != nil {
		return nil, err
	}
	repayValue, err := fixed.AmountToUSD(req.RepayAmount, borrowAsset.Decimals, borrowPrice)
	if err != nil {
		return nil, mathErr(err)
	}
	pair, err := snap.risk.Pair(borrowAsset.Index, collateralAsset.Index)
	if err != nil {
		return nil, err
	}
	seizeValue := repayValue.MulUint64(BasisPoints + uint64(pair.LiqBonusBps)).DivUint64(BasisPoints)
	seizeAmount, err := fixed.USDToAmount(seizeValue, collateralAsset.Decimals, collateralPrice)
	if err != nil {
		return nil, mathErr(err)
	}
	seizeShares, err := fixed.SharesFromAmount(seizeAmount, collateralPool.DepositIndex)
	if err != nil {
		return nil, mathErr(err)
	}
	if seizeShares.Cmp(collPos.DepositShares) > 0 {
		return nil, fmt.Errorf("%w: seize exceeds target collateral", ErrInsufficientCollateral)
	}

	liquidator, err := snap.obligation(req.Liquidator, false)
	if err != nil {
		return nil, err
	}
	payPos := liquidator.find(req.BorrowMint)
	if payPos == nil {
		return nil, fmt.Errorf("%w: liquidator has no deposit in %s", ErrPositionNotFound, req.BorrowMint)
	}
	debit, err := fixed.SharesFromAmount(req.RepayAmount, borrowPool.DepositIndex)
	if err != nil {
		return nil, mathErr(err)
	}
	if debit.Cmp(payPos.DepositShares) > 0 {
		return nil, fmt.Errorf("%w: liquidator deposit below repay amount", ErrInsufficientCollateral)
	}

	if debtPos.BorrowShares, err = subShares(debtPos.BorrowShares, repayShares); err != nil {
		return nil, err
	}
	if collPos.DepositShares, err = subShares(collPos.DepositShares, seizeShares); err != nil {
		return nil, err
	}
	if payPos.DepositShares, err = subShares(payPos.DepositShares, debit); err != nil {
		return nil, err
	}
	gain, err := liquidator.ensure(req.CollateralMint, snap.market.MaxPositions)
	if err != nil {
		return nil, err
	}
	if gain.DepositShares, err = addShares(gain.DepositShares, seizeShares); err != nil {
		return nil, err
	}
	if borrowPool.TotalBorrowShares, err = subShares(borrowPool.TotalBorrowShares, repayShares); err != nil {
		return nil, err
	}
	if borrowPool.TotalDepositShares, err = subShares(borrowPool.TotalDepositShares, debit); err != nil {
		return nil, err
	}

	if err := snap.commit(target, liquidator); err != nil {
		return nil, err
	}
	e.emit(events.LiquidationExecuted{
		Market:           e.market,
		Liquidator:       req.Liquidator,
		Target:           req.Target,
		BorrowMint:       req.BorrowMint,
		CollateralMint:   req.CollateralMint,
		RepayAmount:      req.RepayAmount,
		CollateralAmount: seizeAmount,
		HealthBefore:     report.Score,
	})
	return &LiquidationResult{
		RepayShares:      repayShares,
		SeizeValue:       seizeValue,
		SeizeAmount:      seizeAmount,
		SeizeShares:      seizeShares,
		LiquidatorDebit:  debit,
		HealthBefore:     report.Score,
		LiquidationBonus: pair.LiqBonusBps,
	}, nil
}
