package events

import (
	"strconv"

	"hedge/core/types"
	"hedge/crypto"
	"hedge/fixed"
)

const (
	TypeMarketInitialized   = "lending.market_initialized"
	TypeAssetRegistered     = "lending.asset_registered"
	TypePoolInitialized     = "lending.pool_initialized"
	TypeDeposit             = "lending.deposit"
	TypeBorrow              = "lending.borrow"
	TypeRepay               = "lending.repay"
	TypeWithdraw            = "lending.withdraw"
	TypeLeverage            = "lending.leverage"
	TypeRiskPairSet         = "lending.risk_pair_set"
	TypeRiskPairsBatchSet   = "lending.risk_pairs_batch_set"
	TypePricesUpdated       = "lending.prices_updated"
	TypeLiquidationExecuted = "lending.liquidation_executed"
	TypeMarketPauseChanged  = "lending.market_pause_changed"
)

func addr(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

type MarketInitialized struct {
	Market       crypto.Address
	Authority    crypto.Address
	MaxAssets    uint16
	MaxPositions uint16
}

func (MarketInitialized) EventType() string { return TypeMarketInitialized }

func (e MarketInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketInitialized,
		Attributes: map[string]string{
			"market":       addr(e.Market),
			"authority":    addr(e.Authority),
			"maxAssets":    u64(uint64(e.MaxAssets)),
			"maxPositions": u64(uint64(e.MaxPositions)),
		},
	}
}

type AssetRegistered struct {
	Market crypto.Address
	Mint   crypto.Address
	Index  uint16
}

func (AssetRegistered) EventType() string { return TypeAssetRegistered }

func (e AssetRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetRegistered,
		Attributes: map[string]string{
			"market": addr(e.Market),
			"mint":   addr(e.Mint),
			"index":  u64(uint64(e.Index)),
		},
	}
}

type PoolInitialized struct {
	Market crypto.Address
	Mint   crypto.Address
	Pool   crypto.Address
}

func (PoolInitialized) EventType() string { return TypePoolInitialized }

func (e PoolInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypePoolInitialized,
		Attributes: map[string]string{
			"market": addr(e.Market),
			"mint":   addr(e.Mint),
			"pool":   addr(e.Pool),
		},
	}
}

// BalanceChange covers deposit, borrow, repay and withdraw. Shares carries the
// minted or burned share amount.
type BalanceChange struct {
	Kind   string
	Market crypto.Address
	Owner  crypto.Address
	Mint   crypto.Address
	Amount uint64
	Shares fixed.Q60
}

func (e BalanceChange) EventType() string { return e.Kind }

func (e BalanceChange) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"market": addr(e.Market),
			"owner":  addr(e.Owner),
			"mint":   addr(e.Mint),
			"amount": u64(e.Amount),
			"shares": e.Shares.String(),
		},
	}
}

type Leverage struct {
	Market        crypto.Address
	Owner         crypto.Address
	BorrowMint    crypto.Address
	DepositMint   crypto.Address
	BorrowAmount  uint64
	DepositAmount uint64
	HealthAfter   uint64
}

func (Leverage) EventType() string { return TypeLeverage }

func (e Leverage) Event() *types.Event {
	return &types.Event{
		Type: TypeLeverage,
		Attributes: map[string]string{
			"market":        addr(e.Market),
			"owner":         addr(e.Owner),
			"borrowMint":    addr(e.BorrowMint),
			"depositMint":   addr(e.DepositMint),
			"borrowAmount":  u64(e.BorrowAmount),
			"depositAmount": u64(e.DepositAmount),
			"healthAfter":   u64(e.HealthAfter),
		},
	}
}

type RiskPairSet struct {
	Market          crypto.Address
	AMint           crypto.Address
	BMint           crypto.Address
	AIndex          uint16
	BIndex          uint16
	LTVBps          uint16
	LiqThresholdBps uint16
	LiqBonusBps     uint16
}

func (RiskPairSet) EventType() string { return TypeRiskPairSet }

func (e RiskPairSet) Event() *types.Event {
	return &types.Event{
		Type: TypeRiskPairSet,
		Attributes: map[string]string{
			"market":          addr(e.Market),
			"aMint":           addr(e.AMint),
			"bMint":           addr(e.BMint),
			"aIndex":          u64(uint64(e.AIndex)),
			"bIndex":          u64(uint64(e.BIndex)),
			"ltvBps":          u64(uint64(e.LTVBps)),
			"liqThresholdBps": u64(uint64(e.LiqThresholdBps)),
			"liqBonusBps":     u64(uint64(e.LiqBonusBps)),
		},
	}
}

type RiskPairsBatchSet struct {
	Market crypto.Address
	Count  uint16
}

func (RiskPairsBatchSet) EventType() string { return TypeRiskPairsBatchSet }

func (e RiskPairsBatchSet) Event() *types.Event {
	return &types.Event{
		Type: TypeRiskPairsBatchSet,
		Attributes: map[string]string{
			"market": addr(e.Market),
			"count":  u64(uint64(e.Count)),
		},
	}
}

type PricesUpdated struct {
	Market crypto.Address
	Count  uint16
	Slot   uint64
}

func (PricesUpdated) EventType() string { return TypePricesUpdated }

func (e PricesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePricesUpdated,
		Attributes: map[string]string{
			"market": addr(e.Market),
			"count":  u64(uint64(e.Count)),
			"slot":   u64(e.Slot),
		},
	}
}

type LiquidationExecuted struct {
	Market           crypto.Address
	Liquidator       crypto.Address
	Target           crypto.Address
	BorrowMint       crypto.Address
	CollateralMint   crypto.Address
	RepayAmount      uint64
	CollateralAmount uint64
	HealthBefore     uint64
}

func (LiquidationExecuted) EventType() string { return TypeLiquidationExecuted }

func (e LiquidationExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidationExecuted,
		Attributes: map[string]string{
			"market":           addr(e.Market),
			"liquidator":       addr(e.Liquidator),
			"target":           addr(e.Target),
			"borrowMint":       addr(e.BorrowMint),
			"collateralMint":   addr(e.CollateralMint),
			"repayAmount":      u64(e.RepayAmount),
			"collateralAmount": u64(e.CollateralAmount),
			"healthBefore":     u64(e.HealthBefore),
		},
	}
}

type MarketPauseChanged struct {
	Market crypto.Address
	Paused bool
}

func (MarketPauseChanged) EventType() string { return TypeMarketPauseChanged }

func (e MarketPauseChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketPauseChanged,
		Attributes: map[string]string{
			"market": addr(e.Market),
			"paused": strconv.FormatBool(e.Paused),
		},
	}
}
