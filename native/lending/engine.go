package lending

import (
	"fmt"
	"time"

	"hedge/core/events"
	"hedge/crypto"
	"hedge/fixed"
	nativecommon "hedge/native/common"
)

const moduleName = "lending"

// PoolReader resolves the stored pool of a market asset. Missing pools are
// reported as (nil, nil).
type PoolReader interface {
	Pool(market, mint crypto.Address) (*Pool, error)
}

// engineState is the persistence surface the engine reads snapshots from and
// commits deltas to. Getters return (nil, nil) for records that do not exist.
type engineState interface {
	PoolReader
	Market(addr crypto.Address) (*Market, error)
	AssetRegistry(market crypto.Address) (*AssetRegistry, error)
	RiskRegistry(market crypto.Address) (*RiskRegistry, error)
	PriceCache(market crypto.Address) (*PriceCache, error)
	Obligation(market, owner crypto.Address) (*Obligation, error)
	Commit(update *StateUpdate) error
}

// StateUpdate is the complete delta produced by one operation. It must be
// applied atomically. Nil fields are left untouched.
type StateUpdate struct {
	Market      *Market
	Assets      *AssetRegistry
	Risk        *RiskRegistry
	Prices      *PriceCache
	Pools       []*Pool
	Obligations []*Obligation
}

// Engine executes lending operations for one market against an injected state
// backend.
type Engine struct {
	market  crypto.Address
	state   engineState
	pauses  nativecommon.PauseView
	emitter events.Emitter
	nowFn   func() time.Time
	slot    uint64
}

// NewEngine constructs an engine bound to the market address.
func NewEngine(market crypto.Address) *Engine {
	return &Engine{
		market:  market,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Market returns the market address the engine operates on.
func (e *Engine) Market() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.market
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event sink. Nil resets to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for accrual. Nil restores the UTC wall
// clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetSlot records the slot stamped onto price cache updates.
func (e *Engine) SetSlot(slot uint64) {
	if e == nil {
		return
	}
	e.slot = slot
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// snapshot is the private working copy an operation mutates before commit.
type snapshot struct {
	engine *Engine
	market *Market
	assets *AssetRegistry
	risk   *RiskRegistry
	prices *PriceCache
	pools  []*Pool
	now    int64
}

func (e *Engine) load() (*snapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrStateNotConfigured
	}
	market, err := e.state.Market(e.market)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	snap := &snapshot{engine: e, market: market.Clone(), now: e.now().Unix()}
	assets, err := e.state.AssetRegistry(e.market)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = &AssetRegistry{Market: e.market}
	}
	snap.assets = assets.Clone()
	risk, err := e.state.RiskRegistry(e.market)
	if err != nil {
		return nil, err
	}
	if risk == nil {
		risk = &RiskRegistry{Market: e.market}
	}
	snap.risk = risk.Clone()
	prices, err := e.state.PriceCache(e.market)
	if err != nil {
		return nil, err
	}
	snap.prices = prices.Clone()
	return snap, nil
}

// loadActive is load plus the pause guard applied to user operations.
func (e *Engine) loadActive() (*snapshot, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	if snap.market.Paused {
		return nil, ErrMarketPaused
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarketPaused, err)
	}
	return snap, nil
}

// pool returns the accrued working copy of the pool for mint, fetching and
// validating it on first use.
func (s *snapshot) pool(mint crypto.Address) (*Pool, error) {
	for _, p := range s.pools {
		if p.Mint.Equal(mint) {
			return p, nil
		}
	}
	stored, err := s.engine.state.Pool(s.market.Address, mint)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, mint)
	}
	if err := validatePool(stored, s.market.Address, mint); err != nil {
		return nil, err
	}
	p := stored.Clone()
	p.Accrue(s.now)
	s.pools = append(s.pools, p)
	return p, nil
}

// validatePool re-checks the identity of a pool handed out by the reader.
func validatePool(p *Pool, market, mint crypto.Address) error {
	if !p.Market.Equal(market) {
		return fmt.Errorf("%w: pool %s belongs to market %s", ErrUnauthorized, p.Address, p.Market)
	}
	if !p.Mint.Equal(mint) {
		return fmt.Errorf("%w: pool %s holds mint %s, want %s", ErrUnauthorized, p.Address, p.Mint, mint)
	}
	if !p.Address.Equal(PoolAddress(market, mint)) {
		return fmt.Errorf("%w: pool address %s is not canonical", ErrUnauthorized, p.Address)
	}
	return nil
}

// obligation fetches the owner's obligation. With create set a missing
// obligation is started empty; otherwise it is reported as ErrPositionNotFound.
func (s *snapshot) obligation(owner crypto.Address, create bool) (*Obligation, error) {
	if owner.IsZero() {
		return nil, ErrInvalidOwner
	}
	stored, err := s.engine.state.Obligation(s.market.Address, owner)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		if !create {
			return nil, fmt.Errorf("%w: no obligation for %s", ErrPositionNotFound, owner)
		}
		return newObligation(s.market.Address, owner), nil
	}
	if !stored.Owner.Equal(owner) {
		return nil, ErrInvalidOwner
	}
	if !stored.Market.Equal(s.market.Address) {
		return nil, ErrUnauthorized
	}
	return stored.Clone(), nil
}

// health accrues every pool the obligation references and scores it.
func (s *snapshot) health(ob *Obligation, mode HealthMode) (*HealthReport, error) {
	pools := make([]*Pool, 0, len(ob.Positions))
	for _, pos := range ob.Positions {
		if _, err := s.assets.resolve(pos.Mint); err != nil {
			return nil, err
		}
		p, err := s.pool(pos.Mint)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return EvaluateHealth(ob, HealthInput{
		Market: s.market,
		Assets: s.assets,
		Risk:   s.risk,
		Prices: PriceSourceFor(s.market, s.prices),
		Pools:  pools,
	}, mode)
}

func (s *snapshot) requireHealthy(ob *Obligation) (uint64, error) {
	report, err := s.health(ob, HealthModeLTV)
	if err != nil {
		return 0, err
	}
	if !report.Healthy() {
		return report.Score, fmt.Errorf("%w: health %d", ErrHealthCheckFailed, report.Score)
	}
	return report.Score, nil
}

func (s *snapshot) commit(obligations ...*Obligation) error {
	update := &StateUpdate{Pools: s.pools}
	for _, ob := range obligations {
		if ob == nil {
			continue
		}
		ob.compact()
		update.Obligations = append(update.Obligations, ob)
	}
	return s.engine.state.Commit(update)
}

func addShares(a, b fixed.Q60) (fixed.Q60, error) {
	sum, err := a.Add(b)
	if err != nil {
		return fixed.Q60{}, mathErr(err)
	}
	return sum, nil
}

func subShares(a, b fixed.Q60) (fixed.Q60, error) {
	diff, err := a.Sub(b)
	if err != nil {
		return fixed.Q60{}, mathErr(err)
	}
	return diff, nil
}

func creditVault(p *Pool, amount uint64) error {
	if p.VaultBalance+amount < p.VaultBalance {
		return fmt.Errorf("%w: vault balance", ErrMathOverflow)
	}
	p.VaultBalance += amount
	return nil
}

// Deposit supplies amount of mint on behalf of owner and returns the minted
// deposit shares. The obligation is created on first use.
func (e *Engine) Deposit(owner, mint crypto.Address, amount uint64) (fixed.Q60, error) {
	if amount == 0 {
		return fixed.Q60{}, ErrInvalidAmount
	}
	snap, err := e.loadActive()
	if err != nil {
		return fixed.Q60{}, err
	}
	if _, err := snap.assets.resolve(mint); err != nil {
		return fixed.Q60{}, err
	}
	pool, err := snap.pool(mint)
	if err != nil {
		return fixed.Q60{}, err
	}
	shares, err := fixed.SharesFromAmount(amount, pool.DepositIndex)
	if err != nil {
		return fixed.Q60{}, mathErr(err)
	}
	ob, err := snap.obligation(owner, true)
	if err != nil {
		return fixed.Q60{}, err
	}
	ob.prune(snap.assets)
	pos, err := ob.ensure(mint, snap.market.MaxPositions)
	if err != nil {
		return fixed.Q60{}, err
	}
	if pos.DepositShares, err = addShares(pos.DepositShares, shares); err != nil {
		return fixed.Q60{}, err
	}
	if pool.TotalDepositShares, err = addShares(pool.TotalDepositShares, shares); err != nil {
		return fixed.Q60{}, err
	}
	if err := creditVault(pool, amount); err != nil {
		return fixed.Q60{}, err
	}
	if err := snap.commit(ob); err != nil {
		return fixed.Q60{}, err
	}
	e.emit(events.BalanceChange{Kind: events.TypeDeposit, Market: e.market, Owner: owner, Mint: mint, Amount: amount, Shares: shares})
	return shares, nil
}

// Borrow draws amount of mint from the pool vault against the owner's
// collateral. The post-borrow obligation must stay healthy.
func (e *Engine) Borrow(owner, mint crypto.Address, amount uint64) (fixed.Q60, error) {
	if amount == 0 {
		return fixed.Q60{}, ErrInvalidAmount
	}
	snap, err := e.loadActive()
	if err != nil {
		return fixed.Q60{}, err
	}
	if _, err := snap.assets.resolve(mint); err != nil {
		return fixed.Q60{}, err
	}
	ob, err := snap.obligation(owner, false)
	if err != nil {
		return fixed.Q60{}, err
	}
	pool, err := snap.pool(mint)
	if err != nil {
		return fixed.Q60{}, err
	}
	shares, err := fixed.SharesFromAmount(amount, pool.BorrowIndex)
	if err != nil {
		return fixed.Q60{}, mathErr(err)
	}
	pos, err := ob.ensure(mint, snap.market.MaxPositions)
	if err != nil {
		return fixed.Q60{}, err
	}
	if pos.BorrowShares, err = addShares(pos.BorrowShares, shares); err != nil {
		return fixed.Q60{}, err
	}
	if pool.TotalBorrowShares, err = addShares(pool.TotalBorrowShares, shares); err != nil {
		return fixed.Q60{}, err
	}
	if _, err := snap.requireHealthy(ob); err != nil {
		return fixed.Q60{}, err
	}
	if pool.VaultBalance < amount {
		return fixed.Q60{}, fmt.Errorf("%w: vault holds %d, need %d", ErrInsufficientLiquidity, pool.VaultBalance, amount)
	}
	pool.VaultBalance -= amount
	if err := snap.commit(ob); err != nil {
		return fixed.Q60{}, err
	}
	e.emit(events.BalanceChange{Kind: events.TypeBorrow, Market: e.market, Owner: owner, Mint: mint, Amount: amount, Shares: shares})
	return shares, nil
}

// Repay returns up to amount of borrowed mint and reports the amount actually
// repaid. Paying the full debt clears the borrow shares.
func (e *Engine) Repay(owner, mint crypto.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	snap, err := e.loadActive()
	if err != nil {
		return 0, err
	}
	if _, err := snap.assets.resolve(mint); err != nil {
		return 0, err
	}
	ob, err := snap.obligation(owner, false)
	if err != nil {
		return 0, err
	}
	pos := ob.find(mint)
	if pos == nil {
		return 0, fmt.Errorf("%w: %s", ErrPositionNotFound, mint)
	}
	if pos.BorrowShares.IsZero() {
		return 0, ErrNoDebtToRepay
	}
	pool, err := snap.pool(mint)
	if err != nil {
		return 0, err
	}
	debt, err := fixed.AmountFromShares(pos.BorrowShares, pool.BorrowIndex)
	if err != nil {
		return 0, mathErr(err)
	}
	repay := amount
	burn := pos.BorrowShares
	if repay < debt {
		burnShares, err := fixed.SharesFromAmount(repay, pool.BorrowIndex)
		if err != nil {
			return 0, mathErr(err)
		}
		burn = burnShares.Min(pos.BorrowShares)
	} else {
		repay = debt
	}
	if pos.BorrowShares, err = subShares(pos.BorrowShares, burn); err != nil {
		return 0, err
	}
	if pool.TotalBorrowShares, err = subShares(pool.TotalBorrowShares, burn); err != nil {
		return 0, err
	}
	if err := creditVault(pool, repay); err != nil {
		return 0, err
	}
	if err := snap.commit(ob); err != nil {
		return 0, err
	}
	e.emit(events.BalanceChange{Kind: events.TypeRepay, Market: e.market, Owner: owner, Mint: mint, Amount: repay, Shares: burn})
	return repay, nil
}

// Withdraw redeems up to amount of deposited mint and reports the amount paid
// out. The request is capped by the redeemable balance and the vault.
func (e *Engine) Withdraw(owner, mint crypto.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	snap, err := e.loadActive()
	if err != nil {
		return 0, err
	}
	if _, err := snap.assets.resolve(mint); err != nil {
		return 0, err
	}
	ob, err := snap.obligation(owner, false)
	if err != nil {
		return 0, err
	}
	pos := ob.find(mint)
	if pos == nil || pos.DepositShares.IsZero() {
		return 0, fmt.Errorf("%w: no deposit in %s", ErrPositionNotFound, mint)
	}
	pool, err := snap.pool(mint)
	if err != nil {
		return 0, err
	}
	redeemable, err := fixed.AmountFromShares(pos.DepositShares, pool.DepositIndex)
	if err != nil {
		return 0, mathErr(err)
	}
	capped := min(amount, redeemable, pool.VaultBalance)
	if capped == 0 {
		return 0, fmt.Errorf("%w: nothing redeemable", ErrInsufficientLiquidity)
	}
	// A full exit burns every share so no unredeemable remainder keeps the slot.
	burn, paid := pos.DepositShares, redeemable
	if capped < redeemable {
		if burn, err = fixed.SharesFromAmount(capped, pool.DepositIndex); err != nil {
			return 0, mathErr(err)
		}
		burn = burn.Min(pos.DepositShares)
		if paid, err = fixed.AmountFromShares(burn, pool.DepositIndex); err != nil {
			return 0, mathErr(err)
		}
	}
	if paid > pool.VaultBalance {
		return 0, ErrInsufficientLiquidity
	}
	if pos.DepositShares, err = subShares(pos.DepositShares, burn); err != nil {
		return 0, err
	}
	if pool.TotalDepositShares, err = subShares(pool.TotalDepositShares, burn); err != nil {
		return 0, err
	}
	ob.compact()
	if _, err := snap.requireHealthy(ob); err != nil {
		return 0, err
	}
	pool.VaultBalance -= paid
	if err := snap.commit(ob); err != nil {
		return 0, err
	}
	e.emit(events.BalanceChange{Kind: events.TypeWithdraw, Market: e.market, Owner: owner, Mint: mint, Amount: paid, Shares: burn})
	return paid, nil
}

// LeverageResult describes a committed leverage step.
type LeverageResult struct {
	BorrowShares  fixed.Q60 `json:"borrowShares"`
	DepositAmount uint64    `json:"depositAmount"`
	DepositShares fixed.Q60 `json:"depositShares"`
	Health        uint64    `json:"health"`
}

// LeverageExistingDeposit borrows borrowAmount of borrowMint, converts it at
// oracle prices into depositMint and deposits the proceeds into the same
// obligation. No tokens leave the market vaults.
func (e *Engine) LeverageExistingDeposit(owner, borrowMint, depositMint crypto.Address, borrowAmount uint64) (*LeverageResult, error) {
	if borrowAmount == 0 {
		return nil, ErrInvalidAmount
	}
	snap, err := e.loadActive()
	if err != nil {
		return nil, err
	}
	from, err := snap.assets.resolve(borrowMint)
	if err != nil {
		return nil, err
	}
	to, err := snap.assets.resolve(depositMint)
	if err != nil {
		return nil, err
	}
	ob, err := snap.obligation(owner, false)
	if err != nil {
		return nil, err
	}
	borrowPool, err := snap.pool(borrowMint)
	if err != nil {
		return nil, err
	}
	depositPool, err := snap.pool(depositMint)
	if err != nil {
		return nil, err
	}
	borrowShares, err := fixed.SharesFromAmount(borrowAmount, borrowPool.BorrowIndex)
	if err != nil {
		return nil, mathErr(err)
	}

	prices := PriceSourceFor(snap.market, snap.prices)
	fromPrice, err := prices.Price(from.Index)
	if err != nil {
		return nil, err
	}
	toPrice, err := prices.Price(to.Index)
	if err != nil {
		return nil, err
	}
	value, err := fixed.AmountToUSD(borrowAmount, from.Decimals, fromPrice)
	if err != nil {
		return nil, mathErr(err)
	}
	out, err := fixed.USDToAmount(value, to.Decimals, toPrice)
	if err != nil {
		return nil, mathErr(err)
	}
	depositShares, err := fixed.SharesFromAmount(out, depositPool.DepositIndex)
	if err != nil {
		return nil, mathErr(err)
	}

	bpos, err := ob.ensure(borrowMint, snap.market.MaxPositions)
	if err != nil {
		return nil, err
	}
	if bpos.BorrowShares, err = addShares(bpos.BorrowShares, borrowShares); err != nil {
		return nil, err
	}
	dpos, err := ob.ensure(depositMint, snap.market.MaxPositions)
	if err != nil {
		return nil, err
	}
	if dpos.DepositShares, err = addShares(dpos.DepositShares, depositShares); err != nil {
		return nil, err
	}
	if borrowPool.TotalBorrowShares, err = addShares(borrowPool.TotalBorrowShares, borrowShares); err != nil {
		return nil, err
	}
	if depositPool.TotalDepositShares, err = addShares(depositPool.TotalDepositShares, depositShares); err != nil {
		return nil, err
	}
	score, err := snap.requireHealthy(ob)
	if err != nil {
		return nil, err
	}
	if err := snap.commit(ob); err != nil {
		return nil, err
	}
	e.emit(events.Leverage{
		Market:        e.market,
		Owner:         owner,
		BorrowMint:    borrowMint,
		DepositMint:   depositMint,
		BorrowAmount:  borrowAmount,
		DepositAmount: out,
		HealthAfter:   score,
	})
	return &LeverageResult{
		BorrowShares:  borrowShares,
		DepositAmount: out,
		DepositShares: depositShares,
		Health:        score,
	}, nil
}

// Health reports the current health of an owner's obligation in the given
// mode without mutating state.
func (e *Engine) Health(owner crypto.Address, mode HealthMode) (*HealthReport, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	ob, err := snap.obligation(owner, false)
	if err != nil {
		return nil, err
	}
	return snap.health(ob, mode)
}
