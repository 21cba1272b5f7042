package lending

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"hedge/crypto"
	"hedge/fixed"
)

type memState struct {
	markets     map[string]*Market
	assets      map[string]*AssetRegistry
	risk        map[string]*RiskRegistry
	prices      map[string]*PriceCache
	pools       map[string]*Pool
	obligations map[string]*Obligation
	commits     int
	failCommit  error
}

func newMemState() *memState {
	return &memState{
		markets:     make(map[string]*Market),
		assets:      make(map[string]*AssetRegistry),
		risk:        make(map[string]*RiskRegistry),
		prices:      make(map[string]*PriceCache),
		pools:       make(map[string]*Pool),
		obligations: make(map[string]*Obligation),
	}
}

func key(addrs ...crypto.Address) string {
	var buf bytes.Buffer
	for _, a := range addrs {
		buf.Write(a.Bytes())
	}
	return buf.String()
}

func (m *memState) Market(addr crypto.Address) (*Market, error) {
	return m.markets[key(addr)].Clone(), nil
}

func (m *memState) AssetRegistry(market crypto.Address) (*AssetRegistry, error) {
	return m.assets[key(market)].Clone(), nil
}

func (m *memState) RiskRegistry(market crypto.Address) (*RiskRegistry, error) {
	return m.risk[key(market)].Clone(), nil
}

func (m *memState) PriceCache(market crypto.Address) (*PriceCache, error) {
	return m.prices[key(market)].Clone(), nil
}

func (m *memState) Pool(market, mint crypto.Address) (*Pool, error) {
	return m.pools[key(market, mint)].Clone(), nil
}

func (m *memState) Obligation(market, owner crypto.Address) (*Obligation, error) {
	return m.obligations[key(market, owner)].Clone(), nil
}

func (m *memState) Commit(update *StateUpdate) error {
	if m.failCommit != nil {
		return m.failCommit
	}
	m.commits++
	if update.Market != nil {
		m.markets[key(update.Market.Address)] = update.Market.Clone()
	}
	if update.Assets != nil {
		m.assets[key(update.Assets.Market)] = update.Assets.Clone()
	}
	if update.Risk != nil {
		m.risk[key(update.Risk.Market)] = update.Risk.Clone()
	}
	if update.Prices != nil {
		m.prices[key(update.Prices.Market)] = update.Prices.Clone()
	}
	for _, p := range update.Pools {
		m.pools[key(p.Market, p.Mint)] = p.Clone()
	}
	for _, ob := range update.Obligations {
		m.obligations[key(ob.Market, ob.Owner)] = ob.Clone()
	}
	return nil
}

func testAddr(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

var (
	testAuthority = testAddr(crypto.AccountPrefix, 0xA0)
	testAlice     = testAddr(crypto.AccountPrefix, 0x01)
	testBob       = testAddr(crypto.AccountPrefix, 0x02)
	testCarol     = testAddr(crypto.AccountPrefix, 0x03)
	testMintA     = testAddr(crypto.MintPrefix, 0x11)
	testMintB     = testAddr(crypto.MintPrefix, 0x12)
	testMintC     = testAddr(crypto.MintPrefix, 0x13)
	testNow       = time.Unix(1_700_000_000, 0).UTC()
)

func flatRate() RateModel {
	return RateModel{KinkUtilBps: 8000, BaseBorrowAPYBps: 200, Slope1Bps: 1000, Slope2Bps: 5000, ReserveFactorBps: 1000, MaxBorrowAPYBps: 10_000}
}

type testMarket struct {
	t      *testing.T
	state  *memState
	engine *Engine
	clock  time.Time
}

func newTestMarket(t *testing.T, mode PriceMode) *testMarket {
	t.Helper()
	tm := &testMarket{t: t, state: newMemState(), clock: testNow}
	tm.engine = NewEngine(MarketAddress(testAuthority))
	tm.engine.SetState(tm.state)
	tm.engine.SetNowFunc(func() time.Time { return tm.clock })
	_, err := tm.engine.InitMarket(testAuthority, MarketConfig{
		MaxAssets:              8,
		MaxPositions:           4,
		DefaultLTVBps:          5000,
		DefaultLiqThresholdBps: 6000,
		DefaultLiqBonusBps:     500,
		PriceMode:              mode,
		OracleMaxAgeSeconds:    60,
	})
	if err != nil {
		t.Fatalf("init market: %v", err)
	}
	return tm
}

func (tm *testMarket) addAsset(mint crypto.Address, decimals uint8, feed string) Asset {
	tm.t.Helper()
	asset, err := tm.engine.RegisterAsset(testAuthority, Asset{Mint: mint, Decimals: decimals, FeedID: feed, CollateralEnabled: true})
	if err != nil {
		tm.t.Fatalf("register asset: %v", err)
	}
	if _, err := tm.engine.InitPool(testAuthority, mint, flatRate()); err != nil {
		tm.t.Fatalf("init pool: %v", err)
	}
	return asset
}

func (tm *testMarket) setPrice(mint crypto.Address, price string) {
	tm.t.Helper()
	if err := tm.engine.UpdatePrices(testAuthority, []PriceUpdate{{Mint: mint, Price: fixed.MustParse(price)}}); err != nil {
		tm.t.Fatalf("update prices: %v", err)
	}
}

func (tm *testMarket) pool(mint crypto.Address) *Pool {
	tm.t.Helper()
	p, _ := tm.state.Pool(tm.engine.Market(), mint)
	if p == nil {
		tm.t.Fatalf("pool %s missing", mint)
	}
	return p
}

func (tm *testMarket) obligation(owner crypto.Address) *Obligation {
	ob, _ := tm.state.Obligation(tm.engine.Market(), owner)
	return ob
}

func (tm *testMarket) mustDeposit(owner, mint crypto.Address, amount uint64) {
	tm.t.Helper()
	if _, err := tm.engine.Deposit(owner, mint, amount); err != nil {
		tm.t.Fatalf("deposit: %v", err)
	}
}

func requireErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
