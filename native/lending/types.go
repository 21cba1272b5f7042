package lending

import (
	"fmt"
	"strings"

	"hedge/crypto"
	"hedge/fixed"
)

const (
	// MaxAssets bounds the number of assets a market may register.
	MaxAssets = 33
	// MaxPositions bounds the number of positions an obligation may hold.
	MaxPositions = 16
	// BasisPoints is the denominator for every *_bps field.
	BasisPoints = 10_000
	// SecondsPerYear is the 365-day year used by the rate model.
	SecondsPerYear = 365 * 24 * 60 * 60
	// MaxBorrowAPYHardBps is the protocol-wide ceiling on any borrow APY.
	MaxBorrowAPYHardBps = 10_000
	// HealthThreshold is the health score at the risk boundary (x1000 scale).
	HealthThreshold = 1_000
	// HealthMax is reported for obligations that carry no debt.
	HealthMax = ^uint64(0)
	// MaxPriceEntries bounds the price cache.
	MaxPriceEntries = 64
)

// PriceMode selects how asset prices are resolved for a market.
type PriceMode uint8

const (
	// PriceModeMock prices every asset at exactly 1 USD.
	PriceModeMock PriceMode = iota
	// PriceModeCache reads prices from the market price cache.
	PriceModeCache
)

func (m PriceMode) String() string {
	switch m {
	case PriceModeMock:
		return "mock"
	case PriceModeCache:
		return "cache"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParsePriceMode converts the textual mode used in configuration files.
func ParsePriceMode(value string) (PriceMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "mock":
		return PriceModeMock, nil
	case "cache":
		return PriceModeCache, nil
	default:
		return 0, fmt.Errorf("%w: unknown price mode %q", ErrInvalidConfig, value)
	}
}

func (m PriceMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *PriceMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePriceMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Market holds the global configuration of one lending market.
type Market struct {
	Address   crypto.Address `json:"address"`
	Authority crypto.Address `json:"authority"`
	// MaxAssets and MaxPositions are capped by the package constants.
	MaxAssets    uint16 `json:"maxAssets"`
	MaxPositions uint16 `json:"maxPositions"`
	// Defaults apply to risk pairs that leave a field unset.
	DefaultLTVBps          uint16    `json:"defaultLtvBps"`
	DefaultLiqThresholdBps uint16    `json:"defaultLiqThresholdBps"`
	DefaultLiqBonusBps     uint16    `json:"defaultLiqBonusBps"`
	PriceMode              PriceMode `json:"priceMode"`
	// OracleMaxAgeSeconds is the freshness window for feed updates.
	OracleMaxAgeSeconds uint64 `json:"oracleMaxAgeSeconds"`
	Paused              bool   `json:"paused"`
	Version             uint8  `json:"version"`
}

// DefaultPair returns the market defaults as a risk pair.
func (m *Market) DefaultPair() RiskPair {
	if m == nil {
		return RiskPair{}
	}
	return RiskPair{
		LTVBps:          m.DefaultLTVBps,
		LiqThresholdBps: m.DefaultLiqThresholdBps,
		LiqBonusBps:     m.DefaultLiqBonusBps,
	}
}

// Clone returns a copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Asset describes one registered token.
type Asset struct {
	Mint crypto.Address `json:"mint"`
	// FeedID identifies the external price feed, empty when unused.
	FeedID            string `json:"feedId,omitempty"`
	Decimals          uint8  `json:"decimals"`
	CollateralEnabled bool   `json:"collateralEnabled"`
	Index             uint16 `json:"index"`
}

// AssetRegistry lists the assets of a market in index order.
type AssetRegistry struct {
	Market crypto.Address `json:"market"`
	Assets []Asset        `json:"assets"`
}

// Count returns the number of registered assets.
func (r *AssetRegistry) Count() uint16 {
	if r == nil {
		return 0
	}
	return uint16(len(r.Assets))
}

// Clone returns a deep copy of the registry.
func (r *AssetRegistry) Clone() *AssetRegistry {
	if r == nil {
		return nil
	}
	clone := &AssetRegistry{Market: r.Market}
	if len(r.Assets) > 0 {
		clone.Assets = append([]Asset(nil), r.Assets...)
	}
	return clone
}

// RiskPair holds the risk parameters for an unordered asset pair. A zero LTV or
// liquidation threshold means the market default applies.
type RiskPair struct {
	LTVBps          uint16 `json:"ltvBps" toml:"LTVBps"`
	LiqThresholdBps uint16 `json:"liqThresholdBps" toml:"LiqThresholdBps"`
	LiqBonusBps     uint16 `json:"liqBonusBps" toml:"LiqBonusBps"`
}

// RiskRegistry stores the triangular risk matrix of a market.
type RiskRegistry struct {
	Market crypto.Address `json:"market"`
	Dim    uint16         `json:"dim"`
	Pairs  []RiskPair     `json:"pairs"`
}

// Clone returns a deep copy of the registry.
func (r *RiskRegistry) Clone() *RiskRegistry {
	if r == nil {
		return nil
	}
	clone := &RiskRegistry{Market: r.Market, Dim: r.Dim}
	if len(r.Pairs) > 0 {
		clone.Pairs = append([]RiskPair(nil), r.Pairs...)
	}
	return clone
}

// Pool tracks the share accounting of one asset.
type Pool struct {
	Address crypto.Address `json:"address"`
	Market  crypto.Address `json:"market"`
	Mint    crypto.Address `json:"mint"`
	// BorrowIndex and DepositIndex convert shares into atomic amounts. Both
	// start at 1.0 and never decrease.
	BorrowIndex        fixed.Q60 `json:"borrowIndex"`
	DepositIndex       fixed.Q60 `json:"depositIndex"`
	TotalBorrowShares  fixed.Q60 `json:"totalBorrowShares"`
	TotalDepositShares fixed.Q60 `json:"totalDepositShares"`
	// LastTimestamp is the unix second of the last accrual.
	LastTimestamp int64     `json:"lastTimestamp"`
	Rate          RateModel `json:"rate"`
	// VaultBalance is the atomic amount held by the pool vault.
	VaultBalance uint64 `json:"vaultBalance"`
}

// Clone returns a copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Position is the exposure of an obligation to one asset.
type Position struct {
	Mint          crypto.Address `json:"mint"`
	DepositShares fixed.Q60      `json:"depositShares"`
	BorrowShares  fixed.Q60      `json:"borrowShares"`
}

// Empty reports whether both share balances are zero.
func (p Position) Empty() bool {
	return p.DepositShares.IsZero() && p.BorrowShares.IsZero()
}

// Obligation aggregates the positions of one owner in one market.
type Obligation struct {
	Market    crypto.Address `json:"market"`
	Owner     crypto.Address `json:"owner"`
	Positions []Position     `json:"positions"`
}

// Clone returns a deep copy of the obligation.
func (o *Obligation) Clone() *Obligation {
	if o == nil {
		return nil
	}
	clone := &Obligation{Market: o.Market, Owner: o.Owner}
	if len(o.Positions) > 0 {
		clone.Positions = append([]Position(nil), o.Positions...)
	}
	return clone
}

// PriceEntry is the cached USD price of one asset.
type PriceEntry struct {
	AssetIndex uint16    `json:"assetIndex"`
	Price      fixed.Q60 `json:"price"`
	UpdatedAt  int64     `json:"updatedAt"`
}

// PriceCache stores the latest prices written for a market.
type PriceCache struct {
	Market    crypto.Address `json:"market"`
	LastSlot  uint64         `json:"lastSlot"`
	UpdatedAt int64          `json:"updatedAt"`
	Prices    []PriceEntry   `json:"prices"`
}

// Clone returns a deep copy of the cache.
func (c *PriceCache) Clone() *PriceCache {
	if c == nil {
		return nil
	}
	clone := &PriceCache{Market: c.Market, LastSlot: c.LastSlot, UpdatedAt: c.UpdatedAt}
	if len(c.Prices) > 0 {
		clone.Prices = append([]PriceEntry(nil), c.Prices...)
	}
	return clone
}

// MarketAddress derives the canonical market address for an authority.
func MarketAddress(authority crypto.Address) crypto.Address {
	return crypto.DeriveAddress(crypto.MarketPrefix, []byte("market"), authority.Bytes())
}

// PoolAddress derives the canonical pool address for a market asset.
func PoolAddress(market, mint crypto.Address) crypto.Address {
	return crypto.DeriveAddress(crypto.PoolPrefix, []byte("pool"), market.Bytes(), mint.Bytes())
}

// VaultAddress derives the custody vault address of a pool.
func VaultAddress(market, mint crypto.Address) crypto.Address {
	return crypto.DeriveAddress(crypto.VaultPrefix, []byte("vault"), market.Bytes(), mint.Bytes())
}

// ObligationAddress derives the canonical obligation address of an owner.
func ObligationAddress(market, owner crypto.Address) crypto.Address {
	return crypto.DeriveAddress(crypto.ObligationPrefix, []byte("obligation"), market.Bytes(), owner.Bytes())
}
