package lending

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hedge/core/events"
	"hedge/crypto"
	"hedge/fixed"
	"hedge/native/oracle"
)

// MarketConfig carries the parameters fixed at market initialisation.
type MarketConfig struct {
	MaxAssets              uint16    `json:"maxAssets" toml:"MaxAssets"`
	MaxPositions           uint16    `json:"maxPositions" toml:"MaxPositions"`
	DefaultLTVBps          uint16    `json:"defaultLtvBps" toml:"DefaultLTVBps"`
	DefaultLiqThresholdBps uint16    `json:"defaultLiqThresholdBps" toml:"DefaultLiqThresholdBps"`
	DefaultLiqBonusBps     uint16    `json:"defaultLiqBonusBps" toml:"DefaultLiqBonusBps"`
	PriceMode              PriceMode `json:"priceMode" toml:"PriceMode"`
	OracleMaxAgeSeconds    uint64    `json:"oracleMaxAgeSeconds" toml:"OracleMaxAgeSeconds"`
}

// Validate checks the configuration against the protocol limits.
func (c MarketConfig) Validate() error {
	if c.MaxAssets == 0 || c.MaxAssets > MaxAssets {
		return fmt.Errorf("%w: max assets %d outside 1..%d", ErrExceedsMaxAssets, c.MaxAssets, MaxAssets)
	}
	if c.MaxPositions == 0 || c.MaxPositions > MaxPositions {
		return fmt.Errorf("%w: max positions %d outside 1..%d", ErrExceedsMaxPositions, c.MaxPositions, MaxPositions)
	}
	if c.DefaultLTVBps > BasisPoints || c.DefaultLiqThresholdBps > BasisPoints || c.DefaultLiqBonusBps > BasisPoints {
		return fmt.Errorf("%w: default risk parameters exceed 100%%", ErrInvalidConfig)
	}
	if c.PriceMode != PriceModeMock && c.PriceMode != PriceModeCache {
		return fmt.Errorf("%w: price mode %s", ErrInvalidConfig, c.PriceMode)
	}
	return nil
}

// RiskPairUpdate addresses a pair by asset index for batch writes.
type RiskPairUpdate struct {
	AIndex uint16 `json:"aIndex" toml:"AIndex"`
	BIndex uint16 `json:"bIndex" toml:"BIndex"`
	RiskPair
}

// PriceUpdate is one authority-supplied cache write.
type PriceUpdate struct {
	Mint  crypto.Address `json:"mint"`
	Price fixed.Q60      `json:"price"`
}

// FeedSource yields the latest quote for a feed id.
type FeedSource interface {
	Latest(feedID string) (oracle.Quote, error)
}

func (s *snapshot) authorize(authority crypto.Address) error {
	if authority.IsZero() || !s.market.Authority.Equal(authority) {
		return ErrUnauthorized
	}
	return nil
}

// InitMarket creates the market owned by authority together with its empty
// registries and price cache.
func (e *Engine) InitMarket(authority crypto.Address, cfg MarketConfig) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrStateNotConfigured
	}
	if authority.IsZero() || !MarketAddress(authority).Equal(e.market) {
		return nil, ErrUnauthorized
	}
	existing, err := e.state.Market(e.market)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrMarketExists
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	market := &Market{
		Address:                e.market,
		Authority:              authority,
		MaxAssets:              cfg.MaxAssets,
		MaxPositions:           cfg.MaxPositions,
		DefaultLTVBps:          cfg.DefaultLTVBps,
		DefaultLiqThresholdBps: cfg.DefaultLiqThresholdBps,
		DefaultLiqBonusBps:     cfg.DefaultLiqBonusBps,
		PriceMode:              cfg.PriceMode,
		OracleMaxAgeSeconds:    cfg.OracleMaxAgeSeconds,
		Version:                1,
	}
	update := &StateUpdate{
		Market: market,
		Assets: &AssetRegistry{Market: e.market},
		Risk:   &RiskRegistry{Market: e.market},
		Prices: &PriceCache{Market: e.market},
	}
	if err := e.state.Commit(update); err != nil {
		return nil, err
	}
	e.emit(events.MarketInitialized{
		Market:       e.market,
		Authority:    authority,
		MaxAssets:    cfg.MaxAssets,
		MaxPositions: cfg.MaxPositions,
	})
	return market.Clone(), nil
}

// RegisterAsset appends an asset and grows the risk matrix to cover it.
func (e *Engine) RegisterAsset(authority crypto.Address, def Asset) (Asset, error) {
	snap, err := e.load()
	if err != nil {
		return Asset{}, err
	}
	if err := snap.authorize(authority); err != nil {
		return Asset{}, err
	}
	asset, err := snap.assets.Register(def, snap.market.MaxAssets)
	if err != nil {
		return Asset{}, err
	}
	snap.risk.Grow(snap.assets.Count(), snap.market.DefaultPair())
	if err := e.state.Commit(&StateUpdate{Assets: snap.assets, Risk: snap.risk}); err != nil {
		return Asset{}, err
	}
	e.emit(events.AssetRegistered{Market: e.market, Mint: asset.Mint, Index: asset.Index})
	return asset, nil
}

// InitPool opens the pool of a registered asset with unit indices.
func (e *Engine) InitPool(authority, mint crypto.Address, rate RateModel) (*Pool, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	if err := snap.authorize(authority); err != nil {
		return nil, err
	}
	if _, err := snap.assets.resolve(mint); err != nil {
		return nil, err
	}
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	existing, err := e.state.Pool(e.market, mint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPoolExists
	}
	pool := newPool(e.market, mint, rate, snap.now)
	if err := e.state.Commit(&StateUpdate{Pools: []*Pool{pool}}); err != nil {
		return nil, err
	}
	e.emit(events.PoolInitialized{Market: e.market, Mint: mint, Pool: pool.Address})
	return pool.Clone(), nil
}

// SetRiskPair writes the parameters of the pair formed by two registered
// mints.
func (e *Engine) SetRiskPair(authority, aMint, bMint crypto.Address, pair RiskPair) error {
	snap, err := e.load()
	if err != nil {
		return err
	}
	if err := snap.authorize(authority); err != nil {
		return err
	}
	a, err := snap.assets.resolve(aMint)
	if err != nil {
		return err
	}
	b, err := snap.assets.resolve(bMint)
	if err != nil {
		return err
	}
	if err := validatePair(pair); err != nil {
		return err
	}
	snap.risk.Set(a.Index, b.Index, pair, snap.market.DefaultPair())
	if err := e.state.Commit(&StateUpdate{Risk: snap.risk}); err != nil {
		return err
	}
	e.emit(events.RiskPairSet{
		Market:          e.market,
		AMint:           aMint,
		BMint:           bMint,
		AIndex:          a.Index,
		BIndex:          b.Index,
		LTVBps:          pair.LTVBps,
		LiqThresholdBps: pair.LiqThresholdBps,
		LiqBonusBps:     pair.LiqBonusBps,
	})
	return nil
}

// SetRiskPairsBatch writes several pairs addressed by asset index. Every index
// must refer to a registered asset; nothing is written when one does not.
func (e *Engine) SetRiskPairsBatch(authority crypto.Address, updates []RiskPairUpdate) error {
	snap, err := e.load()
	if err != nil {
		return err
	}
	if err := snap.authorize(authority); err != nil {
		return err
	}
	count := snap.assets.Count()
	for _, u := range updates {
		if u.AIndex >= count || u.BIndex >= count {
			return fmt.Errorf("%w: pair (%d,%d) with %d assets", ErrAssetNotRegistered, u.AIndex, u.BIndex, count)
		}
		if err := validatePair(u.RiskPair); err != nil {
			return err
		}
	}
	fill := snap.market.DefaultPair()
	snap.risk.Grow(count, fill)
	for _, u := range updates {
		snap.risk.Set(u.AIndex, u.BIndex, u.RiskPair, fill)
	}
	if err := e.state.Commit(&StateUpdate{Risk: snap.risk}); err != nil {
		return err
	}
	e.emit(events.RiskPairsBatchSet{Market: e.market, Count: uint16(len(updates))})
	return nil
}

func validatePair(pair RiskPair) error {
	if pair.LTVBps > BasisPoints || pair.LiqThresholdBps > BasisPoints || pair.LiqBonusBps > BasisPoints {
		return fmt.Errorf("%w: risk pair exceeds 100%%", ErrInvalidConfig)
	}
	return nil
}

// SetPaused toggles the market pause flag.
func (e *Engine) SetPaused(authority crypto.Address, paused bool) error {
	snap, err := e.load()
	if err != nil {
		return err
	}
	if err := snap.authorize(authority); err != nil {
		return err
	}
	snap.market.Paused = paused
	if err := e.state.Commit(&StateUpdate{Market: snap.market}); err != nil {
		return err
	}
	e.emit(events.MarketPauseChanged{Market: e.market, Paused: paused})
	return nil
}

func (s *snapshot) priceCache() *PriceCache {
	if s.prices == nil {
		s.prices = &PriceCache{Market: s.market.Address}
	}
	return s.prices
}

// UpdatePrices writes authority-supplied prices into the cache. The market
// must resolve prices from the cache.
func (e *Engine) UpdatePrices(authority crypto.Address, updates []PriceUpdate) error {
	snap, err := e.load()
	if err != nil {
		return err
	}
	if err := snap.authorize(authority); err != nil {
		return err
	}
	if snap.market.PriceMode != PriceModeCache {
		return ErrUnsupportedMode
	}
	cache := snap.priceCache()
	for _, u := range updates {
		asset, err := snap.assets.resolve(u.Mint)
		if err != nil {
			return err
		}
		if err := cache.Upsert(asset.Index, u.Price, snap.now); err != nil {
			return err
		}
	}
	cache.LastSlot = e.slot
	cache.UpdatedAt = snap.now
	if err := e.state.Commit(&StateUpdate{Prices: cache}); err != nil {
		return err
	}
	e.emit(events.PricesUpdated{Market: e.market, Count: uint16(len(updates)), Slot: e.slot})
	return nil
}

// UpdatePriceFromFeed stores the quote of the asset's configured feed. Anyone
// may call it. Quotes for another feed or older than the market oracle age
// are skipped and reported through the boolean.
func (e *Engine) UpdatePriceFromFeed(mint crypto.Address, quote oracle.Quote) (bool, error) {
	snap, err := e.load()
	if err != nil {
		return false, err
	}
	asset, err := snap.assets.resolve(mint)
	if err != nil {
		return false, err
	}
	feed := oracle.NormalizeFeedID(asset.FeedID)
	if feed == "" {
		return false, fmt.Errorf("%w: %s", ErrFeedNotSet, mint)
	}
	if oracle.NormalizeFeedID(quote.FeedID) != feed {
		return false, nil
	}
	if maxAge := snap.market.OracleMaxAgeSeconds; maxAge > 0 {
		if quote.PublishTime.IsZero() || time.Unix(snap.now, 0).Sub(quote.PublishTime) > time.Duration(maxAge)*time.Second {
			return false, nil
		}
	}
	price, err := quote.Q60()
	if err != nil {
		if errors.Is(err, oracle.ErrNegativePrice) {
			return false, fmt.Errorf("%w: %w", ErrNegativeFeedPrice, err)
		}
		return false, mathErr(err)
	}
	cache := snap.priceCache()
	if err := cache.Upsert(asset.Index, price, snap.now); err != nil {
		return false, err
	}
	cache.LastSlot = e.slot
	cache.UpdatedAt = snap.now
	if err := e.state.Commit(&StateUpdate{Prices: cache}); err != nil {
		return false, err
	}
	e.emit(events.PricesUpdated{Market: e.market, Count: 1, Slot: e.slot})
	return true, nil
}

// RefreshFeeds pulls a quote for every asset with a feed id and stores the
// fresh ones. Assets whose feed has no quote are skipped; the first other
// failure aborts the refresh.
func (e *Engine) RefreshFeeds(source FeedSource) (int, error) {
	if source == nil {
		return 0, nil
	}
	snap, err := e.load()
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, asset := range snap.assets.Assets {
		feed := strings.TrimSpace(asset.FeedID)
		if feed == "" {
			continue
		}
		quote, err := source.Latest(feed)
		if err != nil {
			if errors.Is(err, oracle.ErrNoFreshQuote) || errors.Is(err, oracle.ErrFeedNotFound) {
				continue
			}
			return updated, err
		}
		ok, err := e.UpdatePriceFromFeed(asset.Mint, quote)
		if err != nil {
			return updated, err
		}
		if ok {
			updated++
		}
	}
	return updated, nil
}
