package lending

import (
	"fmt"

	"hedge/fixed"
)

// PriceSource resolves the USD price of a registered asset by index.
type PriceSource interface {
	Price(index uint16) (fixed.Q60, error)
}

type mockPrices struct{}

func (mockPrices) Price(uint16) (fixed.Q60, error) { return fixed.One(), nil }

type cachedPrices struct {
	cache *PriceCache
}

func (c cachedPrices) Price(index uint16) (fixed.Q60, error) {
	if c.cache == nil {
		return fixed.Q60{}, ErrPriceStale
	}
	entry, ok := c.cache.Lookup(index)
	if !ok {
		return fixed.Q60{}, fmt.Errorf("%w: no price for asset %d", ErrPriceStale, index)
	}
	return entry.Price, nil
}

// PriceSourceFor returns the resolver selected by the market price mode. In
// cache mode a missing entry is reported as ErrPriceStale, never defaulted.
func PriceSourceFor(market *Market, cache *PriceCache) PriceSource {
	if market != nil && market.PriceMode == PriceModeCache {
		return cachedPrices{cache: cache}
	}
	return mockPrices{}
}

// Lookup returns the cached entry for an asset index.
func (c *PriceCache) Lookup(index uint16) (PriceEntry, bool) {
	if c == nil {
		return PriceEntry{}, false
	}
	for _, entry := range c.Prices {
		if entry.AssetIndex == index {
			return entry, true
		}
	}
	return PriceEntry{}, false
}

// Upsert writes the price for an asset index, replacing any previous entry.
func (c *PriceCache) Upsert(index uint16, price fixed.Q60, now int64) error {
	if c == nil {
		return ErrStateNotConfigured
	}
	for i := range c.Prices {
		if c.Prices[i].AssetIndex == index {
			c.Prices[i].Price = price
			c.Prices[i].UpdatedAt = now
			return nil
		}
	}
	if len(c.Prices) >= MaxPriceEntries {
		return ErrExceedsMaxAssets
	}
	c.Prices = append(c.Prices, PriceEntry{AssetIndex: index, Price: price, UpdatedAt: now})
	return nil
}

// Age reports how many seconds passed since the entry for index was written.
func (c *PriceCache) Age(index uint16, now int64) (int64, error) {
	entry, ok := c.Lookup(index)
	if !ok {
		return 0, ErrPriceNotFound
	}
	if now < entry.UpdatedAt {
		return 0, nil
	}
	return now - entry.UpdatedAt, nil
}
