package lending

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"hedge/crypto"
	"hedge/fixed"
)

// Bootstrap describes a market and its assets in TOML form. It is applied
// once when a node starts against empty state.
type Bootstrap struct {
	Authority string            `toml:"Authority"`
	Market    MarketConfig      `toml:"Market"`
	Assets    []BootstrapAsset  `toml:"Asset"`
	RiskPairs []BootstrapPair   `toml:"RiskPair"`
	Prices    map[string]string `toml:"Prices"`
}

// BootstrapAsset registers one asset and opens its pool.
type BootstrapAsset struct {
	Mint              string    `toml:"Mint"`
	FeedID            string    `toml:"FeedID"`
	Decimals          uint8     `toml:"Decimals"`
	CollateralEnabled bool      `toml:"CollateralEnabled"`
	Rate              RateModel `toml:"Rate"`
}

// BootstrapPair sets the risk parameters of two bootstrap mints.
type BootstrapPair struct {
	A string `toml:"A"`
	B string `toml:"B"`
	RiskPair
}

// LoadBootstrap decodes a bootstrap file. Unknown keys are rejected.
func LoadBootstrap(path string) (*Bootstrap, error) {
	cfg := &Bootstrap{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown bootstrap key %s", ErrInvalidConfig, undecoded[0])
	}
	return cfg, cfg.Validate()
}

// ParseBootstrap decodes bootstrap TOML held in memory.
func ParseBootstrap(data string) (*Bootstrap, error) {
	cfg := &Bootstrap{}
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// AuthorityAddress parses the bootstrap authority.
func (b *Bootstrap) AuthorityAddress() (crypto.Address, error) {
	return crypto.ParseAddress(strings.TrimSpace(b.Authority), crypto.AccountPrefix)
}

// MarketAddress is the market the bootstrap authority owns.
func (b *Bootstrap) MarketAddress() (crypto.Address, error) {
	authority, err := b.AuthorityAddress()
	if err != nil {
		return crypto.Address{}, err
	}
	return MarketAddress(authority), nil
}

// Validate checks addresses and limits without touching state.
func (b *Bootstrap) Validate() error {
	if b == nil {
		return ErrInvalidConfig
	}
	if _, err := b.AuthorityAddress(); err != nil {
		return fmt.Errorf("%w: authority: %w", ErrInvalidConfig, err)
	}
	if err := b.Market.Validate(); err != nil {
		return err
	}
	if len(b.Assets) > int(b.Market.MaxAssets) {
		return fmt.Errorf("%w: %d assets", ErrExceedsMaxAssets, len(b.Assets))
	}
	known := make(map[string]struct{}, len(b.Assets))
	for _, asset := range b.Assets {
		if _, err := crypto.ParseAddress(asset.Mint, crypto.MintPrefix); err != nil {
			return fmt.Errorf("%w: mint %q: %w", ErrInvalidMint, asset.Mint, err)
		}
		if asset.Decimals > fixed.MaxDecimals {
			return fmt.Errorf("%w: mint %q: %d decimals exceeds %d", ErrInvalidConfig, asset.Mint, asset.Decimals, fixed.MaxDecimals)
		}
		if err := asset.Rate.Validate(); err != nil {
			return err
		}
		known[asset.Mint] = struct{}{}
	}
	for _, pair := range b.RiskPairs {
		if _, ok := known[pair.A]; !ok {
			return fmt.Errorf("%w: risk pair mint %q", ErrAssetNotRegistered, pair.A)
		}
		if _, ok := known[pair.B]; !ok {
			return fmt.Errorf("%w: risk pair mint %q", ErrAssetNotRegistered, pair.B)
		}
	}
	for mint := range b.Prices {
		if _, ok := known[mint]; !ok {
			return fmt.Errorf("%w: price for mint %q", ErrAssetNotRegistered, mint)
		}
	}
	return nil
}

// Apply initialises the market described by the bootstrap on an engine bound
// to the bootstrap market. A market that already exists is left untouched and
// reported through the boolean.
func (b *Bootstrap) Apply(engine *Engine) (bool, error) {
	if err := b.Validate(); err != nil {
		return false, err
	}
	authority, _ := b.AuthorityAddress()
	if _, err := engine.InitMarket(authority, b.Market); err != nil {
		if errors.Is(err, ErrMarketExists) {
			return false, nil
		}
		return false, err
	}
	mints := make(map[string]crypto.Address, len(b.Assets))
	for _, entry := range b.Assets {
		mint, _ := crypto.ParseAddress(entry.Mint, crypto.MintPrefix)
		mints[entry.Mint] = mint
		if _, err := engine.RegisterAsset(authority, Asset{
			Mint:              mint,
			FeedID:            entry.FeedID,
			Decimals:          entry.Decimals,
			CollateralEnabled: entry.CollateralEnabled,
		}); err != nil {
			return false, fmt.Errorf("register %s: %w", entry.Mint, err)
		}
		if _, err := engine.InitPool(authority, mint, entry.Rate); err != nil {
			return false, fmt.Errorf("init pool %s: %w", entry.Mint, err)
		}
	}
	for _, pair := range b.RiskPairs {
		if err := engine.SetRiskPair(authority, mints[pair.A], mints[pair.B], pair.RiskPair); err != nil {
			return false, fmt.Errorf("risk pair %s/%s: %w", pair.A, pair.B, err)
		}
	}
	if len(b.Prices) > 0 && b.Market.PriceMode == PriceModeCache {
		updates := make([]PriceUpdate, 0, len(b.Prices))
		for _, entry := range b.Assets {
			raw, ok := b.Prices[entry.Mint]
			if !ok {
				continue
			}
			price, err := fixed.Parse(strings.TrimSpace(raw))
			if err != nil {
				return false, fmt.Errorf("price %s: %w", entry.Mint, err)
			}
			updates = append(updates, PriceUpdate{Mint: mints[entry.Mint], Price: price})
		}
		if err := engine.UpdatePrices(authority, updates); err != nil {
			return false, err
		}
	}
	return true, nil
}
