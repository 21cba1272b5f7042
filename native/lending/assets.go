package lending

import (
	"fmt"
	"strings"

	"hedge/crypto"
	"hedge/fixed"
)

// Lookup returns the asset registered for mint.
func (r *AssetRegistry) Lookup(mint crypto.Address) (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	for _, asset := range r.Assets {
		if asset.Mint.Equal(mint) {
			return asset, true
		}
	}
	return Asset{}, false
}

// ByIndex returns the asset at the given registry index.
func (r *AssetRegistry) ByIndex(index uint16) (Asset, bool) {
	if r == nil || int(index) >= len(r.Assets) {
		return Asset{}, false
	}
	return r.Assets[index], true
}

// Register appends a new asset with the next sequential index. Indices are
// dense and never reused.
func (r *AssetRegistry) Register(def Asset, maxAssets uint16) (Asset, error) {
	if r == nil {
		return Asset{}, ErrStateNotConfigured
	}
	if def.Mint.IsZero() {
		return Asset{}, ErrInvalidMint
	}
	if def.Decimals > fixed.MaxDecimals {
		return Asset{}, fmt.Errorf("%w: %d decimals exceeds %d", ErrInvalidConfig, def.Decimals, fixed.MaxDecimals)
	}
	if _, exists := r.Lookup(def.Mint); exists {
		return Asset{}, fmt.Errorf("%w: %s already registered", ErrInvalidMint, def.Mint)
	}
	count := r.Count()
	if count >= maxAssets || count >= MaxAssets {
		return Asset{}, ErrExceedsMaxAssets
	}
	asset := Asset{
		Mint:              def.Mint,
		FeedID:            strings.TrimSpace(def.FeedID),
		Decimals:          def.Decimals,
		CollateralEnabled: def.CollateralEnabled,
		Index:             count,
	}
	r.Assets = append(r.Assets, asset)
	return asset, nil
}

// resolve maps a mint to its asset or reports ErrAssetNotRegistered.
func (r *AssetRegistry) resolve(mint crypto.Address) (Asset, error) {
	asset, ok := r.Lookup(mint)
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotRegistered, mint)
	}
	return asset, nil
}
