// Package markettest builds a small two-asset market for service tests.
package markettest

import (
	"time"

	"hedge/crypto"
	"hedge/native/lending"
)

var (
	Authority = Addr(crypto.AccountPrefix, 0xA0)
	Alice     = Addr(crypto.AccountPrefix, 0x01)
	Bob       = Addr(crypto.AccountPrefix, 0x02)
	Carol     = Addr(crypto.AccountPrefix, 0x03)
	// USD is priced at 1 and SOL at 2, both with 6 decimals.
	USD = Addr(crypto.MintPrefix, 0x13)
	SOL = Addr(crypto.MintPrefix, 0x12)

	Now = time.Unix(1_700_000_000, 0).UTC()
)

// Addr returns an address whose bytes all equal b.
func Addr(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = b
	}
	return crypto.NewAddress(prefix, raw)
}

// Clock returns Now.
func Clock() time.Time { return Now }

// Rate is the rate model used by both pools.
func Rate() lending.RateModel {
	return lending.RateModel{KinkUtilBps: 8000, BaseBorrowAPYBps: 200, Slope1Bps: 1000, Slope2Bps: 5000, ReserveFactorBps: 1000, MaxBorrowAPYBps: 10000}
}

// Bootstrap describes the test market in cache price mode.
func Bootstrap() *lending.Bootstrap {
	return &lending.Bootstrap{
		Authority: Authority.String(),
		Market: lending.MarketConfig{
			MaxAssets:              8,
			MaxPositions:           4,
			DefaultLTVBps:          5000,
			DefaultLiqThresholdBps: 6000,
			DefaultLiqBonusBps:     500,
			PriceMode:              lending.PriceModeCache,
			OracleMaxAgeSeconds:    60,
		},
		Assets: []lending.BootstrapAsset{
			{Mint: USD.String(), Decimals: 6, CollateralEnabled: true, FeedID: "feed-usd", Rate: Rate()},
			{Mint: SOL.String(), Decimals: 6, CollateralEnabled: true, Rate: Rate()},
		},
		RiskPairs: []lending.BootstrapPair{
			{A: SOL.String(), B: USD.String(), RiskPair: lending.RiskPair{LTVBps: 8000, LiqThresholdBps: 8500, LiqBonusBps: 500}},
		},
		Prices: map[string]string{
			USD.String(): "1",
			SOL.String(): "2",
		},
	}
}
