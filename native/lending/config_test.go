package lending

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func bootstrapTOML() string {
	return fmt.Sprintf(`
Authority = %q

[Market]
MaxAssets = 4
MaxPositions = 4
DefaultLTVBps = 5000
DefaultLiqThresholdBps = 6000
DefaultLiqBonusBps = 500
PriceMode = "cache"
OracleMaxAgeSeconds = 30

[[Asset]]
Mint = %q
Decimals = 6
CollateralEnabled = true
FeedID = "0xabc"
[Asset.Rate]
KinkUtilBps = 8000
BaseBorrowAPYBps = 200
Slope1Bps = 1000
Slope2Bps = 5000
ReserveFactorBps = 1000
MaxBorrowAPYBps = 10000

[[Asset]]
Mint = %q
Decimals = 9
[Asset.Rate]
KinkUtilBps = 9000
Slope1Bps = 400

[[RiskPair]]
A = %q
B = %q
LTVBps = 7500
LiqThresholdBps = 8000
LiqBonusBps = 400

[Prices]
%q = "1"
%q = "150.25"
`, testAuthority, testMintA, testMintB, testMintA, testMintB, testMintA, testMintB)
}

func TestLoadBootstrapAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.toml")
	if err := os.WriteFile(path, []byte(bootstrapTOML()), 0o600); err != nil {
		t.Fatalf("write bootstrap: %v", err)
	}
	boot, err := LoadBootstrap(path)
	if err != nil {
		t.Fatalf("load bootstrap: %v", err)
	}
	if boot.Market.PriceMode != PriceModeCache || len(boot.Assets) != 2 || boot.RiskPairs[0].LTVBps != 7500 {
		t.Fatalf("unexpected bootstrap %+v", boot)
	}
	market, err := boot.MarketAddress()
	if err != nil {
		t.Fatalf("market address: %v", err)
	}

	state := newMemState()
	engine := NewEngine(market)
	engine.SetState(state)
	engine.SetNowFunc(func() time.Time { return testNow })
	created, err := boot.Apply(engine)
	if err != nil || !created {
		t.Fatalf("apply: created=%v err=%v", created, err)
	}
	view, err := engine.View()
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Assets.Count() != 2 || view.Assets.Assets[0].FeedID != "0xabc" {
		t.Fatalf("unexpected assets %+v", view.Assets)
	}
	if pair, _ := view.Risk.Pair(0, 1); pair.LiqBonusBps != 400 {
		t.Fatalf("unexpected risk pair %+v", pair)
	}
	if price, err := PriceSourceFor(view.Market, view.Prices).Price(1); err != nil || price.String() != "150.25" {
		t.Fatalf("unexpected bootstrap price %s %v", price, err)
	}
	if _, err := engine.PoolSnapshot(testMintB); err != nil {
		t.Fatalf("pool snapshot: %v", err)
	}

	created, err = boot.Apply(engine)
	if err != nil || created {
		t.Fatalf("second apply must be a no-op: created=%v err=%v", created, err)
	}
}

func TestBootstrapValidation(t *testing.T) {
	_, err := ParseBootstrap(`Authority = "not-an-address"`)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}

	raw := fmt.Sprintf(`
Authority = %q
[Market]
MaxAssets = 2
MaxPositions = 2
[[RiskPair]]
A = %q
B = %q
`, testAuthority, testMintA, testMintB)
	_, err = ParseBootstrap(raw)
	if !errors.Is(err, ErrAssetNotRegistered) {
		t.Fatalf("expected unknown risk pair mint, got %v", err)
	}

	wide := fmt.Sprintf(`
Authority = %q
[Market]
MaxAssets = 2
MaxPositions = 2
[[Asset]]
Mint = %q
Decimals = 24
`, testAuthority, testMintA)
	_, err = ParseBootstrap(wide)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected oversized decimals to be rejected, got %v", err)
	}
}
