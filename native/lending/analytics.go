package lending

import (
	"errors"
	"sort"

	"hedge/crypto"
	"hedge/fixed"
)

// MarketView is a read-only copy of the market records.
type MarketView struct {
	Market *Market        `json:"market"`
	Assets *AssetRegistry `json:"assets"`
	Risk   *RiskRegistry  `json:"risk"`
	Prices *PriceCache    `json:"prices,omitempty"`
}

// View returns the current market records.
func (e *Engine) View() (*MarketView, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	return &MarketView{Market: snap.market, Assets: snap.assets, Risk: snap.risk, Prices: snap.prices}, nil
}

// PoolSnapshot is a pool accrued to the query time with its derived figures.
type PoolSnapshot struct {
	Pool         *Pool      `json:"pool"`
	Asset        Asset      `json:"asset"`
	TotalDeposit uint64     `json:"totalDeposits"`
	TotalBorrow  uint64     `json:"totalBorrows"`
	APY          CurvePoint `json:"apy"`
}

// PoolSnapshot accrues the pool of mint in memory and reports its totals and
// current rates. Nothing is written back.
func (e *Engine) PoolSnapshot(mint crypto.Address) (*PoolSnapshot, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	return snap.poolSnapshot(mint)
}

// PoolSnapshots returns a snapshot for every registered asset that has a pool,
// in asset index order.
func (e *Engine) PoolSnapshots() ([]*PoolSnapshot, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	out := make([]*PoolSnapshot, 0, len(snap.assets.Assets))
	for _, asset := range snap.assets.Assets {
		ps, err := snap.poolSnapshot(asset.Mint)
		if errors.Is(err, ErrPoolNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

func (s *snapshot) poolSnapshot(mint crypto.Address) (*PoolSnapshot, error) {
	asset, err := s.assets.resolve(mint)
	if err != nil {
		return nil, err
	}
	p, err := s.pool(mint)
	if err != nil {
		return nil, err
	}
	deposits, err := p.TotalDeposits()
	if err != nil {
		return nil, mathErr(err)
	}
	borrows, err := p.TotalBorrows()
	if err != nil {
		return nil, mathErr(err)
	}
	return &PoolSnapshot{
		Pool:         p.Clone(),
		Asset:        asset,
		TotalDeposit: deposits,
		TotalBorrow:  borrows,
		APY:          p.APY(),
	}, nil
}

// Obligation returns the stored obligation of owner.
func (e *Engine) Obligation(owner crypto.Address) (*Obligation, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	return snap.obligation(owner, false)
}

// Portfolio summarises an obligation in USD.
type Portfolio struct {
	Owner        crypto.Address `json:"owner"`
	DepositValue fixed.Q60      `json:"depositValue"`
	BorrowValue  fixed.Q60      `json:"borrowValue"`
	// NetValue is deposits minus borrows, floored at zero.
	NetValue    fixed.Q60 `json:"netValue"`
	Health      uint64    `json:"health"`
	Liquidation uint64    `json:"liquidationHealth"`
	Positions   int       `json:"positions"`
}

func (s *snapshot) portfolio(ob *Obligation) (*Portfolio, error) {
	standard, err := s.health(ob, HealthModeLTV)
	if err != nil {
		return nil, err
	}
	liq, err := s.health(ob, HealthModeLiquidation)
	if err != nil {
		return nil, err
	}
	net, err := standard.DepositValue.Sub(standard.BorrowValue)
	if err != nil {
		net = fixed.Zero()
	}
	return &Portfolio{
		Owner:        ob.Owner,
		DepositValue: standard.DepositValue,
		BorrowValue:  standard.BorrowValue,
		NetValue:     net,
		Health:       standard.Score,
		Liquidation:  liq.Score,
		Positions:    len(ob.Positions),
	}, nil
}

// PortfolioValue values the obligation of owner at current prices.
func (e *Engine) PortfolioValue(owner crypto.Address) (*Portfolio, error) {
	snap, err := e.load()
	if err != nil {
		return nil, err
	}
	ob, err := snap.obligation(owner, false)
	if err != nil {
		return nil, err
	}
	return snap.portfolio(ob)
}

// Unvalued is an obligation left out of a scan because it could not be
// valued, typically for a stale or missing price.
type Unvalued struct {
	Owner crypto.Address `json:"owner"`
	Err   error          `json:"-"`
}

// Leaderboard ranks obligations by net value, largest first, ties broken by
// owner address. Obligations of other markets are ignored and those that
// cannot be valued are reported separately. A non-positive limit returns
// every entry.
func (e *Engine) Leaderboard(obligations []*Obligation, limit int) ([]*Portfolio, []Unvalued, error) {
	snap, err := e.load()
	if err != nil {
		return nil, nil, err
	}
	out := make([]*Portfolio, 0, len(obligations))
	var unvalued []Unvalued
	for _, ob := range obligations {
		if ob == nil || !ob.Market.Equal(snap.market.Address) || len(ob.Positions) == 0 {
			continue
		}
		p, err := snap.portfolio(ob)
		if err != nil {
			unvalued = append(unvalued, Unvalued{Owner: ob.Owner, Err: err})
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].NetValue.Cmp(out[j].NetValue); c != 0 {
			return c > 0
		}
		return out[i].Owner.Compare(out[j].Owner) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, unvalued, nil
}

// Candidate is an obligation eligible for liquidation.
type Candidate struct {
	Owner  crypto.Address `json:"owner"`
	Report *HealthReport  `json:"report"`
}

// ScanLiquidatable returns the obligations whose liquidation-mode health is
// below the threshold, lowest health first, and the indebted obligations
// whose health could not be computed.
func (e *Engine) ScanLiquidatable(obligations []*Obligation) ([]Candidate, []Unvalued, error) {
	snap, err := e.load()
	if err != nil {
		return nil, nil, err
	}
	var out []Candidate
	var unvalued []Unvalued
	for _, ob := range obligations {
		if ob == nil || !ob.Market.Equal(snap.market.Address) || !ob.HasDebt() {
			continue
		}
		report, err := snap.health(ob, HealthModeLiquidation)
		if err != nil {
			unvalued = append(unvalued, Unvalued{Owner: ob.Owner, Err: err})
			continue
		}
		if !report.Healthy() {
			out = append(out, Candidate{Owner: ob.Owner, Report: report})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Report.Score != out[j].Report.Score {
			return out[i].Report.Score < out[j].Report.Score
		}
		return out[i].Owner.Compare(out[j].Owner) < 0
	})
	return out, unvalued, nil
}
