package state

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"hedge/crypto"
	"hedge/fixed"
	"hedge/native/lending"
)

type storedMarket struct {
	Address                [crypto.AddressLength]byte
	Authority              [crypto.AddressLength]byte
	MaxAssets              uint16
	MaxPositions           uint16
	DefaultLTVBps          uint16
	DefaultLiqThresholdBps uint16
	DefaultLiqBonusBps     uint16
	PriceMode              uint8
	OracleMaxAgeSeconds    uint64
	Paused                 bool
	Version                uint8
}

type storedAsset struct {
	Mint              [crypto.AddressLength]byte
	FeedID            string
	Decimals          uint8
	CollateralEnabled bool
	Index             uint16
}

type storedAssets struct {
	Assets []storedAsset
}

type storedRisk struct {
	Dim   uint16
	Pairs []lending.RiskPair
}

type storedPrice struct {
	AssetIndex uint16
	Price      *big.Int
	UpdatedAt  uint64
}

type storedPrices struct {
	LastSlot  uint64
	UpdatedAt uint64
	Prices    []storedPrice
}

type storedPool struct {
	Address            [crypto.AddressLength]byte
	Mint               [crypto.AddressLength]byte
	BorrowIndex        *big.Int
	DepositIndex       *big.Int
	TotalBorrowShares  *big.Int
	TotalDepositShares *big.Int
	LastTimestamp      uint64
	Rate               lending.RateModel
	VaultBalance       uint64
}

type storedPosition struct {
	Mint          [crypto.AddressLength]byte
	DepositShares *big.Int
	BorrowShares  *big.Int
}

type storedObligation struct {
	Owner     [crypto.AddressLength]byte
	Positions []storedPosition
}

func raw(addr crypto.Address) [crypto.AddressLength]byte {
	var out [crypto.AddressLength]byte
	copy(out[:], addr.Bytes())
	return out
}

func addrFrom(prefix crypto.AddressPrefix, b [crypto.AddressLength]byte) crypto.Address {
	return crypto.NewAddress(prefix, b[:])
}

func q60From(v *big.Int) (fixed.Q60, error) {
	if v == nil {
		return fixed.Zero(), nil
	}
	return fixed.FromBig(v)
}

// Timestamps are unix seconds and never negative.
func unixOut(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// LendingStore persists market records for the lending engine. Reads return
// (nil, nil) for missing records and Commit applies a StateUpdate as a single
// batch. Commit is serialised so concurrent writers never interleave batches.
type LendingStore struct {
	manager *Manager
	mu      sync.Mutex
}

// LendingStore returns the lending view of the manager.
func (m *Manager) LendingStore() *LendingStore {
	if m == nil {
		return nil
	}
	return &LendingStore{manager: m}
}

func (s *LendingStore) Market(addr crypto.Address) (*lending.Market, error) {
	var rec storedMarket
	ok, err := s.manager.KVGet(recordKey(lendingMarketPrefix, addr.Bytes()), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Market{
		Address:                addrFrom(crypto.MarketPrefix, rec.Address),
		Authority:              addrFrom(crypto.AccountPrefix, rec.Authority),
		MaxAssets:              rec.MaxAssets,
		MaxPositions:           rec.MaxPositions,
		DefaultLTVBps:          rec.DefaultLTVBps,
		DefaultLiqThresholdBps: rec.DefaultLiqThresholdBps,
		DefaultLiqBonusBps:     rec.DefaultLiqBonusBps,
		PriceMode:              lending.PriceMode(rec.PriceMode),
		OracleMaxAgeSeconds:    rec.OracleMaxAgeSeconds,
		Paused:                 rec.Paused,
		Version:                rec.Version,
	}, nil
}

func (s *LendingStore) AssetRegistry(market crypto.Address) (*lending.AssetRegistry, error) {
	var rec storedAssets
	ok, err := s.manager.KVGet(recordKey(lendingAssetsPrefix, market.Bytes()), &rec)
	if err != nil || !ok {
		return nil, err
	}
	registry := &lending.AssetRegistry{Market: market}
	for _, a := range rec.Assets {
		registry.Assets = append(registry.Assets, lending.Asset{
			Mint:              addrFrom(crypto.MintPrefix, a.Mint),
			FeedID:            a.FeedID,
			Decimals:          a.Decimals,
			CollateralEnabled: a.CollateralEnabled,
			Index:             a.Index,
		})
	}
	return registry, nil
}

func (s *LendingStore) RiskRegistry(market crypto.Address) (*lending.RiskRegistry, error) {
	var rec storedRisk
	ok, err := s.manager.KVGet(recordKey(lendingRiskPrefix, market.Bytes()), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.RiskRegistry{Market: market, Dim: rec.Dim, Pairs: rec.Pairs}, nil
}

func (s *LendingStore) PriceCache(market crypto.Address) (*lending.PriceCache, error) {
	var rec storedPrices
	ok, err := s.manager.KVGet(recordKey(lendingPricesPrefix, market.Bytes()), &rec)
	if err != nil || !ok {
		return nil, err
	}
	cache := &lending.PriceCache{Market: market, LastSlot: rec.LastSlot, UpdatedAt: int64(rec.UpdatedAt)}
	for _, p := range rec.Prices {
		price, err := q60From(p.Price)
		if err != nil {
			return nil, fmt.Errorf("state: price %d: %w", p.AssetIndex, err)
		}
		cache.Prices = append(cache.Prices, lending.PriceEntry{AssetIndex: p.AssetIndex, Price: price, UpdatedAt: int64(p.UpdatedAt)})
	}
	return cache, nil
}

func (s *LendingStore) Pool(market, mint crypto.Address) (*lending.Pool, error) {
	var rec storedPool
	ok, err := s.manager.KVGet(recordKey(lendingPoolPrefix, market.Bytes(), mint.Bytes()), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return decodePool(market, &rec)
}

func decodePool(market crypto.Address, rec *storedPool) (*lending.Pool, error) {
	pool := &lending.Pool{
		Address:       addrFrom(crypto.PoolPrefix, rec.Address),
		Market:        market,
		Mint:          addrFrom(crypto.MintPrefix, rec.Mint),
		LastTimestamp: int64(rec.LastTimestamp),
		Rate:          rec.Rate,
		VaultBalance:  rec.VaultBalance,
	}
	var err error
	if pool.BorrowIndex, err = q60From(rec.BorrowIndex); err != nil {
		return nil, err
	}
	if pool.DepositIndex, err = q60From(rec.DepositIndex); err != nil {
		return nil, err
	}
	if pool.TotalBorrowShares, err = q60From(rec.TotalBorrowShares); err != nil {
		return nil, err
	}
	if pool.TotalDepositShares, err = q60From(rec.TotalDepositShares); err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *LendingStore) Obligation(market, owner crypto.Address) (*lending.Obligation, error) {
	var rec storedObligation
	ok, err := s.manager.KVGet(recordKey(lendingObligationPrefix, market.Bytes(), owner.Bytes()), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return decodeObligation(market, &rec)
}

func decodeObligation(market crypto.Address, rec *storedObligation) (*lending.Obligation, error) {
	ob := &lending.Obligation{Market: market, Owner: addrFrom(crypto.AccountPrefix, rec.Owner)}
	for _, p := range rec.Positions {
		deposit, err := q60From(p.DepositShares)
		if err != nil {
			return nil, err
		}
		borrow, err := q60From(p.BorrowShares)
		if err != nil {
			return nil, err
		}
		ob.Positions = append(ob.Positions, lending.Position{
			Mint:          addrFrom(crypto.MintPrefix, p.Mint),
			DepositShares: deposit,
			BorrowShares:  borrow,
		})
	}
	return ob, nil
}

// Obligations lists every obligation stored for the market ordered by owner
// bytes.
func (s *LendingStore) Obligations(market crypto.Address) ([]*lending.Obligation, error) {
	var out []*lending.Obligation
	prefix := recordKey(lendingObligationPrefix, market.Bytes())
	err := s.manager.db.Iterate(prefix, func(_, value []byte) error {
		var rec storedObligation
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return fmt.Errorf("state: decode obligation: %w", err)
		}
		ob, err := decodeObligation(market, &rec)
		if err != nil {
			return err
		}
		out = append(out, ob)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Pools lists every pool stored for the market ordered by mint bytes.
func (s *LendingStore) Pools(market crypto.Address) ([]*lending.Pool, error) {
	var out []*lending.Pool
	prefix := recordKey(lendingPoolPrefix, market.Bytes())
	err := s.manager.db.Iterate(prefix, func(_, value []byte) error {
		var rec storedPool
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return fmt.Errorf("state: decode pool: %w", err)
		}
		pool, err := decodePool(market, &rec)
		if err != nil {
			return err
		}
		out = append(out, pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Commit writes every record carried by update in one batch.
func (s *LendingStore) Commit(update *lending.StateUpdate) error {
	if update == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &batchWriter{batch: s.manager.db.NewBatch()}
	if m := update.Market; m != nil {
		err := w.put(recordKey(lendingMarketPrefix, m.Address.Bytes()), &storedMarket{
			Address:                raw(m.Address),
			Authority:              raw(m.Authority),
			MaxAssets:              m.MaxAssets,
			MaxPositions:           m.MaxPositions,
			DefaultLTVBps:          m.DefaultLTVBps,
			DefaultLiqThresholdBps: m.DefaultLiqThresholdBps,
			DefaultLiqBonusBps:     m.DefaultLiqBonusBps,
			PriceMode:              uint8(m.PriceMode),
			OracleMaxAgeSeconds:    m.OracleMaxAgeSeconds,
			Paused:                 m.Paused,
			Version:                m.Version,
		})
		if err != nil {
			return err
		}
	}
	if r := update.Assets; r != nil {
		rec := storedAssets{Assets: make([]storedAsset, 0, len(r.Assets))}
		for _, a := range r.Assets {
			rec.Assets = append(rec.Assets, storedAsset{
				Mint:              raw(a.Mint),
				FeedID:            a.FeedID,
				Decimals:          a.Decimals,
				CollateralEnabled: a.CollateralEnabled,
				Index:             a.Index,
			})
		}
		if err := w.put(recordKey(lendingAssetsPrefix, r.Market.Bytes()), &rec); err != nil {
			return err
		}
	}
	if r := update.Risk; r != nil {
		rec := storedRisk{Dim: r.Dim, Pairs: r.Pairs}
		if err := w.put(recordKey(lendingRiskPrefix, r.Market.Bytes()), &rec); err != nil {
			return err
		}
	}
	if c := update.Prices; c != nil {
		rec := storedPrices{LastSlot: c.LastSlot, UpdatedAt: unixOut(c.UpdatedAt)}
		for _, p := range c.Prices {
			rec.Prices = append(rec.Prices, storedPrice{AssetIndex: p.AssetIndex, Price: p.Price.Big(), UpdatedAt: unixOut(p.UpdatedAt)})
		}
		if err := w.put(recordKey(lendingPricesPrefix, c.Market.Bytes()), &rec); err != nil {
			return err
		}
	}
	for _, p := range update.Pools {
		if p == nil {
			continue
		}
		rec := storedPool{
			Address:            raw(p.Address),
			Mint:               raw(p.Mint),
			BorrowIndex:        p.BorrowIndex.Big(),
			DepositIndex:       p.DepositIndex.Big(),
			TotalBorrowShares:  p.TotalBorrowShares.Big(),
			TotalDepositShares: p.TotalDepositShares.Big(),
			LastTimestamp:      unixOut(p.LastTimestamp),
			Rate:               p.Rate,
			VaultBalance:       p.VaultBalance,
		}
		if err := w.put(recordKey(lendingPoolPrefix, p.Market.Bytes(), p.Mint.Bytes()), &rec); err != nil {
			return err
		}
	}
	for _, ob := range update.Obligations {
		if ob == nil {
			continue
		}
		rec := storedObligation{Owner: raw(ob.Owner), Positions: make([]storedPosition, 0, len(ob.Positions))}
		for _, pos := range ob.Positions {
			rec.Positions = append(rec.Positions, storedPosition{
				Mint:          raw(pos.Mint),
				DepositShares: pos.DepositShares.Big(),
				BorrowShares:  pos.BorrowShares.Big(),
			})
		}
		if err := w.put(recordKey(lendingObligationPrefix, ob.Market.Bytes(), ob.Owner.Bytes()), &rec); err != nil {
			return err
		}
	}
	if w.batch.Len() == 0 {
		return nil
	}
	return w.batch.Write()
}
