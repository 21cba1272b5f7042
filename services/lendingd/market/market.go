package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hedge/core/events"
	"hedge/core/state"
	"hedge/crypto"
	"hedge/native/lending"
	"hedge/observability"
	"hedge/storage"
)

// ObligationLister enumerates the obligations persisted for a market.
type ObligationLister interface {
	Obligations(market crypto.Address) ([]*lending.Obligation, error)
}

// Service owns the engine of one market. The engine commits a snapshot it
// loaded itself, so two concurrent writers would lose an update; every
// mutation therefore goes through Write.
type Service struct {
	mu      sync.Mutex
	engine  *lending.Engine
	lister  ObligationLister
	metrics *observability.LendingMetrics
}

// New wraps engine. lister may be nil when obligations cannot be enumerated.
func New(engine *lending.Engine, lister ObligationLister, metrics *observability.LendingMetrics) *Service {
	return &Service{engine: engine, lister: lister, metrics: metrics}
}

// Options tune the engine built by Open.
type Options struct {
	Emitter events.Emitter
	Now     func() time.Time
	Metrics *observability.LendingMetrics
}

// Open binds an engine for the bootstrap market to db and applies the
// bootstrap when the market does not exist yet. The boolean reports whether
// the market was created.
func Open(db storage.Database, boot *lending.Bootstrap, opts Options) (*Service, bool, error) {
	manager := state.NewManager(db)
	if err := manager.EnsureStateVersion(); err != nil {
		return nil, false, err
	}
	addr, err := boot.MarketAddress()
	if err != nil {
		return nil, false, fmt.Errorf("bootstrap authority: %w", err)
	}
	store := manager.LendingStore()
	engine := lending.NewEngine(addr)
	engine.SetState(store)
	engine.SetEmitter(opts.Emitter)
	engine.SetNowFunc(opts.Now)
	created, err := boot.Apply(engine)
	if err != nil {
		return nil, false, fmt.Errorf("apply bootstrap: %w", err)
	}
	return New(engine, store, opts.Metrics), created, nil
}

// Engine exposes the engine for read-only calls.
func (s *Service) Engine() *lending.Engine {
	return s.engine
}

// Write runs fn while holding the market write lock and records the
// operation outcome.
func (s *Service) Write(operation string, fn func(*lending.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	err := fn(s.engine)
	s.metrics.Observe(operation, time.Since(start), err)
	return err
}

// Obligations lists every stored obligation of the market.
func (s *Service) Obligations() ([]*lending.Obligation, error) {
	if s.lister == nil {
		return nil, errors.New("market: obligation listing unavailable")
	}
	return s.lister.Obligations(s.engine.Market())
}

// Candidates scans the stored obligations for liquidatable positions. The
// second result lists obligations that could not be valued.
func (s *Service) Candidates() ([]lending.Candidate, []lending.Unvalued, error) {
	obligations, err := s.Obligations()
	if err != nil {
		return nil, nil, err
	}
	return s.engine.ScanLiquidatable(obligations)
}

// Leaderboard ranks the stored obligations by net value.
func (s *Service) Leaderboard(limit int) ([]*lending.Portfolio, []lending.Unvalued, error) {
	obligations, err := s.Obligations()
	if err != nil {
		return nil, nil, err
	}
	return s.engine.Leaderboard(obligations, limit)
}
