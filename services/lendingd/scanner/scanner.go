package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hedge/native/lending"
	"hedge/observability"
	"hedge/services/lendingd/market"
)

// Config controls the scan cadence.
type Config struct {
	Interval        time.Duration
	LeaderboardSize int
}

// Scanner periodically refreshes feed prices, publishes pool gauges and
// caches the liquidation candidates and leaderboard of a market.
type Scanner struct {
	market  *market.Service
	feeds   lending.FeedSource
	cfg     Config
	logger  *slog.Logger
	metrics *observability.LendingMetrics
	now     func() time.Time

	mu          sync.RWMutex
	candidates  []lending.Candidate
	leaderboard []*lending.Portfolio
	unvalued    int
	lastRun     time.Time
}

// New constructs a scanner. feeds may be nil when the market is not fed by
// an oracle.
func New(svc *market.Service, feeds lending.FeedSource, cfg Config, logger *slog.Logger, metrics *observability.LendingMetrics) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		market:  svc,
		feeds:   feeds,
		cfg:     cfg,
		logger:  logger.With("component", "scanner"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run scans immediately and then on every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(); err != nil {
			s.logger.Warn("scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one scan.
func (s *Scanner) Tick() error {
	if s.feeds != nil {
		var updated int
		err := s.market.Write("refresh_feeds", func(e *lending.Engine) error {
			var err error
			updated, err = e.RefreshFeeds(s.feeds)
			return err
		})
		s.metrics.RecordFeedRefresh(err)
		if err != nil {
			s.logger.Warn("feed refresh failed", "error", err)
		} else if updated > 0 {
			s.logger.Debug("feeds refreshed", "updated", updated)
		}
	}

	engine := s.market.Engine()
	view, err := engine.View()
	if err != nil {
		return err
	}
	s.metrics.SetPaused(view.Market.Paused)

	pools, err := engine.PoolSnapshots()
	if err != nil {
		return err
	}
	for _, p := range pools {
		s.metrics.RecordPool(p.Asset.Mint.String(), p.TotalDeposit, p.TotalBorrow, uint64(p.APY.UtilizationBps), uint64(p.APY.BorrowAPYBps))
	}

	candidates, skipped, err := s.market.Candidates()
	if err != nil {
		return err
	}
	board, unpriced, err := s.market.Leaderboard(s.cfg.LeaderboardSize)
	if err != nil {
		return err
	}
	unvalued := s.reportUnvalued(append(skipped, unpriced...))
	s.metrics.SetCandidates(len(candidates))
	if len(candidates) > 0 {
		s.logger.Info("liquidation candidates", "count", len(candidates), "lowest", candidates[0].Report.Score, "owner", candidates[0].Owner.String())
	}

	s.mu.Lock()
	s.candidates = candidates
	s.leaderboard = board
	s.unvalued = unvalued
	s.lastRun = s.now()
	s.mu.Unlock()
	return nil
}

// reportUnvalued logs each obligation once and returns how many were seen.
func (s *Scanner) reportUnvalued(list []lending.Unvalued) int {
	seen := make(map[string]struct{}, len(list))
	for _, u := range list {
		owner := u.Owner.String()
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		s.logger.Warn("obligation not valued", "owner", owner, "error", u.Err)
	}
	return len(seen)
}

// Candidates returns the candidates found by the last scan.
func (s *Scanner) Candidates() []lending.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]lending.Candidate(nil), s.candidates...)
}

// Leaderboard returns the ranking computed by the last scan.
func (s *Scanner) Leaderboard() []*lending.Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*lending.Portfolio(nil), s.leaderboard...)
}

// Unvalued reports how many obligations the last scan could not value.
func (s *Scanner) Unvalued() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unvalued
}

// LastRun reports when the last successful scan finished.
func (s *Scanner) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}
