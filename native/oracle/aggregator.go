package oracle

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Source resolves the latest quote for a feed id.
type Source interface {
	Latest(feedID string) (Quote, error)
}

// FeedHealth captures the last accepted observation of one feed.
type FeedHealth struct {
	FeedID       string    `json:"feedId"`
	Source       string    `json:"source"`
	LastObserved time.Time `json:"lastObserved"`
	Observations int       `json:"observations"`
}

// Aggregator consults registered sources in priority order until a fresh
// quote is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
	maxAge   time.Duration
	now      func() time.Time
	health   map[string]FeedHealth
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window. A zero maxAge disables the freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		sources:  make(map[string]Source),
		maxAge:   maxAge,
		now:      time.Now,
		health:   make(map[string]FeedHealth),
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetClock overrides the time source used for freshness checks.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces a source under the supplied name. Names are stored
// in lowercase and appended to the priority list when new.
func (a *Aggregator) Register(name string, source Source) {
	if a == nil || source == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Latest returns the first fresh, non-negative quote for feedID.
func (a *Aggregator) Latest(feedID string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	id := NormalizeFeedID(feedID)
	if id == "" {
		return Quote{}, fmt.Errorf("oracle: feed id required")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.now()
	a.mu.RUnlock()

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		quote, err := source.Latest(id)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price < 0 {
			lastErr = fmt.Errorf("source %s: %w", name, ErrNegativePrice)
			continue
		}
		if maxAge > 0 && quote.PublishTime.Before(now.Add(-maxAge)) {
			lastErr = ErrNoFreshQuote
			continue
		}
		if strings.TrimSpace(quote.Source) == "" {
			quote.Source = name
		}
		quote.FeedID = id
		a.observe(quote)
		return quote, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

func (a *Aggregator) observe(q Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := a.health[q.FeedID]
	entry.FeedID = q.FeedID
	entry.Source = q.Source
	entry.LastObserved = q.PublishTime
	entry.Observations++
	a.health[q.FeedID] = entry
}

// Health reports the last observation of every feed served so far, sorted by
// feed id.
func (a *Aggregator) Health() []FeedHealth {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	feeds := make([]FeedHealth, 0, len(a.health))
	for _, entry := range a.health {
		feeds = append(feeds, entry)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].FeedID < feeds[j].FeedID })
	return feeds
}

// ManualSource is an in-memory source used for tests and operator overrides.
type ManualSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{quotes: make(map[string]Quote)}
}

// Set stores a raw quote for the feed.
func (m *ManualSource) Set(feedID string, price int64, expo int32, ts time.Time) {
	if m == nil {
		return
	}
	id := NormalizeFeedID(feedID)
	m.mu.Lock()
	m.quotes[id] = Quote{FeedID: id, Price: price, Expo: expo, PublishTime: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal records a decimal price such as "1.25" for the feed.
func (m *ManualSource) SetDecimal(feedID, value string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("manual source: invalid price %q: %w", value, err)
	}
	if d.Sign() < 0 {
		return ErrNegativePrice
	}
	coefficient := d.Coefficient()
	if !coefficient.IsInt64() {
		return fmt.Errorf("manual source: price %q has too many digits", value)
	}
	m.Set(feedID, coefficient.Int64(), d.Exponent(), ts)
	return nil
}

// Latest implements Source.
func (m *ManualSource) Latest(feedID string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual source not configured")
	}
	m.mu.RLock()
	quote, ok := m.quotes[NormalizeFeedID(feedID)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	return quote, nil
}
