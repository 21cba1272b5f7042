package common

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAmountExceeded   = errors.New("quota amount cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an owner.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed uint64
	EpochID    uint64
}

// Quota defines the limits enforced on state-changing lending requests per
// owner. Amounts are atomic token units summed across mints.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxAmountPerEpoch uint64
	EpochSeconds      uint32
}

// CheckQuota verifies whether the additional request and amount fit within the
// configured quota. The returned QuotaNow reflects the updated counters when the
// quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addAmount uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAmount > 0 {
		if next.AmountUsed > math.MaxUint64-addAmount {
			return prev, ErrQuotaCounterOverflow
		}
		next.AmountUsed += addAmount
	}
	if q.MaxAmountPerEpoch > 0 && next.AmountUsed > q.MaxAmountPerEpoch {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}

// EpochAt maps a wall-clock instant to the quota epoch identifier.
func (q Quota) EpochAt(now time.Time) uint64 {
	seconds := q.EpochSeconds
	if seconds == 0 {
		seconds = 60
	}
	unix := now.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(seconds)
}

// QuotaTracker keeps per-key counters for a single quota definition.
type QuotaTracker struct {
	mu       sync.Mutex
	quota    Quota
	counters map[string]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, counters: make(map[string]QuotaNow)}
}

// Consume records one request moving amount units for key at now. Counters
// are left untouched when the quota rejects the request.
func (t *QuotaTracker) Consume(key string, now time.Time, amount uint64) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, t.quota.EpochAt(now), t.counters[key], 1, amount)
	if err != nil {
		return err
	}
	t.counters[key] = next
	return nil
}
