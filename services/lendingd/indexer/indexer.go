package indexer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"hedge/core/events"
	"hedge/core/types"
)

// EventRecord is one market event as stored in SQL.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	Digest     string    `gorm:"size:64;uniqueIndex" json:"digest"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Market     string    `gorm:"size:96;index" json:"market"`
	Owner      string    `gorm:"size:96;index" json:"owner,omitempty"`
	Mint       string    `gorm:"size:96" json:"mint,omitempty"`
	Amount     uint64    `json:"amount"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	EmittedAt  time.Time `gorm:"index" json:"emittedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name across drivers.
func (EventRecord) TableName() string { return "lending_events" }

// Filter narrows History and Export queries. Zero fields match everything.
type Filter struct {
	Owner string
	Type  string
	Since time.Time
	Limit int
}

// Activity summarises the events attributed to one owner.
type Activity struct {
	Owner        string `json:"owner"`
	Events       int64  `json:"events"`
	Deposits     int64  `json:"deposits"`
	Borrows      int64  `json:"borrows"`
	Repays       int64  `json:"repays"`
	Withdrawals  int64  `json:"withdrawals"`
	Liquidations int64  `json:"liquidations"`
}

// Indexer persists market events and answers history queries.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to sqlite or postgres and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, logger: log.With("component", "indexer"), now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged and never reach the
// engine.
func (ix *Indexer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := ix.Record(context.Background(), events.Flatten(evt), ix.now()); err != nil {
		ix.logger.Error("record event", "type", evt.EventType(), "error", err)
	}
}

// Digest identifies an event by content and emission time so a redelivered
// event is stored once.
func Digest(evt *types.Event, at time.Time) string {
	h := blake3.New(32, nil)
	h.Write([]byte(evt.Type))
	for _, key := range evt.Keys() {
		h.Write([]byte{0})
		h.Write([]byte(key))
		h.Write([]byte{'='})
		h.Write([]byte(evt.Attributes[key]))
	}
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Record stores evt. The boolean is false when the digest was already known.
func (ix *Indexer) Record(ctx context.Context, evt *types.Event, at time.Time) (bool, error) {
	if evt == nil {
		return false, errors.New("indexer: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return false, err
	}
	rec := &EventRecord{
		ID:         uuid.New(),
		Digest:     Digest(evt, at),
		Type:       evt.Type,
		Market:     evt.Attr("market"),
		Owner:      firstAttr(evt, "owner", "target", "authority"),
		Mint:       firstAttr(evt, "mint", "borrowMint"),
		Attributes: string(attrs),
		EmittedAt:  at.UTC(),
	}
	if raw := firstAttr(evt, "amount", "borrowAmount", "repayAmount"); raw != "" {
		amount, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return false, fmt.Errorf("indexer: amount %q: %w", raw, err)
		}
		rec.Amount = amount
	}
	res := ix.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "digest"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func firstAttr(evt *types.Event, keys ...string) string {
	for _, key := range keys {
		if v := evt.Attr(key); v != "" {
			return v
		}
	}
	return ""
}

func (ix *Indexer) query(ctx context.Context, f Filter) *gorm.DB {
	q := ix.db.WithContext(ctx).Model(&EventRecord{})
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if !f.Since.IsZero() {
		q = q.Where("emitted_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q
}

// History returns matching events, newest first.
func (ix *Indexer) History(ctx context.Context, f Filter) ([]EventRecord, error) {
	var out []EventRecord
	err := ix.query(ctx, f).Order("emitted_at DESC").Order("id").Find(&out).Error
	return out, err
}

// Activity ranks owners by the number of events attributed to them.
func (ix *Indexer) Activity(ctx context.Context, limit int) ([]Activity, error) {
	var rows []struct {
		Owner string
		Type  string
		N     int64
	}
	err := ix.db.WithContext(ctx).Model(&EventRecord{}).
		Select("owner, type, count(*) AS n").
		Where("owner <> ''").
		Group("owner, type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	byOwner := make(map[string]*Activity)
	for _, row := range rows {
		a, ok := byOwner[row.Owner]
		if !ok {
			a = &Activity{Owner: row.Owner}
			byOwner[row.Owner] = a
		}
		a.Events += row.N
		switch row.Type {
		case events.TypeDeposit:
			a.Deposits += row.N
		case events.TypeBorrow:
			a.Borrows += row.N
		case events.TypeRepay:
			a.Repays += row.N
		case events.TypeWithdraw:
			a.Withdrawals += row.N
		case events.TypeLiquidationExecuted:
			a.Liquidations += row.N
		}
	}
	out := make([]Activity, 0, len(byOwner))
	for _, a := range byOwner {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].Owner < out[j].Owner
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
