package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	"hedge/core/events"
	"hedge/crypto"
	"hedge/fixed"
)

var (
	testMarket = crypto.NewAddress(crypto.MarketPrefix, bytesOf(0xA1))
	alice      = crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x01))
	bob        = crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x02))
	usd        = crypto.NewAddress(crypto.MintPrefix, bytesOf(0x13))
	base       = time.Unix(1_700_000_000, 0).UTC()
)

func bytesOf(b byte) []byte {
	out := make([]byte, crypto.AddressLength)
	for i := range out {
		out[i] = b
	}
	return out
}

func setupIndexer(t *testing.T) *Indexer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	ix, err := New(db, nil)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func balance(kind string, owner crypto.Address, amount uint64) events.BalanceChange {
	return events.BalanceChange{Kind: kind, Market: testMarket, Owner: owner, Mint: usd, Amount: amount, Shares: fixed.FromUint64(amount)}
}

func TestRecordDeduplicatesByDigest(t *testing.T) {
	ix := setupIndexer(t)
	ctx := context.Background()
	evt := events.Flatten(balance(events.TypeDeposit, alice, 500))

	inserted, err := ix.Record(ctx, evt, base)
	if err != nil || !inserted {
		t.Fatalf("first record: inserted=%v err=%v", inserted, err)
	}
	inserted, err = ix.Record(ctx, evt, base)
	if err != nil || inserted {
		t.Fatalf("duplicate record: inserted=%v err=%v", inserted, err)
	}
	inserted, err = ix.Record(ctx, evt, base.Add(time.Second))
	if err != nil || !inserted {
		t.Fatalf("later record: inserted=%v err=%v", inserted, err)
	}

	history, err := ix.History(ctx, Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(history))
	}
	got := history[0]
	if got.Owner != alice.String() || got.Mint != usd.String() || got.Amount != 500 || got.Market != testMarket.String() {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.EmittedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("history must be newest first, got %s", got.EmittedAt)
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(got.Attributes), &attrs); err != nil || attrs["shares"] != "500" {
		t.Fatalf("unexpected attributes %q: %v", got.Attributes, err)
	}
}

func TestDigestDependsOnContent(t *testing.T) {
	a := events.Flatten(balance(events.TypeDeposit, alice, 1))
	b := events.Flatten(balance(events.TypeDeposit, alice, 2))
	if Digest(a, base) == Digest(b, base) {
		t.Fatalf("different amounts must hash differently")
	}
	if Digest(a, base) != Digest(a.Clone(), base) {
		t.Fatalf("digest must be stable")
	}
	if len(Digest(a, base)) != 64 {
		t.Fatalf("digest must be 32 hex-encoded bytes")
	}
}

func TestHistoryFilters(t *testing.T) {
	ix := setupIndexer(t)
	ctx := context.Background()
	records := []struct {
		evt events.Event
		at  time.Time
	}{
		{balance(events.TypeDeposit, alice, 100), base},
		{balance(events.TypeBorrow, alice, 40), base.Add(time.Minute)},
		{balance(events.TypeDeposit, bob, 70), base.Add(2 * time.Minute)},
		{events.LiquidationExecuted{Market: testMarket, Liquidator: bob, Target: alice, BorrowMint: usd, CollateralMint: usd, RepayAmount: 20}, base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		if _, err := ix.Record(ctx, events.Flatten(r.evt), r.at); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	owned, err := ix.History(ctx, Filter{Owner: alice.String()})
	if err != nil || len(owned) != 3 {
		t.Fatalf("expected 3 alice rows, got %d %v", len(owned), err)
	}
	if owned[0].Type != events.TypeLiquidationExecuted || owned[0].Amount != 20 {
		t.Fatalf("liquidation must be attributed to the target, got %+v", owned[0])
	}
	deposits, err := ix.History(ctx, Filter{Type: events.TypeDeposit})
	if err != nil || len(deposits) != 2 {
		t.Fatalf("expected 2 deposits, got %d %v", len(deposits), err)
	}
	recent, err := ix.History(ctx, Filter{Since: base.Add(90 * time.Second), Limit: 1})
	if err != nil || len(recent) != 1 || recent[0].Type != events.TypeLiquidationExecuted {
		t.Fatalf("unexpected recent rows %+v %v", recent, err)
	}

	activity, err := ix.Activity(ctx, 0)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(activity) != 2 || activity[0].Owner != alice.String() {
		t.Fatalf("unexpected activity %+v", activity)
	}
	if a := activity[0]; a.Events != 3 || a.Deposits != 1 || a.Borrows != 1 || a.Liquidations != 1 {
		t.Fatalf("unexpected alice activity %+v", a)
	}
	top, err := ix.Activity(ctx, 1)
	if err != nil || len(top) != 1 {
		t.Fatalf("limit not applied: %+v %v", top, err)
	}
}

func TestEmitRecordsEvents(t *testing.T) {
	ix := setupIndexer(t)
	ix.now = func() time.Time { return base }
	fan := events.Fanout{ix, &events.Recorder{}}
	fan.Emit(balance(events.TypeRepay, bob, 9))
	fan.Emit(nil)

	rows, err := ix.History(context.Background(), Filter{Owner: bob.String()})
	if err != nil || len(rows) != 1 || rows[0].Type != events.TypeRepay {
		t.Fatalf("unexpected rows %+v %v", rows, err)
	}
}

func TestExportParquet(t *testing.T) {
	ix := setupIndexer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := ix.Record(ctx, events.Flatten(balance(events.TypeDeposit, alice, uint64(i+1))), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "events.parquet")
	n, err := ix.ExportParquet(ctx, path, Filter{Owner: alice.String()})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows exported, got %d", n)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	if pr.GetNumRows() != 3 {
		t.Fatalf("expected 3 parquet rows, got %d", pr.GetNumRows())
	}
	rows := make([]parquetRow, 3)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].Amount != 1 || rows[2].Amount != 3 || rows[0].Owner != alice.String() {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestParquetKeepsFullWidthAmounts(t *testing.T) {
	records := []EventRecord{
		{ID: uuid.New(), Type: events.TypeDeposit, Market: testMarket.String(), Owner: alice.String(), Mint: usd.String(), Amount: math.MaxUint64, Attributes: "{}", EmittedAt: base},
		{ID: uuid.New(), Type: events.TypeBorrow, Market: testMarket.String(), Owner: alice.String(), Mint: usd.String(), Amount: 1<<63 + 7, Attributes: "{}", EmittedAt: base.Add(time.Second)},
	}
	path := filepath.Join(t.TempDir(), "wide.parquet")
	if err := writeParquet(path, records); err != nil {
		t.Fatalf("write parquet: %v", err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	defer pr.ReadStop()
	rows := make([]parquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].Amount != math.MaxUint64 || rows[1].Amount != 1<<63+7 {
		t.Fatalf("amounts lost their high bit: %d %d", rows[0].Amount, rows[1].Amount)
	}
}
