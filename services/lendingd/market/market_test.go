package market

import (
	"errors"
	"testing"

	"hedge/core/events"
	"hedge/fixed"
	"hedge/native/lending"
	"hedge/services/lendingd/market/markettest"
	"hedge/storage"
)

func openTestMarket(t *testing.T, db storage.Database) (*Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	svc, created, err := Open(db, markettest.Bootstrap(), Options{Emitter: rec, Now: markettest.Clock})
	if err != nil {
		t.Fatalf("open market: %v", err)
	}
	if !created {
		t.Fatalf("expected bootstrap to create the market")
	}
	return svc, rec
}

func TestOpenAppliesBootstrapOnce(t *testing.T) {
	db := storage.NewMemDB()
	_, rec := openTestMarket(t, db)
	if types := rec.Types(); len(types) == 0 || types[0] != events.TypeMarketInitialized {
		t.Fatalf("unexpected bootstrap events %v", types)
	}

	svc, created, err := Open(db, markettest.Bootstrap(), Options{Now: markettest.Clock})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if created {
		t.Fatalf("second open must reuse the stored market")
	}
	snaps, err := svc.Engine().PoolSnapshots()
	if err != nil || len(snaps) != 2 {
		t.Fatalf("unexpected pools %d %v", len(snaps), err)
	}
}

func TestWriteAndScans(t *testing.T) {
	svc, _ := openTestMarket(t, storage.NewMemDB())
	steps := []struct {
		op string
		fn func(*lending.Engine) error
	}{
		{"deposit", func(e *lending.Engine) error {
			_, err := e.Deposit(markettest.Carol, markettest.USD, 100_000_000)
			return err
		}},
		{"deposit", func(e *lending.Engine) error {
			_, err := e.Deposit(markettest.Alice, markettest.SOL, 50_000_000)
			return err
		}},
		{"borrow", func(e *lending.Engine) error {
			_, err := e.Borrow(markettest.Alice, markettest.USD, 80_000_000)
			return err
		}},
	}
	for _, step := range steps {
		if err := svc.Write(step.op, step.fn); err != nil {
			t.Fatalf("%s: %v", step.op, err)
		}
	}

	board, unvalued, err := svc.Leaderboard(10)
	if err != nil || len(board) != 2 || !board[0].Owner.Equal(markettest.Carol) || len(unvalued) != 0 {
		t.Fatalf("unexpected leaderboard %+v %+v %v", board, unvalued, err)
	}
	candidates, _, err := svc.Candidates()
	if err != nil || len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %d %v", len(candidates), err)
	}

	err = svc.Write("update_prices", func(e *lending.Engine) error {
		return e.UpdatePrices(markettest.Authority, []lending.PriceUpdate{{Mint: markettest.USD, Price: fixed.MustParse("1.25")}})
	})
	if err != nil {
		t.Fatalf("update prices: %v", err)
	}
	candidates, _, err = svc.Candidates()
	if err != nil || len(candidates) != 1 || candidates[0].Report.Score != 850 {
		t.Fatalf("unexpected candidates %+v %v", candidates, err)
	}
}

func TestObligationsWithoutLister(t *testing.T) {
	svc := New(lending.NewEngine(markettest.Authority), nil, nil)
	if _, _, err := svc.Candidates(); err == nil {
		t.Fatalf("expected listing error")
	}
	err := svc.Write("noop", func(*lending.Engine) error { return errors.New("boom") })
	if err == nil || err.Error() != "boom" {
		t.Fatalf("write must pass the error through, got %v", err)
	}
}
