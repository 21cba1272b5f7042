package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"hedge/core/events"
	"hedge/crypto"
	"hedge/fixed"
	"hedge/native/common"
	"hedge/native/lending"
	"hedge/services/lendingd/indexer"
	"hedge/services/lendingd/market"
	"hedge/services/lendingd/market/markettest"
	"hedge/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	t      *testing.T
	server *Server
	hub    *Hub
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	hub := NewHub(nil)
	svc, _, err := market.Open(storage.NewMemDB(), markettest.Bootstrap(), market.Options{Emitter: hub, Now: markettest.Clock})
	if err != nil {
		t.Fatalf("open market: %v", err)
	}
	cfg := Config{
		Market: svc,
		Hub:    hub,
		Auth:   AuthConfig{HMACSecret: testSecret, Issuer: "hedge", Audience: "lendingd"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{t: t, server: New(cfg), hub: hub}
}

func (h *harness) token(subject crypto.Address, scopes ...string) string {
	h.t.Helper()
	tok, err := IssueToken(testSecret, "hedge", "lendingd", subject, scopes, time.Hour, time.Now())
	if err != nil {
		h.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) expect(rec *httptest.ResponseRecorder, status int) {
	h.t.Helper()
	if rec.Code != status {
		h.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func (h *harness) seed() {
	h.t.Helper()
	carol := h.token(markettest.Carol, ScopeWrite)
	alice := h.token(markettest.Alice, ScopeWrite)
	h.expect(h.do(http.MethodPost, "/v1/deposit", carol, amountRequest{Mint: markettest.USD, Amount: 100_000_000}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/deposit", alice, amountRequest{Mint: markettest.SOL, Amount: 50_000_000}), http.StatusOK)
	rec := h.do(http.MethodPost, "/v1/borrow", alice, amountRequest{Mint: markettest.USD, Amount: 80_000_000})
	h.expect(rec, http.StatusOK)
	var resp struct {
		BorrowShares string `json:"borrowShares"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.BorrowShares != "80000000" {
		h.t.Fatalf("unexpected borrow response %s: %v", rec.Body.String(), err)
	}
}

func TestReadRoutes(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()

	h.expect(h.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
	h.expect(h.do(http.MethodGet, "/v1/market", "", nil), http.StatusOK)

	rec := h.do(http.MethodGet, "/v1/pools", "", nil)
	h.expect(rec, http.StatusOK)
	var pools struct {
		Pools []lending.PoolSnapshot `json:"pools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pools); err != nil || len(pools.Pools) != 2 {
		t.Fatalf("unexpected pools %s: %v", rec.Body.String(), err)
	}

	rec = h.do(http.MethodGet, "/v1/pools/"+markettest.USD.String(), "", nil)
	h.expect(rec, http.StatusOK)
	var pool lending.PoolSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &pool); err != nil {
		t.Fatalf("decode pool: %v", err)
	}
	if pool.TotalDeposit != 100_000_000 || pool.TotalBorrow != 80_000_000 || pool.APY.UtilizationBps != 8000 {
		t.Fatalf("unexpected pool %+v", pool)
	}

	rec = h.do(http.MethodGet, "/v1/pools/"+markettest.USD.String()+"/apy-curve?points=4", "", nil)
	h.expect(rec, http.StatusOK)
	var curve apyCurveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &curve); err != nil {
		t.Fatalf("decode curve: %v", err)
	}
	if len(curve.Curve) != 5 || len(curve.KeyPoints) != 3 || curve.Current.UtilizationBps != 8000 {
		t.Fatalf("unexpected curve %+v", curve)
	}

	h.expect(h.do(http.MethodGet, "/v1/pools/not-an-address", "", nil), http.StatusBadRequest)
	h.expect(h.do(http.MethodGet, "/v1/pools/"+markettest.Addr(crypto.MintPrefix, 0x77).String(), "", nil), http.StatusNotFound)
	h.expect(h.do(http.MethodGet, "/v1/obligations/"+markettest.Bob.String(), "", nil), http.StatusNotFound)

	rec = h.do(http.MethodGet, "/v1/obligations/"+markettest.Alice.String(), "", nil)
	h.expect(rec, http.StatusOK)

	rec = h.do(http.MethodGet, "/v1/obligations/"+markettest.Alice.String()+"/health?mode=liquidation", "", nil)
	h.expect(rec, http.StatusOK)
	var report lending.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil || report.Score <= lending.HealthThreshold {
		t.Fatalf("unexpected health %s: %v", rec.Body.String(), err)
	}
	h.expect(h.do(http.MethodGet, "/v1/obligations/"+markettest.Alice.String()+"/health?mode=bogus", "", nil), http.StatusBadRequest)

	rec = h.do(http.MethodGet, "/v1/leaderboard?limit=1", "", nil)
	h.expect(rec, http.StatusOK)
	var board struct {
		Leaderboard []lending.Portfolio `json:"leaderboard"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil || len(board.Leaderboard) != 1 || !board.Leaderboard[0].Owner.Equal(markettest.Carol) {
		t.Fatalf("unexpected leaderboard %s: %v", rec.Body.String(), err)
	}
	h.expect(h.do(http.MethodGet, "/v1/history", "", nil), http.StatusServiceUnavailable)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	body := amountRequest{Mint: markettest.USD, Amount: 1}

	h.expect(h.do(http.MethodPost, "/v1/deposit", "", body), http.StatusUnauthorized)
	h.expect(h.do(http.MethodPost, "/v1/deposit", "garbage", body), http.StatusUnauthorized)
	h.expect(h.do(http.MethodPost, "/v1/deposit", h.token(markettest.Alice), body), http.StatusForbidden)

	other, err := IssueToken(testSecret, "someone-else", "lendingd", markettest.Alice, []string{ScopeWrite}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	h.expect(h.do(http.MethodPost, "/v1/deposit", other, body), http.StatusUnauthorized)

	expired, err := IssueToken(testSecret, "hedge", "lendingd", markettest.Alice, []string{ScopeWrite}, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	h.expect(h.do(http.MethodPost, "/v1/deposit", expired, body), http.StatusUnauthorized)

	prices := pricesRequest{Updates: []lending.PriceUpdate{{Mint: markettest.USD, Price: fixed.MustParse("1")}}}
	h.expect(h.do(http.MethodPost, "/v1/admin/prices", h.token(markettest.Authority, ScopeWrite), prices), http.StatusForbidden)
	h.expect(h.do(http.MethodPost, "/v1/admin/prices", h.token(markettest.Alice, ScopeAdmin), prices), http.StatusForbidden)
	h.expect(h.do(http.MethodPost, "/v1/admin/prices", h.token(markettest.Authority, ScopeAdmin), prices), http.StatusOK)
}

func TestLiquidationFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.seed()
	admin := h.token(markettest.Authority, ScopeAdmin)

	rec := h.do(http.MethodPost, "/v1/liquidations/check", "", checkLiquidationRequest{Target: markettest.Alice})
	h.expect(rec, http.StatusOK)
	var check struct {
		Liquidatable bool                  `json:"liquidatable"`
		Report       *lending.HealthReport `json:"report"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil || check.Liquidatable {
		t.Fatalf("expected a healthy position: %s", rec.Body.String())
	}

	prices := pricesRequest{Updates: []lending.PriceUpdate{{Mint: markettest.USD, Price: fixed.MustParse("1.25")}}}
	h.expect(h.do(http.MethodPost, "/v1/admin/prices", admin, prices), http.StatusOK)

	rec = h.do(http.MethodGet, "/v1/liquidations/candidates", "", nil)
	h.expect(rec, http.StatusOK)
	var candidates struct {
		Candidates []lending.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &candidates); err != nil || len(candidates.Candidates) != 1 || candidates.Candidates[0].Report.Score != 850 {
		t.Fatalf("unexpected candidates %s: %v", rec.Body.String(), err)
	}

	rec = h.do(http.MethodPost, "/v1/liquidations/check", "", checkLiquidationRequest{Target: markettest.Alice})
	h.expect(rec, http.StatusOK)
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil || !check.Liquidatable || check.Report.Score != 850 {
		t.Fatalf("expected a liquidatable position: %s", rec.Body.String())
	}

	carol := h.token(markettest.Carol, ScopeWrite)
	liq := liquidateRequest{Target: markettest.Alice, BorrowMint: markettest.USD, CollateralMint: markettest.SOL, RepayAmount: 10_000_000}
	rec = h.do(http.MethodPost, "/v1/liquidate", carol, liq)
	h.expect(rec, http.StatusOK)
	var result lending.LiquidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.SeizeAmount == 0 || result.HealthBefore != 850 {
		t.Fatalf("unexpected liquidation %s: %v", rec.Body.String(), err)
	}

	self := h.token(markettest.Alice, ScopeWrite)
	h.expect(h.do(http.MethodPost, "/v1/liquidate", self, liq), http.StatusForbidden)
}

func TestPauseAndAdminRoutes(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.token(markettest.Authority, ScopeAdmin)
	alice := h.token(markettest.Alice, ScopeWrite)

	h.expect(h.do(http.MethodPost, "/v1/admin/pause", admin, pauseRequest{Paused: true}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/deposit", alice, amountRequest{Mint: markettest.USD, Amount: 5}), http.StatusServiceUnavailable)
	h.expect(h.do(http.MethodGet, "/v1/market", "", nil), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/admin/pause", admin, pauseRequest{Paused: false}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/deposit", alice, amountRequest{Mint: markettest.USD, Amount: 5}), http.StatusOK)

	btc := markettest.Addr(crypto.MintPrefix, 0x21)
	rec := h.do(http.MethodPost, "/v1/admin/assets", admin, lending.Asset{Mint: btc, Decimals: 8, CollateralEnabled: true})
	h.expect(rec, http.StatusOK)
	var asset lending.Asset
	if err := json.Unmarshal(rec.Body.Bytes(), &asset); err != nil || asset.Index != 2 {
		t.Fatalf("unexpected asset %s: %v", rec.Body.String(), err)
	}
	h.expect(h.do(http.MethodPost, "/v1/admin/pools", admin, initPoolRequest{Mint: btc, Rate: markettest.Rate()}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/admin/pools", admin, initPoolRequest{Mint: btc, Rate: markettest.Rate()}), http.StatusConflict)

	pair := riskPairRequest{AMint: btc, BMint: markettest.USD, RiskPair: lending.RiskPair{LTVBps: 7000, LiqThresholdBps: 7500, LiqBonusBps: 600}}
	h.expect(h.do(http.MethodPost, "/v1/admin/risk-pairs", admin, pair), http.StatusOK)
	bad := riskPairRequest{AMint: btc, BMint: markettest.USD, RiskPair: lending.RiskPair{LTVBps: 9000, LiqThresholdBps: 7500}}
	h.expect(h.do(http.MethodPost, "/v1/admin/risk-pairs", admin, bad), http.StatusBadRequest)

	batch := riskPairsBatchRequest{Updates: []lending.RiskPairUpdate{{AIndex: 1, BIndex: 2, RiskPair: lending.RiskPair{LTVBps: 6000, LiqThresholdBps: 7000, LiqBonusBps: 500}}}}
	h.expect(h.do(http.MethodPost, "/v1/admin/risk-pairs/batch", admin, batch), http.StatusOK)

	h.expect(h.do(http.MethodPost, "/v1/admin/pause", admin, map[string]any{"paused": true, "extra": 1}), http.StatusBadRequest)
}

func TestQuotaAndRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Quota = common.Quota{MaxRequestsPerMin: 1, EpochSeconds: 60}
	})
	alice := h.token(markettest.Alice, ScopeWrite)
	body := amountRequest{Mint: markettest.USD, Amount: 5}
	h.expect(h.do(http.MethodPost, "/v1/deposit", alice, body), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/deposit", alice, body), http.StatusTooManyRequests)
	h.expect(h.do(http.MethodPost, "/v1/deposit", h.token(markettest.Bob, ScopeWrite), body), http.StatusOK)

	limited := newHarness(t, func(cfg *Config) {
		cfg.RateLimit = RateLimit{RequestsPerMinute: 1, Burst: 1}
	})
	limited.expect(limited.do(http.MethodGet, "/v1/market", "", nil), http.StatusOK)
	limited.expect(limited.do(http.MethodGet, "/v1/market", "", nil), http.StatusTooManyRequests)
}

type fakeHistory struct {
	filter indexer.Filter
}

func (f *fakeHistory) History(_ context.Context, filter indexer.Filter) ([]indexer.EventRecord, error) {
	f.filter = filter
	return []indexer.EventRecord{{Type: events.TypeDeposit, Owner: filter.Owner}}, nil
}

func TestHistoryRoute(t *testing.T) {
	fake := &fakeHistory{}
	h := newHarness(t, func(cfg *Config) { cfg.History = fake })
	path := fmt.Sprintf("/v1/history?owner=%s&type=%s&limit=5&since=2023-11-14T00:00:00Z", markettest.Alice, events.TypeDeposit)
	h.expect(h.do(http.MethodGet, path, "", nil), http.StatusOK)
	if fake.filter.Owner != markettest.Alice.String() || fake.filter.Type != events.TypeDeposit || fake.filter.Limit != 5 || fake.filter.Since.IsZero() {
		t.Fatalf("unexpected filter %+v", fake.filter)
	}
	h.expect(h.do(http.MethodGet, "/v1/history?since=yesterday", "", nil), http.StatusBadRequest)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?type=" + events.TypeDeposit
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for h.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	h.expect(h.do(http.MethodPost, "/v1/admin/pause", h.token(markettest.Authority, ScopeAdmin), pauseRequest{Paused: false}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/v1/deposit", h.token(markettest.Alice, ScopeWrite), amountRequest{Mint: markettest.USD, Amount: 7}), http.StatusOK)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if msg.Type != events.TypeDeposit || msg.Attributes["amount"] != "7" || msg.Attributes["owner"] != markettest.Alice.String() {
		t.Fatalf("unexpected frame %+v", msg)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", lending.ErrUnauthorized), http.StatusForbidden},
		{lending.ErrMarketPaused, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: no obligation", lending.ErrPositionNotFound), http.StatusNotFound},
		{lending.ErrPoolExists, http.StatusConflict},
		{common.ErrQuotaAmountExceeded, http.StatusTooManyRequests},
		{lending.ErrInvalidAmount, http.StatusBadRequest},
		{lending.ErrHealthCheckFailed, http.StatusUnprocessableEntity},
		{lending.ErrPriceStale, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		status, message := statusFor(tc.err)
		if status != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, status)
		}
		if status == http.StatusInternalServerError && message != "internal error" {
			t.Fatalf("internal errors must be masked, got %q", message)
		}
	}
}
