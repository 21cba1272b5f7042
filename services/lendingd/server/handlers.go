package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hedge/crypto"
	"hedge/native/lending"
	"hedge/observability"
	"hedge/services/lendingd/indexer"
)

const (
	defaultCurvePoints = 20
	maxCurvePoints     = 200
	defaultPageLimit   = 50
	maxPageLimit       = 500
)

func decodeRequest(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func pathAddress(r *http.Request, param string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(chi.URLParam(r, param)))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s: %w", param, err)
	}
	return addr, nil
}

func queryInt(r *http.Request, key string, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func (s *Server) getMarket(w http.ResponseWriter, _ *http.Request) {
	view, err := s.market.Engine().View()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listPools(w http.ResponseWriter, _ *http.Request) {
	pools, err := s.market.Engine().PoolSnapshots()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	mint, err := pathAddress(r, "mint")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.market.Engine().PoolSnapshot(mint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type apyCurveResponse struct {
	Mint      crypto.Address       `json:"mint"`
	Current   lending.CurvePoint   `json:"current"`
	KeyPoints []lending.CurvePoint `json:"keyPoints"`
	Curve     []lending.CurvePoint `json:"curve"`
}

func (s *Server) getAPYCurve(w http.ResponseWriter, r *http.Request) {
	mint, err := pathAddress(r, "mint")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	points, err := queryInt(r, "points", defaultCurvePoints, maxCurvePoints)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.market.Engine().PoolSnapshot(mint)
	if err != nil {
		writeError(w, err)
		return
	}
	rate := snap.Pool.Rate
	writeJSON(w, http.StatusOK, apyCurveResponse{
		Mint:      snap.Asset.Mint,
		Current:   snap.APY,
		KeyPoints: rate.KeyPoints(),
		Curve:     rate.Curve(points),
	})
}

func (s *Server) getObligation(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	engine := s.market.Engine()
	ob, err := engine.Obligation(owner)
	if err != nil {
		writeError(w, err)
		return
	}
	portfolio, err := engine.PortfolioValue(owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"obligation": ob, "portfolio": portfolio})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	mode := lending.HealthModeLTV
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("mode"))) {
	case "", "ltv":
	case "liquidation":
		mode = lending.HealthModeLiquidation
	default:
		writeJSONError(w, http.StatusBadRequest, errors.New("mode must be ltv or liquidation"))
		return
	}
	report, err := s.market.Engine().Health(owner, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getCandidates(w http.ResponseWriter, _ *http.Request) {
	if s.cache != nil && !s.cache.LastRun().IsZero() {
		writeJSON(w, http.StatusOK, map[string]any{"candidates": s.cache.Candidates(), "unvalued": s.cache.Unvalued(), "scannedAt": s.cache.LastRun().UTC()})
		return
	}
	candidates, unvalued, err := s.market.Candidates()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates, "unvalued": len(unvalued)})
}

type checkLiquidationRequest struct {
	Target crypto.Address `json:"target"`
}

func (s *Server) checkLiquidation(w http.ResponseWriter, r *http.Request) {
	var req checkLiquidationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.market.Engine().CheckLiquidation(req.Target)
	if errors.Is(err, lending.ErrPositionHealthy) {
		writeJSON(w, http.StatusOK, map[string]any{"liquidatable": false, "report": report})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidatable": true, "report": report})
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageLimit, maxPageLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if s.cache != nil && !s.cache.LastRun().IsZero() {
		board := s.cache.Leaderboard()
		if len(board) > limit {
			board = board[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board, "unvalued": s.cache.Unvalued(), "scannedAt": s.cache.LastRun().UTC()})
		return
	}
	board, unvalued, err := s.market.Leaderboard(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": board, "unvalued": len(unvalued)})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("event history disabled"))
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit, maxPageLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	filter := indexer.Filter{Owner: strings.TrimSpace(q.Get("owner")), Type: strings.TrimSpace(q.Get("type")), Limit: limit}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		filter.Since = since
	}
	records, err := s.history.History(r.Context(), filter)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

// mutate runs fn under the market write lock on behalf of the authenticated
// caller. amount is charged against the caller's quota when charge is set.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, charge bool, amount uint64, fn func(e *lending.Engine, caller crypto.Address) (any, error)) {
	caller, ok := Principal(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("missing identity"))
		return
	}
	if charge {
		if err := s.quota.Consume(caller.String(), s.now(), amount); err != nil {
			observability.ModuleMetrics().RecordThrottle(metricsModule, "quota_exceeded")
			writeError(w, err)
			return
		}
	}
	var out any
	err := s.market.Write(op, func(e *lending.Engine) error {
		var err error
		out, err = fn(e, caller)
		return err
	})
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("market operation failed", "operation", op, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type amountRequest struct {
	Mint   crypto.Address `json:"mint"`
	Amount uint64         `json:"amount"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "deposit", true, req.Amount, func(e *lending.Engine, caller crypto.Address) (any, error) {
		shares, err := e.Deposit(caller, req.Mint, req.Amount)
		return map[string]any{"depositShares": shares}, err
	})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "borrow", true, req.Amount, func(e *lending.Engine, caller crypto.Address) (any, error) {
		shares, err := e.Borrow(caller, req.Mint, req.Amount)
		return map[string]any{"borrowShares": shares}, err
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "repay", true, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		repaid, err := e.Repay(caller, req.Mint, req.Amount)
		return map[string]any{"repaid": repaid}, err
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "withdraw", true, req.Amount, func(e *lending.Engine, caller crypto.Address) (any, error) {
		withdrawn, err := e.Withdraw(caller, req.Mint, req.Amount)
		return map[string]any{"withdrawn": withdrawn}, err
	})
}

type leverageRequest struct {
	BorrowMint   crypto.Address `json:"borrowMint"`
	DepositMint  crypto.Address `json:"depositMint"`
	BorrowAmount uint64         `json:"borrowAmount"`
}

func (s *Server) leverage(w http.ResponseWriter, r *http.Request) {
	var req leverageRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "leverage", true, req.BorrowAmount, func(e *lending.Engine, caller crypto.Address) (any, error) {
		return e.LeverageExistingDeposit(caller, req.BorrowMint, req.DepositMint, req.BorrowAmount)
	})
}

type liquidateRequest struct {
	Target         crypto.Address `json:"target"`
	BorrowMint     crypto.Address `json:"borrowMint"`
	CollateralMint crypto.Address `json:"collateralMint"`
	RepayAmount    uint64         `json:"repayAmount"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "liquidate", true, req.RepayAmount, func(e *lending.Engine, caller crypto.Address) (any, error) {
		res, err := e.Liquidate(lending.LiquidationRequest{
			Liquidator:     caller,
			Target:         req.Target,
			RepayAmount:    req.RepayAmount,
			BorrowMint:     req.BorrowMint,
			CollateralMint: req.CollateralMint,
		})
		if err == nil {
			s.metrics.RecordLiquidation(req.BorrowMint.String())
		}
		return res, err
	})
}

type pricesRequest struct {
	Updates []lending.PriceUpdate `json:"updates"`
}

func (s *Server) updatePrices(w http.ResponseWriter, r *http.Request) {
	var req pricesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "update_prices", false, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		if err := e.UpdatePrices(caller, req.Updates); err != nil {
			return nil, err
		}
		return map[string]any{"updated": len(req.Updates)}, nil
	})
}

type riskPairRequest struct {
	AMint crypto.Address `json:"aMint"`
	BMint crypto.Address `json:"bMint"`
	lending.RiskPair
}

func (s *Server) setRiskPair(w http.ResponseWriter, r *http.Request) {
	var req riskPairRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "set_risk_pair", false, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		if err := e.SetRiskPair(caller, req.AMint, req.BMint, req.RiskPair); err != nil {
			return nil, err
		}
		return req.RiskPair, nil
	})
}

type riskPairsBatchRequest struct {
	Updates []lending.RiskPairUpdate `json:"updates"`
}

func (s *Server) setRiskPairsBatch(w http.ResponseWriter, r *http.Request) {
	var req riskPairsBatchRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "set_risk_pairs_batch", false, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		if err := e.SetRiskPairsBatch(caller, req.Updates); err != nil {
			return nil, err
		}
		return map[string]any{"updated": len(req.Updates)}, nil
	})
}

func (s *Server) registerAsset(w http.ResponseWriter, r *http.Request) {
	var req lending.Asset
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "register_asset", false, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		return e.RegisterAsset(caller, req)
	})
}

type initPoolRequest struct {
	Mint crypto.Address    `json:"mint"`
	Rate lending.RateModel `json:"rate"`
}

func (s *Server) initPool(w http.ResponseWriter, r *http.Request) {
	var req initPoolRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "init_pool", false, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		return e.InitPool(caller, req.Mint, req.Rate)
	})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.mutate(w, r, "set_paused", false, 0, func(e *lending.Engine, caller crypto.Address) (any, error) {
		if err := e.SetPaused(caller, req.Paused); err != nil {
			return nil, err
		}
		s.metrics.SetPaused(req.Paused)
		return req, nil
	})
}
