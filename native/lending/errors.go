package lending

import (
	"errors"
	"fmt"

	"hedge/fixed"
)

var (
	ErrUnauthorized           = errors.New("lending: unauthorized")
	ErrMarketPaused           = errors.New("lending: market paused")
	ErrExceedsMaxAssets       = errors.New("lending: exceeds max assets")
	ErrExceedsMaxPositions    = errors.New("lending: exceeds max positions")
	ErrAssetNotRegistered     = errors.New("lending: asset not registered")
	ErrPoolNotFound           = errors.New("lending: pool not found")
	ErrInvalidMint            = errors.New("lending: invalid mint")
	ErrMathOverflow           = errors.New("lending: math overflow")
	ErrMathUnderflow          = errors.New("lending: math underflow")
	ErrPriceStale             = errors.New("lending: price stale")
	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrHealthCheckFailed      = errors.New("lending: health check failed")
	ErrPositionNotFound       = errors.New("lending: position not found")
	ErrUnsupportedMode        = errors.New("lending: unsupported price mode")
	ErrPositionHealthy        = errors.New("lending: position healthy")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInvalidOwner           = errors.New("lending: invalid owner")
	ErrTooManyPositions       = errors.New("lending: too many positions")
	ErrInvalidRiskPair        = errors.New("lending: invalid risk pair")
	ErrFeedNotSet             = errors.New("lending: price feed not set")
	ErrNegativeFeedPrice      = errors.New("lending: negative feed price")
	ErrPriceNotFound          = errors.New("lending: price not found")
	ErrInvalidConfig          = errors.New("lending: invalid market configuration")
)

// Engine-level failures that have no counterpart in the market error set.
var (
	ErrStateNotConfigured = errors.New("lending engine: state not configured")
	ErrInvalidAmount      = errors.New("lending engine: amount must be positive")
	ErrNoDebtToRepay      = errors.New("lending engine: no outstanding debt to repay")
	ErrMarketExists       = errors.New("lending engine: market already initialised")
	ErrPoolExists         = errors.New("lending engine: pool already initialised")
	ErrMarketNotFound     = errors.New("lending engine: market not initialised")
)

// mathErr folds fixed-point failures into the lending arithmetic errors while
// keeping the original cause reachable through errors.Is.
func mathErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fixed.ErrUnderflow):
		return fmt.Errorf("%w: %w", ErrMathUnderflow, err)
	case errors.Is(err, fixed.ErrOverflow), errors.Is(err, fixed.ErrDivisionByZero):
		return fmt.Errorf("%w: %w", ErrMathOverflow, err)
	default:
		return err
	}
}
