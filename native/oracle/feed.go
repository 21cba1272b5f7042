// Package oracle adapts external price feeds to the Q60 prices stored in the
// lending price cache.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"hedge/fixed"
)

// MaxExponent bounds the absolute feed exponent accepted by ToQ60.
const MaxExponent = 38

var (
	// ErrNegativePrice is returned for feed prices below zero.
	ErrNegativePrice = errors.New("oracle: negative price")
	// ErrInvalidExponent is returned for exponents outside +-MaxExponent.
	ErrInvalidExponent = errors.New("oracle: exponent out of range")
	// ErrNoFreshQuote indicates that no source produced a quote within the
	// freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrFeedNotFound is returned when a source does not know a feed id.
	ErrFeedNotFound = errors.New("oracle: feed not found")
)

// Quote is a raw feed observation: the value is Price * 10^Expo.
type Quote struct {
	FeedID      string    `json:"feedId"`
	Price       int64     `json:"price"`
	Expo        int32     `json:"expo"`
	Conf        uint64    `json:"conf"`
	PublishTime time.Time `json:"publishTime"`
	Source      string    `json:"source"`
}

// Q60 converts the quote into the fixed-point representation.
func (q Quote) Q60() (fixed.Q60, error) {
	return ToQ60(q.Price, q.Expo)
}

// String renders the quote value in decimal notation.
func (q Quote) String() string {
	return FormatPrice(q.Price, q.Expo)
}

// NormalizeFeedID lowercases a feed id and strips the optional 0x prefix.
func NormalizeFeedID(id string) string {
	trimmed := strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(trimmed, "0x")
}

// ToQ60 scales price * 10^expo into Q60 using exact integer arithmetic. The
// result is truncated toward zero at the 60-bit resolution.
func ToQ60(price int64, expo int32) (fixed.Q60, error) {
	if price < 0 {
		return fixed.Q60{}, ErrNegativePrice
	}
	if expo > MaxExponent || expo < -MaxExponent {
		return fixed.Q60{}, ErrInvalidExponent
	}
	num := new(big.Int).Lsh(big.NewInt(price), fixed.FracBits)
	if expo >= 0 {
		num.Mul(num, pow10(expo))
	} else {
		num.Quo(num, pow10(-expo))
	}
	q, err := fixed.FromBig(num)
	if err != nil {
		return fixed.Q60{}, fmt.Errorf("oracle: scale %d^%d: %w", price, expo, err)
	}
	return q, nil
}

// FormatPrice renders price * 10^expo keeping every feed digit, so
// FormatPrice(9998880000, -5) is "99988.80000".
func FormatPrice(price int64, expo int32) string {
	digits := new(big.Int).Abs(big.NewInt(price)).String()
	sign := ""
	if price < 0 {
		sign = "-"
	}
	if expo >= 0 {
		if price == 0 {
			return "0"
		}
		return sign + digits + strings.Repeat("0", int(expo))
	}
	places := int(-expo)
	if len(digits) <= places {
		digits = strings.Repeat("0", places-len(digits)+1) + digits
	}
	split := len(digits) - places
	return sign + digits[:split] + "." + digits[split:]
}

func pow10(exp int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
