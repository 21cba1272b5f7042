package lending

import (
	"fmt"

	"hedge/fixed"
)

// RateModel describes the kinked utilisation curve of a pool. All fields are
// basis points and the model is fixed once the pool exists.
type RateModel struct {
	// KinkUtilBps is the utilisation where slope2 takes over.
	KinkUtilBps uint16 `json:"kinkUtilBps" toml:"KinkUtilBps"`
	// BaseBorrowAPYBps is the borrow APY at zero utilisation.
	BaseBorrowAPYBps uint16 `json:"baseBorrowApyBps" toml:"BaseBorrowAPYBps"`
	Slope1Bps        uint16 `json:"slope1Bps" toml:"Slope1Bps"`
	Slope2Bps        uint16 `json:"slope2Bps" toml:"Slope2Bps"`
	// ReserveFactorBps is the share of borrow interest kept by the protocol.
	ReserveFactorBps uint16 `json:"reserveFactorBps" toml:"ReserveFactorBps"`
	// MaxBorrowAPYBps is the pool soft cap, further bounded by
	// MaxBorrowAPYHardBps.
	MaxBorrowAPYBps uint16 `json:"maxBorrowApyBps" toml:"MaxBorrowAPYBps"`
}

// Validate checks that the utilisation-bound fields are within 0..10000.
func (m RateModel) Validate() error {
	if m.KinkUtilBps > BasisPoints {
		return fmt.Errorf("%w: kink %d bps exceeds 100%%", ErrInvalidConfig, m.KinkUtilBps)
	}
	if m.ReserveFactorBps > BasisPoints {
		return fmt.Errorf("%w: reserve factor %d bps exceeds 100%%", ErrInvalidConfig, m.ReserveFactorBps)
	}
	return nil
}

// BorrowAPYBps maps utilisation to the borrow APY. The linear segment includes
// the kink itself.
func (m RateModel) BorrowAPYBps(utilBps uint16) uint16 {
	util := uint64(utilBps)
	kink := uint64(m.KinkUtilBps)
	apy := uint64(m.BaseBorrowAPYBps)
	if util <= kink {
		apy += util * uint64(m.Slope1Bps) / BasisPoints
	} else {
		apy += kink * uint64(m.Slope1Bps) / BasisPoints
		apy += (util - kink) * uint64(m.Slope2Bps) / BasisPoints
	}
	if soft := uint64(m.MaxBorrowAPYBps); apy > soft {
		apy = soft
	}
	if apy > MaxBorrowAPYHardBps {
		apy = MaxBorrowAPYHardBps
	}
	return uint16(apy)
}

// DepositAPYBps is the borrow APY scaled by utilisation net of the reserve cut.
func (m RateModel) DepositAPYBps(utilBps uint16) uint16 {
	borrow := uint64(m.BorrowAPYBps(utilBps))
	take := uint64(m.ReserveFactorBps)
	var keep uint64
	if take < BasisPoints {
		keep = BasisPoints - take
	}
	return uint16(borrow * uint64(utilBps) * keep / (BasisPoints * BasisPoints))
}

// AdvanceFactor applies simple interest for elapsed seconds on top of the
// current factor: f + f*apy*dt/(10000*year). Products saturate at the Q60
// ceiling and a zero APY or zero elapsed time leaves the factor unchanged.
func (m RateModel) AdvanceFactor(factor fixed.Q60, utilBps uint16, elapsed uint64, isBorrow bool) fixed.Q60 {
	var apy uint16
	if isBorrow {
		apy = m.BorrowAPYBps(utilBps)
	} else {
		apy = m.DepositAPYBps(utilBps)
	}
	if apy == 0 || elapsed == 0 {
		return factor
	}
	growth := factor.MulUint64(uint64(apy)).MulUint64(elapsed).DivUint64(BasisPoints * SecondsPerYear)
	return factor.SaturatingAdd(growth)
}

// CurvePoint is one sample of the APY curve.
type CurvePoint struct {
	UtilizationBps uint16 `json:"utilizationBps"`
	BorrowAPYBps   uint16 `json:"borrowApyBps"`
	DepositAPYBps  uint16 `json:"depositApyBps"`
}

func (m RateModel) point(util uint16) CurvePoint {
	return CurvePoint{
		UtilizationBps: util,
		BorrowAPYBps:   m.BorrowAPYBps(util),
		DepositAPYBps:  m.DepositAPYBps(util),
	}
}

// Curve samples points+1 evenly spaced utilisations from 0 to 100%.
func (m RateModel) Curve(points int) []CurvePoint {
	if points <= 0 {
		points = 1
	}
	if points > BasisPoints {
		points = BasisPoints
	}
	out := make([]CurvePoint, 0, points+1)
	for i := 0; i <= points; i++ {
		util := uint16(i * BasisPoints / points)
		out = append(out, m.point(util))
	}
	return out
}

// KeyPoints returns the curve at 0%, at the kink and at 100% utilisation.
func (m RateModel) KeyPoints() []CurvePoint {
	kink := m.KinkUtilBps
	if kink > BasisPoints {
		kink = BasisPoints
	}
	return []CurvePoint{m.point(0), m.point(kink), m.point(BasisPoints)}
}
