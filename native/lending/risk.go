package lending

// TriIndex maps an unordered asset pair to its slot in a triangular matrix of
// dimension dim. The pair is normalised so that TriIndex(i, j) == TriIndex(j, i).
func TriIndex(i, j, dim uint16) int {
	if i > j {
		i, j = j, i
	}
	a, b, d := int(i), int(j), int(dim)
	return a*d - a*(a+1)/2 + b
}

// PairCount is the number of slots needed for dim assets, self pairs included.
func PairCount(dim uint16) int {
	d := int(dim)
	return d * (d + 1) / 2
}

// Pair returns the stored pair for (a, b) without applying defaults.
func (r *RiskRegistry) Pair(a, b uint16) (RiskPair, error) {
	if r == nil || a >= r.Dim || b >= r.Dim {
		return RiskPair{}, ErrInvalidRiskPair
	}
	k := TriIndex(a, b, r.Dim)
	if k >= len(r.Pairs) {
		return RiskPair{}, ErrInvalidRiskPair
	}
	return r.Pairs[k], nil
}

// Grow resizes the matrix to dim, keeping every existing pair attached to the
// same asset indices and filling new slots with fill. The matrix never shrinks.
func (r *RiskRegistry) Grow(dim uint16, fill RiskPair) {
	if r == nil || dim < r.Dim {
		return
	}
	if dim == r.Dim && len(r.Pairs) >= PairCount(dim) {
		return
	}
	pairs := make([]RiskPair, PairCount(dim))
	for k := range pairs {
		pairs[k] = fill
	}
	for i := uint16(0); i < r.Dim; i++ {
		for j := i; j < r.Dim; j++ {
			old := TriIndex(i, j, r.Dim)
			if old < len(r.Pairs) {
				pairs[TriIndex(i, j, dim)] = r.Pairs[old]
			}
		}
	}
	r.Dim = dim
	r.Pairs = pairs
}

// Set stores pair for (a, b), growing the matrix to cover both indices.
func (r *RiskRegistry) Set(a, b uint16, pair RiskPair, fill RiskPair) {
	if r == nil {
		return
	}
	need := a
	if b > need {
		need = b
	}
	if need >= r.Dim || len(r.Pairs) < PairCount(r.Dim) {
		dim := r.Dim
		if need >= dim {
			dim = need + 1
		}
		r.Grow(dim, fill)
	}
	r.Pairs[TriIndex(a, b, r.Dim)] = pair
}

// Resolve returns the effective LTV and liquidation threshold for (a, b).
// Missing slots and unset fields take the market defaults.
func (r *RiskRegistry) Resolve(market *Market, a, b uint16) (ltv, threshold uint16) {
	defaults := market.DefaultPair()
	ltv, threshold = defaults.LTVBps, defaults.LiqThresholdBps
	pair, err := r.Pair(a, b)
	if err != nil {
		return ltv, threshold
	}
	if pair.LTVBps != 0 {
		ltv = pair.LTVBps
	}
	if pair.LiqThresholdBps != 0 {
		threshold = pair.LiqThresholdBps
	}
	return ltv, threshold
}
