package lending

import (
	"hedge/crypto"
)

func newObligation(market, owner crypto.Address) *Obligation {
	return &Obligation{Market: market, Owner: owner}
}

// Position returns a copy of the position held in mint.
func (o *Obligation) Position(mint crypto.Address) (Position, bool) {
	if o == nil {
		return Position{}, false
	}
	for _, pos := range o.Positions {
		if pos.Mint.Equal(mint) {
			return pos, true
		}
	}
	return Position{}, false
}

func (o *Obligation) find(mint crypto.Address) *Position {
	for i := range o.Positions {
		if o.Positions[i].Mint.Equal(mint) {
			return &o.Positions[i]
		}
	}
	return nil
}

// ensure returns the position for mint, appending an empty one when absent.
// The returned pointer is only valid until the next append.
func (o *Obligation) ensure(mint crypto.Address, maxPositions uint16) (*Position, error) {
	if pos := o.find(mint); pos != nil {
		return pos, nil
	}
	limit := int(maxPositions)
	if limit > MaxPositions {
		limit = MaxPositions
	}
	if len(o.Positions) >= limit {
		return nil, ErrExceedsMaxPositions
	}
	o.Positions = append(o.Positions, Position{Mint: mint})
	return &o.Positions[len(o.Positions)-1], nil
}

// compact drops positions whose deposit and borrow shares are both zero.
func (o *Obligation) compact() {
	kept := o.Positions[:0]
	for _, pos := range o.Positions {
		if !pos.Empty() {
			kept = append(kept, pos)
		}
	}
	for i := len(kept); i < len(o.Positions); i++ {
		o.Positions[i] = Position{}
	}
	o.Positions = kept
}

// prune drops positions whose mint is no longer in the registry.
func (o *Obligation) prune(assets *AssetRegistry) {
	kept := o.Positions[:0]
	for _, pos := range o.Positions {
		if _, ok := assets.Lookup(pos.Mint); ok {
			kept = append(kept, pos)
		}
	}
	o.Positions = kept
}

// Mints lists the mints referenced by the obligation in position order.
func (o *Obligation) Mints() []crypto.Address {
	if o == nil {
		return nil
	}
	mints := make([]crypto.Address, 0, len(o.Positions))
	for _, pos := range o.Positions {
		mints = append(mints, pos.Mint)
	}
	return mints
}

// HasDebt reports whether any position carries borrow shares.
func (o *Obligation) HasDebt() bool {
	if o == nil {
		return false
	}
	for _, pos := range o.Positions {
		if !pos.BorrowShares.IsZero() {
			return true
		}
	}
	return false
}
