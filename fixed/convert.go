package fixed

// MulAmount multiplies an atomic token amount by an index, rounding toward zero.
// The product saturates inside the fixed-point range and only fails when the
// integer result does not fit uint64.
func MulAmount(amount uint64, index Q60) (uint64, error) {
	return FromUint64(amount).SaturatingMul(index).Floor()
}

// SharesFromAmount divides an atomic token amount by an index, producing a Q60
// share balance.
func SharesFromAmount(amount uint64, index Q60) (Q60, error) {
	return FromUint64(amount).Div(index)
}

// AmountFromShares converts a Q60 share balance back to atomic token units at
// the supplied index.
func AmountFromShares(shares, index Q60) (uint64, error) {
	return shares.SaturatingMul(index).Floor()
}

// AmountToUSD values an atomic amount as (amount / 10^decimals) * price.
func AmountToUSD(amount uint64, decimals uint8, price Q60) (Q60, error) {
	denom, err := Pow10(decimals)
	if err != nil {
		return Q60{}, err
	}
	units, err := FromUint64(amount).SaturatingDiv(denom)
	if err != nil {
		return Q60{}, err
	}
	return units.SaturatingMul(price), nil
}

// USDToAmount converts a USD value into atomic units of an asset priced at
// price, as (value / price) * 10^decimals.
func USDToAmount(value Q60, decimals uint8, price Q60) (uint64, error) {
	denom, err := Pow10(decimals)
	if err != nil {
		return 0, err
	}
	units, err := value.SaturatingDiv(price)
	if err != nil {
		return 0, err
	}
	return units.SaturatingMul(denom).Floor()
}
