package state

var (
	lendingMarketPrefix     = []byte("lending/market/")
	lendingAssetsPrefix     = []byte("lending/assets/")
	lendingRiskPrefix       = []byte("lending/risk/")
	lendingPricesPrefix     = []byte("lending/prices/")
	lendingPoolPrefix       = []byte("lending/pool/")
	lendingObligationPrefix = []byte("lending/obligation/")
)

func recordKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
