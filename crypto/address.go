package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the byte width of every account, mint and program address.
const AddressLength = 20

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	AccountPrefix    AddressPrefix = "hacct"
	MintPrefix       AddressPrefix = "hmint"
	MarketPrefix     AddressPrefix = "hmkt"
	PoolPrefix       AddressPrefix = "hpool"
	VaultPrefix      AddressPrefix = "hvlt"
	ObligationPrefix AddressPrefix = "hobl"
)

// Address represents a 20-byte address with a specific prefix. The value is
// comparable and can be used as a map key.
type Address struct {
	prefix AddressPrefix
	raw    [AddressLength]byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	addr := Address{prefix: prefix}
	copy(addr.raw[:], b)
	return addr
}

// DeriveAddress computes a program-derived address from the supplied seeds.
// The result is the trailing 20 bytes of keccak256(prefix || seeds...), so the
// same seeds always map to the same address.
func DeriveAddress(prefix AddressPrefix, seeds ...[]byte) Address {
	parts := make([][]byte, 0, len(seeds)+1)
	parts = append(parts, []byte(prefix))
	parts = append(parts, seeds...)
	digest := ethcrypto.Keccak256(parts...)
	return NewAddress(prefix, digest[len(digest)-AddressLength:])
}

func (a Address) String() string {
	if a.prefix == "" {
		return fmt.Sprintf("%x", a.raw[:])
	}
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.raw[:])
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether every address byte is zero.
func (a Address) IsZero() bool {
	return a.raw == [AddressLength]byte{}
}

// Equal compares the address bytes and ignores the prefix.
func (a Address) Equal(other Address) bool {
	return a.raw == other.raw
}

// Compare orders addresses by their raw bytes.
func (a Address) Compare(other Address) int {
	return bytes.Compare(a.raw[:], other.raw[:])
}

// WithPrefix returns a copy of the address rendered under another prefix.
func (a Address) WithPrefix(prefix AddressPrefix) Address {
	a.prefix = prefix
	return a
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseAddress decodes addrStr and checks that it carries the expected prefix.
func ParseAddress(addrStr string, expected AddressPrefix) (Address, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return Address{}, err
	}
	if expected != "" && addr.prefix != expected {
		return Address{}, fmt.Errorf("address prefix %q, want %q", addr.prefix, expected)
	}
	return addr, nil
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}
