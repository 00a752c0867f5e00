package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part for bech32 encoded addresses.
const AddressPrefix = "cus"

// Address represents a 20-byte custodia address.
type Address struct {
	bytes [20]byte
}

// NewAddress wraps the supplied raw bytes. The slice must be exactly 20 bytes.
func NewAddress(b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes, got %d", len(b))
	}
	var addr Address
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress wraps raw bytes and panics on malformed input. Intended for
// static configuration and tests.
func MustNewAddress(b []byte) Address {
	addr, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// Bytes returns a copy of the raw 20-byte payload.
func (a Address) Bytes() []byte {
	out := make([]byte, 20)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-width array form used as a state key.
func (a Address) Raw() [20]byte { return a.bytes }

// String encodes the address as bech32 with the custodia prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeAddress parses a bech32 encoded address and validates its prefix.
func DecodeAddress(s string) (Address, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	if hrp != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("decode address payload: %w", err)
	}
	return NewAddress(raw)
}

// PrivateKey wraps an ECDSA key used to derive an operator address.
type PrivateKey struct {
	PrivateKey *ecdsa.PrivateKey
}

// GeneratePrivateKey creates a fresh secp256k1 key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: key}, nil
}

// Address derives the 20-byte address from the key's public half.
func (k *PrivateKey) Address() Address {
	pub := k.PrivateKey.PublicKey
	raw := ethcrypto.PubkeyToAddress(pub)
	return MustNewAddress(raw.Bytes())
}
