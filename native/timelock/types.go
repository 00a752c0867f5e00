package timelock

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Action kinds wired into the administration engine.
const (
	// KindOracleRotation replaces the address allowed to drive release and
	// challenge resolution.
	KindOracleRotation = "oracle.rotate"
	// KindFeeRecipientRotation replaces the protocol fee recipient.
	KindFeeRecipientRotation = "fees.recipient"
)

// Action is a pending administrative change. Only the commitment is stored;
// execution re-derives it from the caller-supplied arguments, so a scheduled
// action cannot be silently swapped for a different one while it waits out
// the delay.
type Action struct {
	ID           [32]byte
	Kind         string
	Commitment   [32]byte
	ScheduledAt  int64
	ExecuteAfter int64
	Executed     bool
}

// Clone returns a copy safe for the caller to mutate.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Commit derives the commitment binding an action kind to its payload.
func Commit(kind string, payload []byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(kind), payload)
}

// ActionID derives the identifier for a scheduled action. The nonce keeps
// repeat schedules of the same change distinct.
func ActionID(kind string, payload []byte, nonce uint64) [32]byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256Hash([]byte(kind), payload, n[:])
}
