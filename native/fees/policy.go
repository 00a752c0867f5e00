package fees

import (
	"fmt"
	"math/big"
)

// MaxFeeBps is the hard cap on the protocol fee rate. Policies above the cap
// are rejected at configuration time so release paths never need to clamp.
const MaxFeeBps uint32 = 1_000

// BpsDenominator is the basis-point divisor shared with completion-rate math.
const BpsDenominator = 10_000

// Policy captures the protocol fee configuration applied on escrow release.
// A zero rate or a zero recipient degrades to a no-op: the full amount is
// paid out and no fee transfer is attempted.
type Policy struct {
	FeeBps    uint32
	Recipient [20]byte
}

// Validate reports whether the policy respects the hard fee cap.
func (p Policy) Validate() error {
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("fees: rate %d exceeds cap %d", p.FeeBps, MaxFeeBps)
	}
	return nil
}

// Enabled reports whether applying the policy can produce a non-zero fee.
func (p Policy) Enabled() bool {
	return p.FeeBps > 0 && p.Recipient != ([20]byte{})
}

// Apply splits the gross amount into the protocol fee and the net payout.
// Integer truncation favours the payout; fee + net always equals the gross
// amount so release paths conserve value by construction.
func (p Policy) Apply(amount *big.Int) (fee *big.Int, net *big.Int) {
	net = big.NewInt(0)
	if amount != nil {
		net = new(big.Int).Set(amount)
	}
	fee = big.NewInt(0)
	if net.Sign() <= 0 || !p.Enabled() {
		return fee, net
	}
	fee = new(big.Int).Mul(net, big.NewInt(int64(p.FeeBps)))
	fee.Div(fee, big.NewInt(BpsDenominator))
	if fee.Sign() <= 0 {
		return big.NewInt(0), net
	}
	net = new(big.Int).Sub(net, fee)
	return fee, net
}
