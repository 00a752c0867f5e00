package fees

import (
	"math/big"
	"testing"
)

var recipient = [20]byte{0x01}

func TestPolicyValidateCap(t *testing.T) {
	if err := (Policy{FeeBps: MaxFeeBps, Recipient: recipient}).Validate(); err != nil {
		t.Fatalf("rate at cap: %v", err)
	}
	if err := (Policy{FeeBps: MaxFeeBps + 1, Recipient: recipient}).Validate(); err == nil {
		t.Fatalf("rate above cap must be rejected")
	}
}

func TestApplyConservesValue(t *testing.T) {
	cases := []struct {
		name   string
		feeBps uint32
		amount int64
		fee    int64
		net    int64
	}{
		{"disabled", 0, 1000, 0, 1000},
		{"fiftyBps", 50, 1000, 5, 995},
		{"fiveHundredBps", 500, 1000, 50, 950},
		{"capRate", 1000, 1000, 100, 900},
		{"truncatesTowardPayout", 50, 199, 0, 199},
		{"smallestNonZeroFee", 50, 200, 1, 199},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Policy{FeeBps: tc.feeBps, Recipient: recipient}
			fee, net := p.Apply(big.NewInt(tc.amount))
			if fee.Cmp(big.NewInt(tc.fee)) != 0 {
				t.Fatalf("fee = %s, want %d", fee, tc.fee)
			}
			if net.Cmp(big.NewInt(tc.net)) != 0 {
				t.Fatalf("net = %s, want %d", net, tc.net)
			}
			sum := new(big.Int).Add(fee, net)
			if sum.Cmp(big.NewInt(tc.amount)) != 0 {
				t.Fatalf("fee + net = %s, want %d", sum, tc.amount)
			}
		})
	}
}

func TestApplyZeroRecipientDisablesFee(t *testing.T) {
	fee, net := (Policy{FeeBps: 500}).Apply(big.NewInt(1000))
	if fee.Sign() != 0 || net.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("zero recipient must pay out in full, fee=%s net=%s", fee, net)
	}
}

func TestApplyNilAmount(t *testing.T) {
	fee, net := (Policy{FeeBps: 500, Recipient: recipient}).Apply(nil)
	if fee.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("nil amount must produce zeroes, fee=%s net=%s", fee, net)
	}
}
