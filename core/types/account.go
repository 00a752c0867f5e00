package types

import "math/big"

// Account holds the transferable balance tracked by the asset custodian. The
// ledger never inspects accounts directly; all balance movement flows through
// the custodian interface so a foreign asset backend can be substituted.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureAccount normalises a possibly-nil account so callers can rely on a
// non-nil balance.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}
