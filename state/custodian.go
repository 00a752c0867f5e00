package state

import (
	"math/big"

	"custodia/core/types"
	"custodia/native/escrow"
)

// Custodian is the account-backed asset custodian used by the daemon and by
// tests. It moves balances between manager accounts and reports failure with
// a boolean, matching the non-throwing custodian contract the ledger is
// written against: the ledger checks every result and never assumes success.
type Custodian struct {
	mgr   *Manager
	vault [20]byte
}

// Custodian binds a custodian to the ledger's custody account.
func (m *Manager) Custodian(vault [20]byte) *Custodian {
	return &Custodian{mgr: m, vault: vault}
}

// Transfer pays out of the custody account.
func (c *Custodian) Transfer(to [20]byte, amount *big.Int) bool {
	return c.mgr.move(c.vault, to, amount)
}

// TransferFrom moves funds between arbitrary accounts. The ledger uses it to
// pull escrow amounts and challenge stakes into custody.
func (c *Custodian) TransferFrom(from, to [20]byte, amount *big.Int) bool {
	return c.mgr.move(from, to, amount)
}

// TransferBatch pays every leg out of the custody account, or none of them.
// The legs settle together under the manager mutex, so a multi-recipient
// payout can never leave the vault partially drained.
func (c *Custodian) TransferBatch(legs []escrow.Payment) bool {
	m := c.mgr
	total := big.NewInt(0)
	for _, leg := range legs {
		if leg.Amount == nil || leg.Amount.Sign() < 0 {
			return false
		}
		total.Add(total, leg.Amount)
	}
	if total.Sign() == 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vaultAcc, err := m.GetAccount(c.vault)
	if err != nil {
		return false
	}
	if vaultAcc.Balance.Cmp(total) < 0 {
		return false
	}
	accounts := map[[20]byte]*types.Account{c.vault: vaultAcc}
	vaultAcc.Balance = new(big.Int).Sub(vaultAcc.Balance, total)
	for _, leg := range legs {
		if leg.Amount.Sign() == 0 {
			continue
		}
		acc, ok := accounts[leg.To]
		if !ok {
			loaded, err := m.GetAccount(leg.To)
			if err != nil {
				return false
			}
			acc = loaded
			accounts[leg.To] = acc
		}
		acc.Balance = new(big.Int).Add(acc.Balance, leg.Amount)
	}
	for addr, acc := range accounts {
		if err := m.PutAccount(addr, acc); err != nil {
			return false
		}
	}
	return true
}

// move debits from and credits to under the manager mutex so the two account
// writes observe a consistent balance. A false return leaves both accounts
// untouched.
func (m *Manager) move(from, to [20]byte, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	if amount.Sign() == 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return false
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return false
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return false
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return false
	}
	if err := m.PutAccount(to, toAcc); err != nil {
		return false
	}
	return true
}

// Credit mints balance into an account. Used at genesis and in tests to fund
// buyers and challengers.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return m.PutAccount(addr, acc)
}

// Balance returns the current balance of an account.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	acc, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(types.EnsureAccount(acc).Balance), nil
}
