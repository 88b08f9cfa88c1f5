package types

import "math/big"

// Account tracks the ledger-side balances for a single identity. Balance is
// spendable; Reserved is earmarked for a pending agreement registration and
// cannot be spent until it is either consumed by a registration or returned.
type Account struct {
	Nonce    uint64   `json:"nonce"`
	Balance  *big.Int `json:"balance"`
	Reserved *big.Int `json:"reserved"`
}

// EnsureBalances normalises nil balance pointers to zero so callers can do
// arithmetic without nil checks.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0), Reserved: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	if a.Reserved == nil {
		a.Reserved = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0), Reserved: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.Reserved != nil {
		clone.Reserved = new(big.Int).Set(a.Reserved)
	}
	return clone
}
