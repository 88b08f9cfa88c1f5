package state

import (
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/storage"
)

var (
	accountPrefix   = []byte("account:")
	agreementPrefix = []byte("agreement:")
	custodyPrefix   = []byte("custody:")
	partyPrefix     = []byte("party:")
	sequenceKey     = ethcrypto.Keccak256([]byte("agreement-sequence"))
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func agreementKey(id [32]byte) []byte {
	buf := make([]byte, len(agreementPrefix)+len(id))
	copy(buf, agreementPrefix)
	copy(buf[len(agreementPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func custodyKey(id [32]byte) []byte {
	buf := make([]byte, len(custodyPrefix)+len(id))
	copy(buf, custodyPrefix)
	copy(buf[len(custodyPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func partyKey(addr [20]byte) []byte {
	buf := make([]byte, len(partyPrefix)+len(addr))
	copy(buf, partyPrefix)
	copy(buf[len(partyPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

// storedAgreement is the RLP representation of an agreement record. RLP has
// no signed integer support, so timestamps are persisted as uint64.
type storedAgreement struct {
	ID          [32]byte
	Client      [20]byte
	Provider    [20]byte
	Amount      *big.Int
	Description string
	Status      uint8
	CreatedAt   uint64
	UpdatedAt   uint64
}

func toStored(a *escrow.Agreement) *storedAgreement {
	amount := a.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return &storedAgreement{
		ID:          a.ID,
		Client:      a.Client,
		Provider:    a.Provider,
		Amount:      new(big.Int).Set(amount),
		Description: a.Description,
		Status:      uint8(a.Status),
		CreatedAt:   uint64(a.CreatedAt),
		UpdatedAt:   uint64(a.UpdatedAt),
	}
}

func fromStored(s *storedAgreement) *escrow.Agreement {
	amount := s.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return &escrow.Agreement{
		ID:          s.ID,
		Client:      s.Client,
		Provider:    s.Provider,
		Amount:      new(big.Int).Set(amount),
		Description: s.Description,
		Status:      escrow.Status(s.Status),
		CreatedAt:   int64(s.CreatedAt),
		UpdatedAt:   int64(s.UpdatedAt),
	}
}

// storedAccount mirrors types.Account for RLP persistence.
type storedAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Reserved *big.Int
}

// Manager reads and writes agreement state through a key-value database. Keys
// are keccak-hashed to keep a uniform width and to avoid prefix collisions
// between record families.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// GetAccount loads the account for the given address. Unknown addresses yield
// a zero-valued account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.get(accountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	account := &types.Account{
		Nonce:    stored.Nonce,
		Balance:  stored.Balance,
		Reserved: stored.Reserved,
	}
	return account.EnsureBalances(), nil
}

// PutAccount persists the account under the given address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	account = account.EnsureBalances()
	return m.put(accountKey(addr), &storedAccount{
		Nonce:    account.Nonce,
		Balance:  account.Balance,
		Reserved: account.Reserved,
	})
}

// AgreementPut persists the agreement record.
func (m *Manager) AgreementPut(a *escrow.Agreement) error {
	if a == nil {
		return fmt.Errorf("state: agreement must not be nil")
	}
	return m.put(agreementKey(a.ID), toStored(a))
}

// AgreementGet loads the agreement record for the given identifier. The
// boolean reports whether the record exists.
func (m *Manager) AgreementGet(id [32]byte) (*escrow.Agreement, bool) {
	stored := new(storedAgreement)
	ok, err := m.get(agreementKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return fromStored(stored), true
}

// PartyIndexAppend records the agreement identifier in the party's index.
// Identifiers already present are not duplicated.
func (m *Manager) PartyIndexAppend(party [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := partyKey(party)
	var list [][]byte
	if _, err := m.get(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if len(existing) == len(id) && string(existing) == string(id[:]) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), id[:]...))
	return m.put(key, list)
}

// PartyIndex returns the agreement identifiers recorded for the party, in
// append order.
func (m *Manager) PartyIndex(party [20]byte) ([][32]byte, error) {
	var list [][]byte
	if _, err := m.get(partyKey(party), &list); err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, len(list))
	for _, raw := range list {
		if len(raw) != 32 {
			return nil, fmt.Errorf("state: malformed index entry of %d bytes", len(raw))
		}
		var id [32]byte
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}

// CustodyCredit adds funds to the custody balance of the agreement.
func (m *Manager) CustodyCredit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: custody credit must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.custodyBalance(id)
	if err != nil {
		return err
	}
	return m.put(custodyKey(id), new(big.Int).Add(balance, amt))
}

// CustodyDebit removes funds from the custody balance of the agreement. The
// balance can never go negative.
func (m *Manager) CustodyDebit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: custody debit must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.custodyBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return fmt.Errorf("state: custody debit %s exceeds balance %s", amt, balance)
	}
	return m.put(custodyKey(id), new(big.Int).Sub(balance, amt))
}

// CustodyBalance reports the funds currently held for the agreement.
func (m *Manager) CustodyBalance(id [32]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custodyBalance(id)
}

func (m *Manager) custodyBalance(id [32]byte) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := m.get(custodyKey(id), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// NextSequence increments and returns the global registration counter.
func (m *Manager) NextSequence() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq uint64
	if _, err := m.get(sequenceKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := m.put(sequenceKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// ApplyGenesis seeds the spendable balances named in the allocation map. Keys
// are bech32 addresses. Seeding is skipped for any address that already has an
// account, so restarting a node does not double-fund parties.
func (m *Manager) ApplyGenesis(alloc map[string]*big.Int) error {
	for bech, amount := range alloc {
		addr, err := crypto.DecodeAddress(bech)
		if err != nil {
			return fmt.Errorf("genesis alloc %q: %w", bech, err)
		}
		stored := new(storedAccount)
		ok, err := m.get(accountKey(addr.Bytes()), stored)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		account := (&types.Account{}).EnsureBalances()
		if amount != nil {
			account.Balance = new(big.Int).Set(amount)
		}
		if err := m.PutAccount(addr.Bytes(), account); err != nil {
			return err
		}
	}
	return nil
}
