package state

import (
	"math/big"
	"testing"

	"escrowd/core/types"
	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x01)

	account, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Balance.Sign() != 0 || account.Reserved.Sign() != 0 {
		t.Fatalf("unknown account must be zero valued")
	}

	account.Nonce = 7
	account.Balance = big.NewInt(1234)
	account.Reserved = big.NewInt(55)
	if err := manager.PutAccount(addr[:], account); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(1234)) != 0 || loaded.Reserved.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("unexpected account %+v", loaded)
	}
}

func TestAgreementRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	agr := &escrow.Agreement{
		ID:          [32]byte{0xaa},
		Client:      testAddr(0x01),
		Provider:    testAddr(0x02),
		Amount:      big.NewInt(990),
		Description: "site redesign",
		Status:      escrow.StatusActive,
		CreatedAt:   1_700_000_000,
		UpdatedAt:   1_700_000_100,
	}
	if err := manager.AgreementPut(agr); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok := manager.AgreementGet(agr.ID)
	if !ok {
		t.Fatalf("expected stored agreement")
	}
	if loaded.Client != agr.Client || loaded.Provider != agr.Provider {
		t.Fatalf("party mismatch")
	}
	if loaded.Amount.Cmp(agr.Amount) != 0 || loaded.Description != agr.Description {
		t.Fatalf("payload mismatch: %+v", loaded)
	}
	if loaded.Status != escrow.StatusActive {
		t.Fatalf("status mismatch: %s", loaded.Status)
	}
	if loaded.CreatedAt != agr.CreatedAt || loaded.UpdatedAt != agr.UpdatedAt {
		t.Fatalf("timestamp mismatch: %+v", loaded)
	}

	if _, ok := manager.AgreementGet([32]byte{0xbb}); ok {
		t.Fatalf("missing agreement reported as present")
	}
}

func TestPartyIndex(t *testing.T) {
	manager := newTestManager(t)
	party := testAddr(0x01)
	first := [32]byte{0x01}
	second := [32]byte{0x02}

	ids, err := manager.PartyIndex(party)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index, got %v", ids)
	}

	if err := manager.PartyIndexAppend(party, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := manager.PartyIndexAppend(party, second); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Duplicate identifiers are ignored.
	if err := manager.PartyIndexAppend(party, first); err != nil {
		t.Fatalf("append: %v", err)
	}

	ids, err = manager.PartyIndex(party)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Fatalf("unexpected index %v", ids)
	}
}

func TestCustodyAccounting(t *testing.T) {
	manager := newTestManager(t)
	id := [32]byte{0x01}

	balance, err := manager.CustodyBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero custody, got %s", balance)
	}

	if err := manager.CustodyCredit(id, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := manager.CustodyDebit(id, big.NewInt(200)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err = manager.CustodyBalance(id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected custody of 300, got %s", balance)
	}

	if err := manager.CustodyDebit(id, big.NewInt(301)); err == nil {
		t.Fatalf("overdraw must fail")
	}
}

func TestNextSequence(t *testing.T) {
	manager := newTestManager(t)
	for want := uint64(1); want <= 3; want++ {
		seq, err := manager.NextSequence()
		if err != nil {
			t.Fatalf("sequence: %v", err)
		}
		if seq != want {
			t.Fatalf("expected %d, got %d", want, seq)
		}
	}
}

func TestApplyGenesis(t *testing.T) {
	manager := newTestManager(t)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	addr := key.PubKey().Address()

	alloc := map[string]*big.Int{addr.String(): big.NewInt(10_000)}
	if err := manager.ApplyGenesis(alloc); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	account, err := manager.GetAccount(addr.Bytes())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected seeded balance, got %s", account.Balance)
	}

	// Re-applying must not double-fund previously seeded accounts.
	account.Balance = big.NewInt(1)
	if err := manager.PutAccount(addr.Bytes(), account); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.ApplyGenesis(alloc); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	account, err = manager.GetAccount(addr.Bytes())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("genesis must not overwrite existing accounts, got %s", account.Balance)
	}
}

func TestManagerBacksEngine(t *testing.T) {
	manager := newTestManager(t)
	engine := escrow.NewEngine()
	engine.SetState(manager)

	client := testAddr(0x01)
	provider := testAddr(0x02)
	account := (&types.Account{}).EnsureBalances()
	account.Balance = big.NewInt(900)
	if err := manager.PutAccount(client[:], account); err != nil {
		t.Fatalf("fund client: %v", err)
	}

	if err := engine.Reserve(client, big.NewInt(900)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	agr, err := engine.Register(client, provider, big.NewInt(900), "audit")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Accept(agr.ID, provider); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := engine.Release(agr.ID, client); err != nil {
		t.Fatalf("release: %v", err)
	}

	providerAccount, err := manager.GetAccount(provider[:])
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if providerAccount.Balance.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected provider credited through persistent state, got %s", providerAccount.Balance)
	}
}
