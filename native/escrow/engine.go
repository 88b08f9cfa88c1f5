package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/core/events"
	"escrowd/core/types"
)

// engineState is the persistence capability required by the engine. A state
// backend owns agreement records, the per-party index, per-agreement custody
// balances, party accounts and the registration sequence counter.
type engineState interface {
	AgreementPut(*Agreement) error
	AgreementGet(id [32]byte) (*Agreement, bool)
	PartyIndexAppend(party [20]byte, id [32]byte) error
	PartyIndex(party [20]byte) ([][32]byte, error)
	CustodyCredit(id [32]byte, amt *big.Int) error
	CustodyDebit(id [32]byte, amt *big.Int) error
	CustodyBalance(id [32]byte) (*big.Int, error)
	NextSequence() (uint64, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type agreementEvent struct {
	evt *types.Event
}

func (e agreementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e agreementEvent) Event() *types.Event { return e.evt }

// Engine wires the agreement state machine with external state and event
// emitters. Every mutating operation is an atomic check-then-update: all
// mutations for one agreement run under that agreement's lock, so two
// concurrent transitions against the same identifier cannot both observe the
// pre-transition state and both succeed. Account balances are read-modify-write
// and take the owning address's lock, so a payout racing a reservation (or a
// second payout to the same address) cannot lose an update. Reads operate on
// cloned records and never block behind a transition.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	nanosFn func() int64

	// locksMu guards both lock maps. recordLocks serializes transitions per
	// agreement id; accountLocks serializes balance updates per address,
	// shared by reservation bookkeeping and custody payouts.
	locksMu      sync.Mutex
	recordLocks  map[[32]byte]*sync.Mutex
	accountLocks map[[20]byte]*sync.Mutex
}

// NewEngine creates an agreement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
		nanosFn:      func() int64 { return time.Now().UnixNano() },
		recordLocks:  make(map[[32]byte]*sync.Mutex),
		accountLocks: make(map[[20]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetNanosFunc overrides the high-resolution clock mixed into identifier
// derivation. Tests pair it with SetNowFunc for reproducible identifiers.
func (e *Engine) SetNanosFunc(nanos func() int64) {
	if nanos == nil {
		e.nanosFn = func() int64 { return time.Now().UnixNano() }
		return
	}
	e.nanosFn = nanos
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(agreementEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) nanos() int64 {
	if e == nil || e.nanosFn == nil {
		return time.Now().UnixNano()
	}
	return e.nanosFn()
}

func (e *Engine) lockRecord(id [32]byte) func() {
	e.locksMu.Lock()
	lock, ok := e.recordLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.recordLocks[id] = lock
	}
	e.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// dropRecordLock sheds the transition lock of an agreement that reached a
// terminal status. A goroutine still parked on the evicted mutex re-reads the
// record once it acquires it and fails on the terminal status, so eviction
// never lets two live transitions through.
func (e *Engine) dropRecordLock(id [32]byte) {
	e.locksMu.Lock()
	delete(e.recordLocks, id)
	e.locksMu.Unlock()
}

func (e *Engine) lockAccount(addr [20]byte) func() {
	e.locksMu.Lock()
	lock, ok := e.accountLocks[addr]
	if !ok {
		lock = &sync.Mutex{}
		e.accountLocks[addr] = lock
	}
	e.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadAgreement(id [32]byte) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agr, ok := e.state.AgreementGet(id)
	if !ok {
		return nil, fmt.Errorf("agreement %s: %w", hex.EncodeToString(id[:]), ErrNotFound)
	}
	return agr, nil
}

func (e *Engine) storeAgreement(a *Agreement) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.AgreementPut(a)
}

// Reserve moves amount from the client's spendable balance into the reserved
// bucket, earmarking it for a subsequent registration.
func (e *Engine) Reserve(client [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("reserve amount %s: %w", amt.String(), ErrInvalidAmount)
	}
	unlock := e.lockAccount(client)
	defer unlock()
	acct, err := e.state.GetAccount(client[:])
	if err != nil {
		return err
	}
	acct = acct.EnsureBalances()
	if acct.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("reserve amount %s exceeds balance %s: %w", amt.String(), acct.Balance.String(), ErrInsufficientFunds)
	}
	acct.Balance = new(big.Int).Sub(acct.Balance, amt)
	acct.Reserved = new(big.Int).Add(acct.Reserved, amt)
	if err := e.state.PutAccount(client[:], acct); err != nil {
		return err
	}
	e.emit(NewReservedEvent(client, amt.String()))
	return nil
}

// Unreserve returns a previously reserved amount to the client's spendable
// balance. It is the recovery path for a registration that failed after its
// reservation succeeded.
func (e *Engine) Unreserve(client [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("unreserve amount %s: %w", amt.String(), ErrInvalidAmount)
	}
	unlock := e.lockAccount(client)
	defer unlock()
	acct, err := e.state.GetAccount(client[:])
	if err != nil {
		return err
	}
	acct = acct.EnsureBalances()
	if acct.Reserved.Cmp(amt) < 0 {
		return fmt.Errorf("unreserve amount %s exceeds reservation %s: %w", amt.String(), acct.Reserved.String(), ErrNotReserved)
	}
	acct.Reserved = new(big.Int).Sub(acct.Reserved, amt)
	acct.Balance = new(big.Int).Add(acct.Balance, amt)
	if err := e.state.PutAccount(client[:], acct); err != nil {
		return err
	}
	e.emit(NewUnreservedEvent(client, amt.String()))
	return nil
}

// Register constructs a new agreement in state Pending. The reservation is
// consumed, the record persisted, both party indexes appended and the custody
// balance credited under one lock, so there is no window where funds are
// custodied without an owning agreement. A registration that fails leaves the
// reservation intact for the caller to unreserve.
func (e *Engine) Register(client, provider [20]byte, amount *big.Int, description string) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if provider == ([20]byte{}) {
		return nil, fmt.Errorf("provider is the zero identity: %w", ErrInvalidProvider)
	}
	if provider == client {
		return nil, fmt.Errorf("provider equals client: %w", ErrInvalidProvider)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("register amount %s: %w", amt.String(), ErrInvalidAmount)
	}

	unlock := e.lockAccount(client)
	defer unlock()

	acct, err := e.state.GetAccount(client[:])
	if err != nil {
		return nil, err
	}
	acct = acct.EnsureBalances()
	if acct.Reserved.Cmp(amt) < 0 {
		return nil, fmt.Errorf("register amount %s exceeds reservation %s: %w", amt.String(), acct.Reserved.String(), ErrNotReserved)
	}

	seq, err := e.state.NextSequence()
	if err != nil {
		return nil, err
	}
	now := e.now()
	id := deriveAgreementID(client, provider, amt, seq, e.nanos())

	debited := acct.Clone()
	debited.Reserved = new(big.Int).Sub(debited.Reserved, amt)
	if err := e.state.PutAccount(client[:], debited); err != nil {
		return nil, err
	}

	agr := &Agreement{
		ID:          id,
		Client:      client,
		Provider:    provider,
		Amount:      amt,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.storeAgreement(agr); err != nil {
		// Restore the reservation so the funds stay recoverable.
		_ = e.state.PutAccount(client[:], acct)
		return nil, err
	}
	if err := e.state.CustodyCredit(id, amt); err != nil {
		_ = e.state.PutAccount(client[:], acct)
		return nil, err
	}
	if err := e.state.PartyIndexAppend(client, id); err != nil {
		return nil, err
	}
	if err := e.state.PartyIndexAppend(provider, id); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(agr))
	return agr.Clone(), nil
}

// Accept transitions a Pending agreement to Active. Only the registered
// provider may accept, and only once.
func (e *Engine) Accept(id [32]byte, caller [20]byte) (*Agreement, error) {
	unlock := e.lockRecord(id)
	defer unlock()

	agr, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if caller != agr.Provider {
		return nil, fmt.Errorf("accept caller is not the provider: %w", ErrNotAuthorized)
	}
	if agr.Status != StatusPending {
		return nil, fmt.Errorf("accept from status %s: %w", agr.Status, ErrInvalidState)
	}
	agr.Status = StatusActive
	agr.UpdatedAt = e.now()
	if err := e.storeAgreement(agr); err != nil {
		return nil, err
	}
	e.emit(NewAcceptedEvent(agr))
	return agr.Clone(), nil
}

// Release settles an Active agreement in favour of the provider: the full
// custodied amount moves to the provider's spendable balance and the status
// becomes Completed. Only the registered client may release. The fund move
// and the status change commit under the record lock, so no caller observes
// one without the other.
func (e *Engine) Release(id [32]byte, caller [20]byte) (*Agreement, error) {
	unlock := e.lockRecord(id)
	defer unlock()

	agr, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if caller != agr.Client {
		return nil, fmt.Errorf("release caller is not the client: %w", ErrNotAuthorized)
	}
	if agr.Status != StatusActive {
		return nil, fmt.Errorf("release from status %s: %w", agr.Status, ErrInvalidState)
	}
	if err := e.payOutCustody(agr, agr.Provider); err != nil {
		return nil, err
	}
	agr.Status = StatusCompleted
	agr.UpdatedAt = e.now()
	if err := e.storeAgreement(agr); err != nil {
		return nil, err
	}
	e.dropRecordLock(id)
	e.emit(NewReleasedEvent(agr))
	return agr.Clone(), nil
}

// Refund returns the custodied amount to the client and marks the agreement
// Refunded. A refund is only legal while the agreement is still Pending; once
// the provider has accepted, the client's only recourse is release.
func (e *Engine) Refund(id [32]byte, caller [20]byte) (*Agreement, error) {
	unlock := e.lockRecord(id)
	defer unlock()

	agr, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if caller != agr.Client {
		return nil, fmt.Errorf("refund caller is not the client: %w", ErrNotAuthorized)
	}
	if agr.Status != StatusPending {
		return nil, fmt.Errorf("refund from status %s: %w", agr.Status, ErrInvalidState)
	}
	if err := e.payOutCustody(agr, agr.Client); err != nil {
		return nil, err
	}
	agr.Status = StatusRefunded
	agr.UpdatedAt = e.now()
	if err := e.storeAgreement(agr); err != nil {
		return nil, err
	}
	e.dropRecordLock(id)
	e.emit(NewRefundedEvent(agr))
	return agr.Clone(), nil
}

// Get returns a copy of the agreement for the given identifier.
func (e *Engine) Get(id [32]byte) (*Agreement, error) {
	agr, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	return agr.Clone(), nil
}

// ListFor returns the identifiers of every agreement in which the party
// participates as client or provider, in creation order. An unknown party
// yields an empty slice, not an error.
func (e *Engine) ListFor(party [20]byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.PartyIndex(party)
}

// CustodyBalance reports the funds currently backing the agreement.
func (e *Engine) CustodyBalance(id [32]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadAgreement(id); err != nil {
		return nil, err
	}
	return e.state.CustodyBalance(id)
}

func (e *Engine) payOutCustody(agr *Agreement, recipient [20]byte) error {
	amount := cloneBigInt(agr.Amount)
	if amount.Sign() <= 0 {
		return fmt.Errorf("payout amount %s: %w", amount.String(), ErrInvalidAmount)
	}
	if err := e.state.CustodyDebit(agr.ID, amount); err != nil {
		return err
	}
	unlock := e.lockAccount(recipient)
	defer unlock()
	acct, err := e.state.GetAccount(recipient[:])
	if err != nil {
		return err
	}
	acct = acct.EnsureBalances()
	acct.Balance = new(big.Int).Add(acct.Balance, amount)
	return e.state.PutAccount(recipient[:], acct)
}

// deriveAgreementID hashes the business fields together with a strictly
// increasing sequence number and a high-resolution timestamp. The sequence
// alone guarantees uniqueness; the identifier is opaque beyond that.
func deriveAgreementID(client, provider [20]byte, amount *big.Int, seq uint64, nanos int64) [32]byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	var nanoBuf [8]byte
	binary.BigEndian.PutUint64(nanoBuf[:], uint64(nanos))
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(client[:], provider[:], amount.Bytes(), seqBuf[:], nanoBuf[:]))
	return id
}
