package core

import (
	"log/slog"
	"math/big"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/observability"
	"escrowd/storage"
)

// Node bundles the agreement engine with its persistent state and the event
// buffer exposed over RPC. All RPC handlers go through the node rather than
// touching the engine or state manager directly.
type Node struct {
	engine  *escrow.Engine
	state   *state.Manager
	events  *events.Buffer
	logger  *slog.Logger
	metrics *observability.EngineMetrics
}

const eventBufferSize = 1024

// NewNode wires an engine over the provided database. Genesis allocations are
// applied before the node is returned.
func NewNode(db storage.Database, alloc map[string]*big.Int, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)
	if err := manager.ApplyGenesis(alloc); err != nil {
		return nil, err
	}
	buffer := events.NewBuffer(eventBufferSize)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(buffer)
	return &Node{
		engine:  engine,
		state:   manager,
		events:  buffer,
		logger:  logger.With("component", "node"),
		metrics: observability.Engine(),
	}, nil
}

// EscrowReserve earmarks client funds for a future registration.
func (n *Node) EscrowReserve(client [20]byte, amount *big.Int) error {
	err := n.engine.Reserve(client, amount)
	n.metrics.RecordTransition("reserve", err)
	if err != nil {
		n.logger.Warn("reserve rejected", "error", err)
	}
	return err
}

// EscrowUnreserve returns earmarked funds to the client.
func (n *Node) EscrowUnreserve(client [20]byte, amount *big.Int) error {
	err := n.engine.Unreserve(client, amount)
	n.metrics.RecordTransition("unreserve", err)
	return err
}

// EscrowRegister creates a new agreement and takes the reserved funds into
// custody.
func (n *Node) EscrowRegister(client, provider [20]byte, amount *big.Int, description string) (*escrow.Agreement, error) {
	agr, err := n.engine.Register(client, provider, amount, description)
	n.metrics.RecordTransition("register", err)
	if err != nil {
		n.logger.Warn("registration rejected", "error", err)
		return nil, err
	}
	n.logger.Info("agreement registered", "id", escrow.FormatID(agr.ID), "amount", agr.Amount.String())
	return agr, nil
}

// EscrowAccept marks a pending agreement as accepted by its provider.
func (n *Node) EscrowAccept(id [32]byte, caller [20]byte) (*escrow.Agreement, error) {
	agr, err := n.engine.Accept(id, caller)
	n.metrics.RecordTransition("accept", err)
	return agr, err
}

// EscrowRelease pays the custodied funds out to the provider.
func (n *Node) EscrowRelease(id [32]byte, caller [20]byte) (*escrow.Agreement, error) {
	agr, err := n.engine.Release(id, caller)
	n.metrics.RecordTransition("release", err)
	if err == nil {
		n.logger.Info("agreement released", "id", escrow.FormatID(id))
	}
	return agr, err
}

// EscrowRefund returns the custodied funds to the client.
func (n *Node) EscrowRefund(id [32]byte, caller [20]byte) (*escrow.Agreement, error) {
	agr, err := n.engine.Refund(id, caller)
	n.metrics.RecordTransition("refund", err)
	if err == nil {
		n.logger.Info("agreement refunded", "id", escrow.FormatID(id))
	}
	return agr, err
}

// EscrowGet returns the agreement record for the identifier.
func (n *Node) EscrowGet(id [32]byte) (*escrow.Agreement, error) {
	return n.engine.Get(id)
}

// EscrowListFor returns the identifiers of every agreement the party takes
// part in.
func (n *Node) EscrowListFor(party [20]byte) ([][32]byte, error) {
	return n.engine.ListFor(party)
}

// EscrowCustody reports the funds currently held for the agreement.
func (n *Node) EscrowCustody(id [32]byte) (*big.Int, error) {
	return n.engine.CustodyBalance(id)
}

// Account loads the account record for the address.
func (n *Node) Account(addr [20]byte) (*types.Account, error) {
	return n.state.GetAccount(addr[:])
}

// Events returns buffered lifecycle events whose type carries the prefix,
// newest last.
func (n *Node) Events(prefix string, limit int) []*types.Event {
	return n.events.List(prefix, limit)
}
