package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Agreement mirrors the daemon's view of an agreement record. Amount is the
// decimal token rendering; AmountUnits keeps the raw fixed-point value as it
// crossed the wire.
type Agreement struct {
	ID          string
	Client      string
	Provider    string
	Amount      string
	AmountUnits string
	Description string
	Status      string
	CreatedAt   int64
	UpdatedAt   int64
}

// Confirmation is the receipt handed back for a successful agreement
// creation: the ledger-assigned identifier, a transport handle identifying
// this creation attempt, and an echo of the submitted inputs.
type Confirmation struct {
	Handle      string
	AgreementID string
	Provider    string
	Amount      string
	Description string
}

type agreementWire struct {
	ID          string `json:"id"`
	Client      string `json:"client"`
	Provider    string `json:"provider"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

type listWire struct {
	IDs []string `json:"ids"`
}

type balanceWire struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Reserved string `json:"reserved"`
	Nonce    uint64 `json:"nonce"`
}

// Balance is an account snapshot with amounts in decimal token units.
type Balance struct {
	Account  string
	Balance  string
	Reserved string
	Nonce    uint64
}

// Client drives the agreement lifecycle on behalf of one party identity.
type Client struct {
	transport Transport
	identity  string
	logger    *slog.Logger
}

// New creates a client acting as the given bech32 identity.
func New(transport Transport, identity string, logger *slog.Logger) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("escrow client: transport required")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("escrow client: identity required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		identity:  identity,
		logger:    logger.With("component", "escrow-client"),
	}, nil
}

// Identity returns the bech32 identity the client acts as.
func (c *Client) Identity() string { return c.identity }

// CreateAgreement funds and registers a new agreement against the provider.
// The decimal amount is converted to ledger base units before submission.
//
// Creation is a two-step protocol: the amount is reserved first, then the
// registration consumes the reservation. When registration fails outright the
// reservation is returned to the spendable balance. When registration fails
// at the transport level the outcome is unknown, so the reservation is left
// in place and the transport error is surfaced for the caller to resolve.
func (c *Client) CreateAgreement(ctx context.Context, provider, amount, description string) (*Confirmation, error) {
	units, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	unitStr := units.String()

	if err := c.transport.Call(ctx, "escrow_reserve", map[string]string{
		"client": c.identity,
		"amount": unitStr,
	}, nil); err != nil {
		return nil, err
	}

	var created agreementWire
	err = c.transport.Call(ctx, "escrow_register", map[string]string{
		"client":      c.identity,
		"provider":    strings.TrimSpace(provider),
		"amount":      unitStr,
		"description": description,
	}, &created)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			c.logger.Error("registration outcome unknown, leaving reservation in place",
				"amount", unitStr, "error", err)
			return nil, err
		}
		if unreserveErr := c.transport.Call(ctx, "escrow_unreserve", map[string]string{
			"client": c.identity,
			"amount": unitStr,
		}, nil); unreserveErr != nil {
			c.logger.Error("failed to return reservation after rejected registration",
				"amount", unitStr, "error", unreserveErr)
		}
		return nil, err
	}

	conf := &Confirmation{
		Handle:      uuid.NewString(),
		AgreementID: created.ID,
		Provider:    created.Provider,
		Amount:      formatUnitString(created.Amount),
		Description: created.Description,
	}
	c.logger.Info("agreement created", "id", created.ID, "handle", conf.Handle)
	return conf, nil
}

// Accept marks the agreement as accepted by this identity.
func (c *Client) Accept(ctx context.Context, agreementID string) (*Agreement, error) {
	return c.transition(ctx, "escrow_accept", agreementID)
}

// Release pays the custodied funds out to the provider.
func (c *Client) Release(ctx context.Context, agreementID string) (*Agreement, error) {
	return c.transition(ctx, "escrow_release", agreementID)
}

// Refund returns the custodied funds to this identity.
func (c *Client) Refund(ctx context.Context, agreementID string) (*Agreement, error) {
	return c.transition(ctx, "escrow_refund", agreementID)
}

func (c *Client) transition(ctx context.Context, method, agreementID string) (*Agreement, error) {
	var wire agreementWire
	err := c.transport.Call(ctx, method, map[string]string{
		"id":     strings.TrimSpace(agreementID),
		"caller": c.identity,
	}, &wire)
	if err != nil {
		return nil, err
	}
	return fromWire(&wire), nil
}

// Get returns the full agreement record.
func (c *Client) Get(ctx context.Context, agreementID string) (*Agreement, error) {
	var wire agreementWire
	err := c.transport.Call(ctx, "escrow_get", map[string]string{
		"id": strings.TrimSpace(agreementID),
	}, &wire)
	if err != nil {
		return nil, err
	}
	return fromWire(&wire), nil
}

// GetStatus returns just the outward status label of the agreement.
func (c *Client) GetStatus(ctx context.Context, agreementID string) (string, error) {
	agr, err := c.Get(ctx, agreementID)
	if err != nil {
		return "", err
	}
	return agr.Status, nil
}

// ListAgreements returns every agreement this identity takes part in, fully
// resolved, in creation order.
func (c *Client) ListAgreements(ctx context.Context) ([]*Agreement, error) {
	return c.ListAgreementsFor(ctx, c.identity)
}

// ListAgreementsFor is ListAgreements for an arbitrary identity. The index
// order is preserved as returned by the daemon, without re-sorting or
// deduplication.
func (c *Client) ListAgreementsFor(ctx context.Context, identity string) ([]*Agreement, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = c.identity
	}
	var wire listWire
	err := c.transport.Call(ctx, "escrow_list", map[string]string{
		"party": identity,
	}, &wire)
	if err != nil {
		return nil, err
	}
	out := make([]*Agreement, 0, len(wire.IDs))
	for _, id := range wire.IDs {
		agr, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, agr)
	}
	return out, nil
}

// GetBalance returns this identity's account snapshot with amounts rendered
// in decimal token units.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var wire balanceWire
	err := c.transport.Call(ctx, "escrow_balance", map[string]string{
		"account": c.identity,
	}, &wire)
	if err != nil {
		return nil, err
	}
	return &Balance{
		Account:  wire.Account,
		Balance:  formatUnitString(wire.Balance),
		Reserved: formatUnitString(wire.Reserved),
		Nonce:    wire.Nonce,
	}, nil
}

func fromWire(wire *agreementWire) *Agreement {
	return &Agreement{
		ID:          wire.ID,
		Client:      wire.Client,
		Provider:    wire.Provider,
		Amount:      formatUnitString(wire.Amount),
		AmountUnits: wire.Amount,
		Description: wire.Description,
		Status:      wire.Status,
		CreatedAt:   wire.CreatedAt,
		UpdatedAt:   wire.UpdatedAt,
	}
}

func formatUnitString(units string) string {
	parsed, ok := new(big.Int).SetString(strings.TrimSpace(units), 10)
	if !ok {
		return units
	}
	return FormatAmount(parsed)
}
