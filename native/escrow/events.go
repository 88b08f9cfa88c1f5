package escrow

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeAgreementCreated  = "escrow.created"
	EventTypeAgreementAccepted = "escrow.accepted"
	EventTypeAgreementReleased = "escrow.released"
	EventTypeAgreementRefunded = "escrow.refunded"
	EventTypeFundsReserved     = "escrow.funds.reserved"
	EventTypeReservationReturn = "escrow.funds.unreserved"
)

// NewCreatedEvent returns the canonical event payload for a newly registered
// agreement.
func NewCreatedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementCreated, a)
}

// NewAcceptedEvent returns the canonical event payload emitted when the
// provider accepts an agreement.
func NewAcceptedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementAccepted, a)
}

// NewReleasedEvent returns the canonical event payload for a release of
// custodied funds to the provider.
func NewReleasedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementReleased, a)
}

// NewRefundedEvent returns the canonical event payload for a refund of
// custodied funds to the client.
func NewRefundedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementRefunded, a)
}

// NewReservedEvent emits the payload for a successful funds reservation.
func NewReservedEvent(client [20]byte, amount string) *types.Event {
	return &types.Event{Type: EventTypeFundsReserved, Attributes: map[string]string{
		"client": hex.EncodeToString(client[:]),
		"amount": amount,
	}}
}

// NewUnreservedEvent emits the payload for a reservation returned to the
// spendable balance.
func NewUnreservedEvent(client [20]byte, amount string) *types.Event {
	return &types.Event{Type: EventTypeReservationReturn, Attributes: map[string]string{
		"client": hex.EncodeToString(client[:]),
		"amount": amount,
	}}
}

func newAgreementEvent(eventType string, a *Agreement) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeAgreement(a)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["client"] = hex.EncodeToString(sanitized.Client[:])
	attrs["provider"] = hex.EncodeToString(sanitized.Provider[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	attrs["updatedAt"] = strconv.FormatInt(sanitized.UpdatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
