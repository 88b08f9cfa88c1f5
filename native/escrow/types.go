package escrow

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of an agreement.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusRefunded
	// StatusDisputed is reserved for a future arbitration extension. No
	// transition defined by the engine produces it.
	StatusDisputed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// String returns the canonical outward-facing label for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusCompleted:
		return "COMPLETED"
	case StatusRefunded:
		return "REFUNDED"
	case StatusDisputed:
		return "DISPUTED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus resolves an outward status label back to its enum value.
func ParseStatus(label string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return StatusPending, nil
	case "ACTIVE":
		return StatusActive, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "REFUNDED":
		return StatusRefunded, nil
	case "DISPUTED":
		return StatusDisputed, nil
	default:
		return 0, fmt.Errorf("unknown agreement status: %s", label)
	}
}

// Agreement captures the immutable metadata and runtime status of a single
// custody agreement. The identifier is the keccak256 hash of the client,
// provider, amount, a ledger sequence number and the registration time, so two
// registrations with identical business fields never collide.
type Agreement struct {
	ID          [32]byte
	Client      [20]byte
	Provider    [20]byte
	Amount      *big.Int
	Description string
	Status      Status
	CreatedAt   int64
	UpdatedAt   int64
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeAgreement validates and normalises the supplied agreement,
// returning a cloned instance with a non-nil amount. The function does not
// mutate the original value.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("nil agreement")
	}
	clone := a.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("agreement amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid agreement status: %d", clone.Status)
	}
	if clone.UpdatedAt < clone.CreatedAt {
		return nil, fmt.Errorf("agreement updatedAt precedes createdAt")
	}
	return clone, nil
}

// FormatID renders an agreement identifier as a 0x-prefixed hex string.
func FormatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseID decodes a 0x-prefixed hex agreement identifier.
func ParseID(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, fmt.Errorf("id required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("id must be 32 bytes")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}
