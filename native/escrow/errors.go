package escrow

import "errors"

// Sentinel error kinds surfaced by the engine. Callers branch on these with
// errors.Is; the wrapped message always names the offending field. Only
// transport-level failures are retryable as-is, and those never originate
// here: every error below is definitive for the request that produced it.
var (
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("escrow engine: amount must be positive")
	// ErrInvalidProvider rejects the zero identity and self-dealing.
	ErrInvalidProvider = errors.New("escrow engine: invalid provider")
	// ErrNotFound indicates an unknown agreement identifier.
	ErrNotFound = errors.New("escrow engine: agreement not found")
	// ErrNotAuthorized indicates the caller is not the party required for the
	// attempted transition.
	ErrNotAuthorized = errors.New("escrow engine: caller not authorized")
	// ErrInvalidState indicates the transition is not legal from the current
	// status, including the second application of an already-applied one.
	ErrInvalidState = errors.New("escrow engine: transition not allowed")
	// ErrInsufficientFunds indicates the spendable balance does not cover a
	// reservation.
	ErrInsufficientFunds = errors.New("escrow engine: insufficient balance")
	// ErrNotReserved indicates a registration (or unreserve) that is not
	// covered by an earlier reservation.
	ErrNotReserved = errors.New("escrow engine: reservation does not cover amount")

	errNilState = errors.New("escrow engine: state not configured")
)

// Stable kind tokens for carrying the sentinel behind a failure across
// transports that cannot carry Go error values.
const (
	KindInvalidAmount     = "invalid_amount"
	KindInvalidProvider   = "invalid_provider"
	KindNotFound          = "not_found"
	KindNotAuthorized     = "not_authorized"
	KindInvalidState      = "invalid_state"
	KindInsufficientFunds = "insufficient_funds"
	KindNotReserved       = "not_reserved"
)

// ErrorKind labels the sentinel wrapped inside err with its kind token. Errors
// outside the engine's vocabulary yield the empty string.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrInvalidProvider):
		return KindInvalidProvider
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrNotReserved):
		return KindNotReserved
	default:
		return ""
	}
}

// KindError resolves a kind token back to its sentinel. Unknown tokens resolve
// to nil.
func KindError(kind string) error {
	switch kind {
	case KindInvalidAmount:
		return ErrInvalidAmount
	case KindInvalidProvider:
		return ErrInvalidProvider
	case KindNotFound:
		return ErrNotFound
	case KindNotAuthorized:
		return ErrNotAuthorized
	case KindInvalidState:
		return ErrInvalidState
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	case KindNotReserved:
		return ErrNotReserved
	default:
		return nil
	}
}
