package billing

import (
	"fmt"

	"github.com/billing/backend/internal/domain/shared"
)

// Reconciliation and ledger errors
var (
	// ErrDuplicateExternalReference indicates a ledger integrity violation.
	// The reconciler's idempotency check should make this unreachable.
	ErrDuplicateExternalReference = shared.NewDomainError("DUPLICATE_EXTERNAL_REFERENCE", "A payment record with this external reference already exists")

	// ErrUnrecognizedEvent indicates a provider event whose correlation data
	// matches no invoice. Dropped, never retried: redelivery cannot succeed.
	ErrUnrecognizedEvent = shared.NewDomainError("UNRECOGNIZED_EVENT", "Event does not correlate to any known invoice")

	// ErrRetryable indicates a transient failure; the delivery channel should
	// redeliver the event later. No mutation was committed.
	ErrRetryable = shared.NewDomainError("RETRYABLE", "Transient failure, event should be redelivered")

	// ErrUnresolved indicates compensation could not complete and operator
	// intervention is required. Recorded durably, never silently discarded.
	ErrUnresolved = shared.NewDomainError("UNRESOLVED", "Reconciliation left in an unresolved state, manual intervention required")
)

// NewIllegalTransition builds the error for a status edge that does not exist
func NewIllegalTransition(from, to InvoiceStatus) *shared.DomainError {
	return shared.NewDomainError("ILLEGAL_TRANSITION", fmt.Sprintf("Cannot transition invoice from %s to %s", from, to))
}

// NewInvalidState builds the error for an operation not permitted in the
// invoice's current status
func NewInvalidState(format string, args ...any) *shared.DomainError {
	return shared.NewDomainError("INVALID_STATE", fmt.Sprintf(format, args...))
}
