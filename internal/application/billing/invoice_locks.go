package billing

import (
	"sync"

	"github.com/google/uuid"
)

// InvoiceLocks serializes all mutating operations against a single invoice.
// Manual payment entry, status transitions, and webhook reconciliation for
// the same invoice id take the same lock; distinct invoices proceed in
// parallel. Entries are reference-counted and removed when the last holder
// releases, so the map does not grow with the number of invoices ever seen.
type InvoiceLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewInvoiceLocks creates an empty lock registry
func NewInvoiceLocks() *InvoiceLocks {
	return &InvoiceLocks{
		entries: make(map[uuid.UUID]*lockEntry),
	}
}

// Lock acquires the lock for the given invoice id, blocking until it is
// available. The returned function releases it.
func (l *InvoiceLocks) Lock(invoiceID uuid.UUID) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.entries[invoiceID]
	if !ok {
		entry = &lockEntry{}
		l.entries[invoiceID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, invoiceID)
		}
		l.mu.Unlock()
	}
}
