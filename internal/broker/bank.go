package broker

import "sync"

// Bank accumulates the platform fees of every settled stake in the process.
type Bank struct {
	mu    sync.Mutex
	total int
}

// Accrue adds fee to the bank. Non-positive fees are ignored.
func (b *Bank) Accrue(fee int) {
	if fee <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += fee
}

// Total returns the accumulated fees.
func (b *Bank) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.total
}
