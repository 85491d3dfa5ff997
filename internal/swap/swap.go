// Package swap persists overflow batches of flowfile records to durable
// storage and restores them in the order they were written.
package swap

import (
	"errors"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
)

// ErrNotFound reports that a swap location no longer exists. Callers treat
// this as data loss to be reported, not a fatal condition.
var ErrNotFound = errors.New("swap location not found")

// Manager persists and restores batches of flowfile records. Implementations
// must return locations from RecoverLocations in the same order SwapOut
// produced them. A successful SwapIn consumes the location.
//
// Managers are called with the owning queue's write lock held and must never
// call back into the queue.
type Manager interface {
	// SwapOut persists a batch and returns an opaque location for it.
	SwapOut(records []flowfile.Record, queueID string) (string, error)

	// SwapIn restores the batch at location and consumes it.
	SwapIn(location string, queueID string) ([]flowfile.Record, error)

	// SwapSize reports the record count and total content bytes of the
	// batch at location without restoring it.
	SwapSize(location string) (count int, bytes uint64, err error)

	// MaxRecordID reports the greatest record id in the batch at location.
	// ok is false when the batch is empty.
	MaxRecordID(location string) (id uint64, ok bool, err error)

	// RecoverLocations enumerates the persisted locations for a queue in
	// the order they were swapped out.
	RecoverLocations(queueID string) ([]string, error)

	// Purge removes all persisted batches.
	Purge() error
}
