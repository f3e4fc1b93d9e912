package historian

import (
	"context"
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Historian is the append-only archive of point samples. The production
// deployment backs this with a document store holding one collection per
// (point, month) with a unique index on Time; the engine only relies on this
// contract. Appending a duplicate (point, time) must succeed silently.
type Historian interface {
	Append(ctx context.Context, pointID, value string, unixSeconds int64) error
}

// CollectionName is the canonical collection naming shared with the document
// store adapter: history_{pointId}_{YYYYMM}
func CollectionName(pointID string, unixSeconds int64) string {
	t := time.Unix(unixSeconds, 0).UTC()
	return fmt.Sprintf("history_%s_%04d%02d", pointID, t.Year(), int(t.Month()))
}

// MemoryHistorian is the in-process historian used in development and tests
type MemoryHistorian struct {
	mutex       deadlock.Mutex
	collections map[string]map[int64]string
}

// NewMemoryHistorian makes an empty in-process historian
func NewMemoryHistorian() *MemoryHistorian {
	return &MemoryHistorian{collections: map[string]map[int64]string{}}
}

// Append stores one record, partitioned by (point, month). Duplicate times
// are discarded without error, matching the duplicate-key-is-success contract.
func (h *MemoryHistorian) Append(ctx context.Context, pointID, value string, unixSeconds int64) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	name := CollectionName(pointID, unixSeconds)
	collection, ok := h.collections[name]
	if !ok {
		collection = map[int64]string{}
		h.collections[name] = collection
	}
	if _, exists := collection[unixSeconds]; exists {
		return nil
	}
	collection[unixSeconds] = value
	return nil
}

// Records returns the stored values of one collection, for tests and tooling
func (h *MemoryHistorian) Records(pointID string, unixSeconds int64) map[int64]string {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	out := map[int64]string{}
	for time, value := range h.collections[CollectionName(pointID, unixSeconds)] {
		out[time] = value
	}
	return out
}
