package historian

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionName(t *testing.T) {
	// 2026-03-15 UTC
	assert.EqualValues(t, "history_p1_202603", CollectionName("p1", 1773532800))
}

func TestDuplicateAppendIsSuccess(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistorian()

	assert.NoError(t, h.Append(ctx, "p1", "10", 1000))
	assert.NoError(t, h.Append(ctx, "p1", "99", 1000))
	assert.NoError(t, h.Append(ctx, "p1", "11", 1001))

	records := h.Records("p1", 1000)
	assert.Len(t, records, 2)
	// the first write wins; the duplicate is discarded
	assert.EqualValues(t, "10", records[1000])
}
