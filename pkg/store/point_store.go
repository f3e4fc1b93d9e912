package store

import (
	"context"
	"encoding/json"

	"github.com/fieldline/fieldline/pkg/models"
)

// Key prefixes of the point store namespaces. Every per-block state key is
// derived solely from the block id so that deleting a block invalidates all
// of its state.
const (
	prefixRaw            = "RawItem:"
	prefixFinal          = "FinalItem:"
	prefixPIDState       = "PIDState:"
	prefixTuningState    = "PIDTuningState:"
	prefixGlobalVariable = "GlobalVariable:"
	prefixMemoryState    = "MemoryState:"
	prefixMemorySamples  = "MemorySamples:"
)

// PointStore is the hot cache of current raw and final values, plus the
// per-block checkpoint namespace. Raw is owned by drivers and the write
// dispatcher; final by the monitoring pipeline; checkpoints by their block's
// processor.
type PointStore struct {
	kv KV
}

// NewPointStore wraps a KV in the point store key schema
func NewPointStore(kv KV) *PointStore {
	return &PointStore{kv: kv}
}

// Raw returns the latest driver sample of a point
func (s *PointStore) Raw(ctx context.Context, pointID string) (models.StoredValue, bool, error) {
	return s.value(ctx, prefixRaw+pointID)
}

// SetRaw replaces the latest driver sample of a point
func (s *PointStore) SetRaw(ctx context.Context, value models.StoredValue) error {
	return s.setValue(ctx, prefixRaw+value.PointID, value)
}

// AllRaw bulk-reads the whole raw namespace, as the monitoring pipeline does
// once per cycle
func (s *PointStore) AllRaw(ctx context.Context) ([]models.StoredValue, error) {
	raw, err := s.kv.Scan(ctx, prefixRaw)
	if err != nil {
		return nil, err
	}
	values := make([]models.StoredValue, 0, len(raw))
	for _, encoded := range raw {
		var value models.StoredValue
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// Final returns the post-pipeline value of a point
func (s *PointStore) Final(ctx context.Context, pointID string) (models.StoredValue, bool, error) {
	return s.value(ctx, prefixFinal+pointID)
}

// SetFinal replaces the post-pipeline value of a point
func (s *PointStore) SetFinal(ctx context.Context, value models.StoredValue) error {
	return s.setValue(ctx, prefixFinal+value.PointID, value)
}

// LoadPIDState returns the persisted PID checkpoint, if any
func (s *PointStore) LoadPIDState(ctx context.Context, pidID string) (models.PIDPersistedState, bool, error) {
	var state models.PIDPersistedState
	ok, err := s.loadJSON(ctx, prefixPIDState+pidID, &state)
	return state, ok, err
}

// SavePIDState persists a PID checkpoint
func (s *PointStore) SavePIDState(ctx context.Context, state models.PIDPersistedState) error {
	return s.saveJSON(ctx, prefixPIDState+state.ID, state)
}

// DeletePIDState drops a PID checkpoint so the next tick reinitializes
// bumplessly from the observed output
func (s *PointStore) DeletePIDState(ctx context.Context, pidID string) error {
	return s.kv.Delete(ctx, prefixPIDState+pidID)
}

// LoadBlockState reads a generic per-block checkpoint into v
func (s *PointStore) LoadBlockState(ctx context.Context, blockID string, v any) (bool, error) {
	return s.loadJSON(ctx, prefixMemoryState+blockID, v)
}

// SaveBlockState persists a generic per-block checkpoint
func (s *PointStore) SaveBlockState(ctx context.Context, blockID string, v any) error {
	return s.saveJSON(ctx, prefixMemoryState+blockID, v)
}

// LoadSamples reads a block's persisted sample window
func (s *PointStore) LoadSamples(ctx context.Context, blockID string) ([]models.Sample, error) {
	var samples []models.Sample
	if _, err := s.loadJSON(ctx, prefixMemorySamples+blockID, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// SaveSamples persists a block's sample window. The owning processor prunes
// before saving; nothing else touches these keys.
func (s *PointStore) SaveSamples(ctx context.Context, blockID string, samples []models.Sample) error {
	return s.saveJSON(ctx, prefixMemorySamples+blockID, samples)
}

// DeleteBlockState drops every state key of a block
func (s *PointStore) DeleteBlockState(ctx context.Context, blockID string) error {
	for _, prefix := range []string{prefixMemoryState, prefixMemorySamples, prefixPIDState, prefixTuningState} {
		if err := s.kv.Delete(ctx, prefix+blockID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PointStore) value(ctx context.Context, key string) (models.StoredValue, bool, error) {
	var value models.StoredValue
	ok, err := s.loadJSON(ctx, key, &value)
	return value, ok, err
}

func (s *PointStore) setValue(ctx context.Context, key string, value models.StoredValue) error {
	return s.saveJSON(ctx, key, value)
}

func (s *PointStore) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	encoded, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(encoded), v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PointStore) saveJSON(ctx context.Context, key string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, string(encoded))
}
