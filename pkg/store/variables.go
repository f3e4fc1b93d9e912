package store

import (
	"context"
	"encoding/json"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
)

// VariableStore holds the small named boolean/float variables that blocks may
// reference as sources. Variables live in the KV under GlobalVariable:{id};
// lookups are by name.
type VariableStore struct {
	kv    KV
	clock utils.Clock
}

// NewVariableStore makes a variable store on the given KV
func NewVariableStore(kv KV, clock utils.Clock) *VariableStore {
	return &VariableStore{kv: kv, clock: clock}
}

// Get returns a variable by name
func (s *VariableStore) Get(ctx context.Context, name string) (models.GlobalVariable, bool, error) {
	all, err := s.kv.Scan(ctx, prefixGlobalVariable)
	if err != nil {
		return models.GlobalVariable{}, false, err
	}
	for _, encoded := range all {
		var variable models.GlobalVariable
		if err := json.Unmarshal([]byte(encoded), &variable); err != nil {
			continue
		}
		if variable.Name == name {
			return variable, true, nil
		}
	}
	return models.GlobalVariable{}, false, nil
}

// Resolve returns the numeric value of a variable: bools as 0/1, floats as-is
func (s *VariableStore) Resolve(ctx context.Context, name string) (float64, bool) {
	variable, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return 0, false
	}
	switch variable.Kind {
	case models.VariableBool:
		b, ok := utils.ParseDigital(variable.Value)
		if !ok {
			return 0, false
		}
		if b {
			return 1, true
		}
		return 0, true
	default:
		return utils.ParseFloat(variable.Value)
	}
}

// SetBool upserts a boolean variable. The update timestamp is milliseconds,
// unlike every other engine timestamp.
func (s *VariableStore) SetBool(ctx context.Context, id, name string, value bool) error {
	return s.save(ctx, models.GlobalVariable{
		ID:    id,
		Name:  name,
		Kind:  models.VariableBool,
		Value: utils.FormatDigital(value),
	})
}

// SetFloat upserts a float variable
func (s *VariableStore) SetFloat(ctx context.Context, id, name string, value float64) error {
	return s.save(ctx, models.GlobalVariable{
		ID:    id,
		Name:  name,
		Kind:  models.VariableFloat,
		Value: utils.FormatFloat(value),
	})
}

func (s *VariableStore) save(ctx context.Context, variable models.GlobalVariable) error {
	variable.LastUpdate = s.clock.Now().UnixMilli()
	encoded, err := json.Marshal(variable)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, prefixGlobalVariable+variable.ID, string(encoded))
}

// ResolveSource resolves the uniform "point id or variable name" reference to
// a numeric value. A missing reference is a per-block configuration error and
// reported through ok=false.
func ResolveSource(ctx context.Context, points *PointStore, variables *VariableStore, ref models.SourceRef) (float64, bool) {
	if ref.IsZero() {
		return 0, false
	}
	switch ref.Kind {
	case models.SourceVariable:
		return variables.Resolve(ctx, ref.ID)
	default:
		value, ok, err := points.Final(ctx, ref.ID)
		if err != nil || !ok {
			return 0, false
		}
		return utils.ParseFloat(value.Value)
	}
}
