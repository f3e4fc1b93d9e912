package memories

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
)

// DeadbandProcessor suppresses insignificant input changes. The block kind is
// inferred from the input point: analog inputs use the configured comparison
// mode, digital inputs use time-based stability.
type DeadbandProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.DeadbandMemory
	states map[string]*models.DeadbandState
}

// NewDeadbandProcessor makes a deadband processor
func NewDeadbandProcessor(deps Deps) *DeadbandProcessor {
	return &DeadbandProcessor{
		Deps:   deps,
		gate:   newIntervalGate(),
		states: map[string]*models.DeadbandState{},
	}
}

func (p *DeadbandProcessor) Name() string { return "deadband" }

func (p *DeadbandProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.DeadbandMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
	}
	p.gate.prune(valid)
	for id := range p.states {
		if _, ok := valid[id]; !ok {
			delete(p.states, id)
		}
	}
	return nil
}

func (p *DeadbandProcessor) Cycle(ctx context.Context, now time.Time) error {
	for _, block := range p.blocks {
		if !block.Enabled {
			continue
		}
		due, _ := p.gate.due(block.ID, block.IntervalSeconds, now.Unix())
		if !due {
			continue
		}
		block := block
		engine.SafeBlock(p.Log, p.Metrics, p.Name(), block.ID, func() error {
			return p.step(ctx, block, now.Unix())
		})
	}
	return nil
}

func (p *DeadbandProcessor) step(ctx context.Context, block models.DeadbandMemory, now int64) error {
	point, known := p.Dispatcher.Point(block.InputPointID)
	if !known {
		return fmt.Errorf("input point %s not configured", block.InputPointID)
	}

	state, err := p.state(ctx, block.ID)
	if err != nil {
		return err
	}

	if point.Kind.Digital() {
		if err := p.digital(ctx, block, state, now); err != nil {
			return err
		}
	} else {
		if err := p.analog(ctx, block, state, now); err != nil {
			return err
		}
	}
	return p.Store.SaveBlockState(ctx, block.ID, state)
}

func (p *DeadbandProcessor) analog(ctx context.Context, block models.DeadbandMemory, state *models.DeadbandState, now int64) error {
	v, at, ok := p.finalFloat(ctx, block.InputPointID)
	if !ok {
		return fmt.Errorf("input %s missing", block.InputPointID)
	}

	if !state.HasOutput {
		p.commit(ctx, block, state, v)
		state.LastInput = v
		state.LastTime = at
		return nil
	}

	significant := false
	switch block.Mode {
	case models.DeadbandPercentage:
		span := block.RangeMax - block.RangeMin
		significant = span > 0 && math.Abs(v-state.LastOutput) > block.Deadband/100*span
	case models.DeadbandRate:
		dt := float64(at - state.LastTime)
		significant = dt > 0 && math.Abs(v-state.LastInput)/dt > block.Deadband
	default:
		significant = math.Abs(v-state.LastOutput) > block.Deadband
	}

	if significant {
		p.commit(ctx, block, state, v)
	}
	state.LastInput = v
	state.LastTime = at
	return nil
}

// digital passes a new state through only after it has held for the
// configured stability time; returning to the committed state cancels the
// pending change
func (p *DeadbandProcessor) digital(ctx context.Context, block models.DeadbandMemory, state *models.DeadbandState, now int64) error {
	b, at, ok := p.finalDigital(ctx, block.InputPointID)
	if !ok {
		return fmt.Errorf("digital input %s missing", block.InputPointID)
	}

	if !state.HasOutput {
		p.commitDigital(ctx, block, state, b, at)
		return nil
	}

	current := state.LastOutput != 0
	if b == current {
		state.HasPending = false
		return nil
	}

	if !state.HasPending || state.PendingState != b {
		state.HasPending = true
		state.PendingState = b
		state.PendingSince = now
		return nil
	}

	if now-state.PendingSince >= block.StabilityTimeSeconds {
		state.HasPending = false
		p.commitDigital(ctx, block, state, b, at)
	}
	return nil
}

func (p *DeadbandProcessor) commit(ctx context.Context, block models.DeadbandMemory, state *models.DeadbandState, v float64) {
	state.LastOutput = v
	state.HasOutput = true
	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloat(v), nil, 0)
}

func (p *DeadbandProcessor) commitDigital(ctx context.Context, block models.DeadbandMemory, state *models.DeadbandState, b bool, at int64) {
	if b {
		state.LastOutput = 1
	} else {
		state.LastOutput = 0
	}
	state.HasOutput = true
	state.LastTime = at
	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatDigital(b), nil, 0)
}

func (p *DeadbandProcessor) state(ctx context.Context, blockID string) (*models.DeadbandState, error) {
	if state, ok := p.states[blockID]; ok {
		return state, nil
	}
	state := &models.DeadbandState{}
	if _, err := p.Store.LoadBlockState(ctx, blockID, state); err != nil {
		return nil, err
	}
	p.states[blockID] = state
	return state, nil
}
