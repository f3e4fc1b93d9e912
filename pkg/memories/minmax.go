package memories

import (
	"context"
	"strconv"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
)

// MinMaxProcessor selects the minimum or maximum of its inputs and applies
// the configured failover when no input is usable. The last good selection is
// checkpointed for HoldLastGood.
type MinMaxProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.MinMaxMemory
	states map[string]*models.MinMaxState
}

// NewMinMaxProcessor makes a min/max selector processor
func NewMinMaxProcessor(deps Deps) *MinMaxProcessor {
	return &MinMaxProcessor{
		Deps:   deps,
		gate:   newIntervalGate(),
		states: map[string]*models.MinMaxState{},
	}
}

func (p *MinMaxProcessor) Name() string { return "minmax" }

func (p *MinMaxProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.MinMaxMemories(ctx)
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

func (p *MinMaxProcessor) Cycle(ctx context.Context, now time.Time) error {
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
			return p.step(ctx, block)
		})
	}
	return nil
}

func (p *MinMaxProcessor) step(ctx context.Context, block models.MinMaxMemory) error {
	state, err := p.state(ctx, block.ID)
	if err != nil {
		return err
	}

	bestIndex := -1
	var best float64
	for i, pointID := range block.Inputs {
		v, _, ok := p.finalFloat(ctx, pointID)
		if !ok {
			continue
		}
		if bestIndex == -1 || (block.Mode == models.SelectMin && v < best) || (block.Mode == models.SelectMax && v > best) {
			best = v
			bestIndex = i
		}
	}

	if bestIndex >= 0 {
		state.LastValue = best
		state.LastIndex = bestIndex + 1
		state.HasLast = true
		p.emit(ctx, block, best, bestIndex+1)
		return p.Store.SaveBlockState(ctx, block.ID, state)
	}

	// no valid input at all: apply the failover rule
	if block.Failover == models.FailoverHoldLastGood && state.HasLast {
		p.emit(ctx, block, state.LastValue, state.LastIndex)
	}
	// IgnoreBad and FallbackToOpposite leave the output untouched here
	return nil
}

func (p *MinMaxProcessor) emit(ctx context.Context, block models.MinMaxMemory, value float64, index int) {
	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloat(value), nil, 0)
	if block.IndexPointID != "" {
		p.Dispatcher.WriteOrAdd(ctx, block.IndexPointID, strconv.Itoa(index), nil, 0)
	}
}

func (p *MinMaxProcessor) state(ctx context.Context, blockID string) (*models.MinMaxState, error) {
	if state, ok := p.states[blockID]; ok {
		return state, nil
	}
	state := &models.MinMaxState{}
	if _, err := p.Store.LoadBlockState(ctx, blockID, state); err != nil {
		return nil, err
	}
	p.states[blockID] = state
	return state, nil
}
