package memories

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/robfig/cron/v3"
)

// cronParser accepts both 5-field and 6-field (with seconds) expressions
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TotalizerProcessor accumulates a rate input with the trapezoidal rule or
// counts digital edges, with manual, overflow and cron-scheduled resets. The
// accumulator checkpoint survives restarts.
type TotalizerProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.TotalizerMemory

	states    map[string]*models.TotalizerState
	schedules map[string]cron.Schedule
	nextReset map[string]time.Time
}

// NewTotalizerProcessor makes a totalizer processor
func NewTotalizerProcessor(deps Deps) *TotalizerProcessor {
	return &TotalizerProcessor{
		Deps:      deps,
		gate:      newIntervalGate(),
		states:    map[string]*models.TotalizerState{},
		schedules: map[string]cron.Schedule{},
		nextReset: map[string]time.Time{},
	}
}

func (p *TotalizerProcessor) Name() string { return "totalizer" }

func (p *TotalizerProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.TotalizerMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
		if block.ResetCron == "" {
			delete(p.schedules, block.ID)
			delete(p.nextReset, block.ID)
			continue
		}
		schedule, err := cronParser.Parse(block.ResetCron)
		if err != nil {
			p.Log.WithField("blockId", block.ID).WithError(err).Warn("invalid reset cron expression")
			delete(p.schedules, block.ID)
			continue
		}
		p.schedules[block.ID] = schedule
	}

	p.gate.prune(valid)
	for id := range p.states {
		if _, ok := valid[id]; !ok {
			delete(p.states, id)
			delete(p.schedules, id)
			delete(p.nextReset, id)
		}
	}
	return nil
}

func (p *TotalizerProcessor) Cycle(ctx context.Context, now time.Time) error {
	for _, block := range p.blocks {
		if !block.Enabled {
			continue
		}
		due, dt := p.gate.due(block.ID, block.IntervalSeconds, now.Unix())
		if !due {
			continue
		}
		block := block
		engine.SafeBlock(p.Log, p.Metrics, p.Name(), block.ID, func() error {
			return p.step(ctx, block, now, dt)
		})
	}
	return nil
}

func (p *TotalizerProcessor) step(ctx context.Context, block models.TotalizerMemory, now time.Time, dt float64) error {
	state, err := p.state(ctx, block.ID)
	if err != nil {
		return err
	}

	if reset, why := p.resetDue(ctx, block, now); reset {
		p.Log.WithField("blockId", block.ID).Infof("totalizer reset: %s", why)
		return p.reset(ctx, block, state, now.Unix())
	}

	if block.Mode == models.TotalizeRate {
		v, _, ok := p.finalFloat(ctx, block.InputPointID)
		if !ok {
			return fmt.Errorf("input %s missing", block.InputPointID)
		}
		if state.HasLastInput {
			state.Accumulated += (state.LastInput + v) / 2 * dt
		}
		state.LastInput = v
		state.HasLastInput = true
	} else {
		b, _, ok := p.finalDigital(ctx, block.InputPointID)
		if !ok {
			return fmt.Errorf("digital input %s missing", block.InputPointID)
		}
		if state.HasLastEvent && edgeCounts(block.Mode, state.LastEventState, b) {
			state.Accumulated++
		}
		state.LastEventState = b
		state.HasLastEvent = true
	}

	if block.OverflowThreshold > 0 && state.Accumulated >= block.OverflowThreshold {
		p.Log.WithField("blockId", block.ID).Info("totalizer reset: overflow threshold reached")
		return p.reset(ctx, block, state, now.Unix())
	}

	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloatPrec(state.Accumulated, block.DecimalPlaces), nil, 0)
	return p.Store.SaveBlockState(ctx, block.ID, state)
}

func edgeCounts(mode models.TotalizerMode, previous, current bool) bool {
	switch mode {
	case models.TotalizeEventRising:
		return !previous && current
	case models.TotalizeEventFalling:
		return previous && !current
	case models.TotalizeEventBoth:
		return previous != current
	}
	return false
}

func (p *TotalizerProcessor) resetDue(ctx context.Context, block models.TotalizerMemory, now time.Time) (bool, string) {
	if block.ResetRequested {
		if err := p.Config.ClearTotalizerReset(ctx, block.ID); err != nil {
			p.Log.WithField("blockId", block.ID).WithError(err).Warn("failed to consume manual reset flag")
		}
		// keep the local copy from re-firing until the next refresh
		for i := range p.blocks {
			if p.blocks[i].ID == block.ID {
				p.blocks[i].ResetRequested = false
			}
		}
		return true, "manual request"
	}

	schedule, ok := p.schedules[block.ID]
	if !ok {
		return false, ""
	}
	next, armed := p.nextReset[block.ID]
	if !armed {
		// scheduled resets are anchored at the first sighting of the block
		p.nextReset[block.ID] = schedule.Next(now.UTC())
		return false, ""
	}
	if now.Before(next) {
		return false, ""
	}
	p.nextReset[block.ID] = schedule.Next(now.UTC())
	return true, "cron schedule"
}

// reset zeroes the accumulator, forgets input state, stamps the reset time
// and writes "0" to the output
func (p *TotalizerProcessor) reset(ctx context.Context, block models.TotalizerMemory, state *models.TotalizerState, now int64) error {
	state.Accumulated = 0
	state.HasLastInput = false
	state.HasLastEvent = false
	state.LastResetTime = now
	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, "0", nil, 0)
	return p.Store.SaveBlockState(ctx, block.ID, state)
}

func (p *TotalizerProcessor) state(ctx context.Context, blockID string) (*models.TotalizerState, error) {
	if state, ok := p.states[blockID]; ok {
		return state, nil
	}
	state := &models.TotalizerState{}
	if _, err := p.Store.LoadBlockState(ctx, blockID, state); err != nil {
		return nil, err
	}
	p.states[blockID] = state
	return state, nil
}
