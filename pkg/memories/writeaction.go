package memories

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
)

// WriteActionProcessor writes a static or dynamic value to a point whenever
// its optional input guard matches, up to the configured execution budget
type WriteActionProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.WriteActionMemory
}

// NewWriteActionProcessor makes a write-action processor
func NewWriteActionProcessor(deps Deps) *WriteActionProcessor {
	return &WriteActionProcessor{Deps: deps, gate: newIntervalGate()}
}

func (p *WriteActionProcessor) Name() string { return "writeaction" }

func (p *WriteActionProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.WriteActionMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
	}
	p.gate.prune(valid)
	return nil
}

func (p *WriteActionProcessor) Cycle(ctx context.Context, now time.Time) error {
	for i := range p.blocks {
		block := &p.blocks[i]
		if !block.Enabled {
			continue
		}
		due, _ := p.gate.due(block.ID, block.IntervalSeconds, now.Unix())
		if !due {
			continue
		}
		engine.SafeBlock(p.Log, p.Metrics, p.Name(), block.ID, func() error {
			return p.step(ctx, block)
		})
	}
	return nil
}

func (p *WriteActionProcessor) step(ctx context.Context, block *models.WriteActionMemory) error {
	if block.MaxExecutionCount > 0 && block.CurrentExecutionCount >= block.MaxExecutionCount {
		return nil
	}

	if block.InputPointID != "" {
		value, _, ok := p.finalString(ctx, block.InputPointID)
		if !ok {
			return fmt.Errorf("guard input %s missing", block.InputPointID)
		}
		if value != block.InputMatchValue {
			return nil
		}
	}

	value := block.StaticValue
	if value == "" {
		if block.DynamicSourceID == "" {
			return fmt.Errorf("neither static value nor dynamic source configured")
		}
		dynamic, _, ok := p.finalString(ctx, block.DynamicSourceID)
		if !ok {
			return fmt.Errorf("dynamic source %s missing", block.DynamicSourceID)
		}
		value = dynamic
	}

	if !p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, value, nil, block.DurationSeconds) {
		return nil
	}

	block.CurrentExecutionCount++
	return p.Config.UpdateWriteActionCount(ctx, block.ID, block.CurrentExecutionCount)
}
