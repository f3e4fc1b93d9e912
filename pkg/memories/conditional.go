package memories

import (
	"context"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/eval"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
)

// ConditionalProcessor evaluates IF blocks: branches in declared order, the
// first truthy expression wins, otherwise the default value is emitted.
// Expressions are compiled once per refresh.
type ConditionalProcessor struct {
	Deps

	gate     *intervalGate
	blocks   []models.IfMemory
	compiled map[string]*eval.Expression
}

// NewConditionalProcessor makes a conditional processor
func NewConditionalProcessor(deps Deps) *ConditionalProcessor {
	return &ConditionalProcessor{
		Deps:     deps,
		gate:     newIntervalGate(),
		compiled: map[string]*eval.Expression{},
	}
}

func (p *ConditionalProcessor) Name() string { return "conditional" }

func (p *ConditionalProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.IfMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	compiled := map[string]*eval.Expression{}
	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
		for _, branch := range block.Branches {
			if _, ok := compiled[branch.Expression]; ok {
				continue
			}
			expr, err := eval.Compile(branch.Expression)
			if err != nil {
				p.Log.WithField("blockId", block.ID).WithError(err).Warn("branch expression does not compile")
				continue
			}
			compiled[branch.Expression] = expr
		}
	}
	p.compiled = compiled
	p.gate.prune(valid)
	return nil
}

func (p *ConditionalProcessor) Cycle(ctx context.Context, now time.Time) error {
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

func (p *ConditionalProcessor) step(ctx context.Context, block models.IfMemory) error {
	variables := make(map[string]float64, len(block.Variables))
	for alias, pointID := range block.Variables {
		v, _, ok := p.finalFloat(ctx, pointID)
		if !ok {
			p.Log.WithField("blockId", block.ID).WithField("pointId", pointID).Warn("missing expression input, defaulting to 0")
			v = 0
		}
		variables[alias] = v
	}

	output := block.DefaultValue
	for _, branch := range block.Branches {
		expr, ok := p.compiled[branch.Expression]
		if !ok {
			continue
		}
		result, err := expr.Evaluate(variables)
		if err != nil {
			p.Log.WithField("blockId", block.ID).WithError(err).Warn("branch evaluation failed")
			continue
		}
		if eval.Truthy(result) {
			output = branch.Output
			break
		}
	}

	if block.OutputType == models.OutputDigital {
		v, ok := utils.ParseFloat(output)
		if !ok {
			p.Log.WithField("blockId", block.ID).Warnf("non-numeric digital output %q", output)
			return nil
		}
		output = utils.FormatDigital(eval.Truthy(v))
	}

	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, output, nil, 0)
	return nil
}
