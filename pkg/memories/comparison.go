package memories

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
)

// ComparisonProcessor votes inputs against per-group predicates and ORs the
// groups into a single digital output, published through the any-true
// aggregator so several blocks can share a target.
type ComparisonProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.ComparisonMemory

	// hysteresis state, keyed by block, then group index, then input
	inputOn map[string]map[int]map[string]bool
	groupOn map[string]map[int]bool
}

// NewComparisonProcessor makes a comparison processor
func NewComparisonProcessor(deps Deps) *ComparisonProcessor {
	return &ComparisonProcessor{
		Deps:    deps,
		gate:    newIntervalGate(),
		inputOn: map[string]map[int]map[string]bool{},
		groupOn: map[string]map[int]bool{},
	}
}

func (p *ComparisonProcessor) Name() string { return "comparison" }

func (p *ComparisonProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.ComparisonMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
	}
	p.gate.prune(valid)
	for id := range p.inputOn {
		if _, ok := valid[id]; !ok {
			delete(p.inputOn, id)
			delete(p.groupOn, id)
		}
	}
	return nil
}

func (p *ComparisonProcessor) Cycle(ctx context.Context, now time.Time) error {
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

func (p *ComparisonProcessor) step(ctx context.Context, block models.ComparisonMemory) error {
	result := false
	for i, group := range block.Groups {
		pass, err := p.evaluateGroup(ctx, block.ID, i, group)
		if err != nil {
			return err
		}
		if pass {
			result = true
		}
	}

	p.AnyTrue.Set(ctx, block.OutputPointID, "comparison:"+block.ID, result)
	return nil
}

func (p *ComparisonProcessor) evaluateGroup(ctx context.Context, blockID string, index int, group models.ComparisonGroup) (bool, error) {
	satisfied := 0
	for _, pointID := range group.Inputs {
		on, err := p.evaluateInput(ctx, blockID, index, group, pointID)
		if err != nil {
			return false, err
		}
		if on {
			satisfied++
		}
	}

	required := group.RequiredVotes
	if required < 1 {
		required = 1
	}
	wasOn := p.groupOn[blockID][index]

	// off to on needs the hysteresis margin on top of the required votes
	threshold := required
	if !wasOn {
		threshold += group.VotingHysteresis
	}
	on := satisfied >= threshold

	if p.groupOn[blockID] == nil {
		p.groupOn[blockID] = map[int]bool{}
	}
	p.groupOn[blockID][index] = on
	return on, nil
}

func (p *ComparisonProcessor) evaluateInput(ctx context.Context, blockID string, index int, group models.ComparisonGroup, pointID string) (bool, error) {
	if group.Mode == models.ComparisonDigital {
		value, _, ok := p.finalString(ctx, pointID)
		if !ok {
			return false, fmt.Errorf("input %s missing", pointID)
		}
		return value == group.DigitalValue, nil
	}

	v, _, ok := p.finalFloat(ctx, pointID)
	if !ok {
		return false, fmt.Errorf("input %s missing", pointID)
	}

	wasOn := p.inputOn[blockID][index][pointID]
	on := predicateHolds(group, v, wasOn)

	if p.inputOn[blockID] == nil {
		p.inputOn[blockID] = map[int]map[string]bool{}
	}
	if p.inputOn[blockID][index] == nil {
		p.inputOn[blockID][index] = map[string]bool{}
	}
	p.inputOn[blockID][index][pointID] = on
	return on, nil
}

// predicateHolds applies the analog predicate with threshold hysteresis: once
// on, the input stays on until the value crosses back by the hysteresis
// margin
func predicateHolds(group models.ComparisonGroup, v float64, wasOn bool) bool {
	t1, t2, hyst := group.Threshold1, group.Threshold2, group.ThresholdHysteresis

	switch group.Predicate {
	case models.PredicateHigher:
		if wasOn {
			return v >= t1-hyst
		}
		return v > t1
	case models.PredicateLower:
		if wasOn {
			return v <= t1+hyst
		}
		return v < t1
	case models.PredicateEqual:
		return v == t1
	case models.PredicateNotEqual:
		return v != t1
	case models.PredicateBetween:
		if wasOn {
			return v >= t1-hyst && v <= t2+hyst
		}
		return v >= t1 && v <= t2
	}
	return false
}
