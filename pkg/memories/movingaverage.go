package memories

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/samber/lo"
)

// outputDecimals is the fixed output precision of the moving average block
const outputDecimals = 4

// emaState is the persisted exponential-average accumulator
type emaState struct {
	Value float64 `json:"value"`
}

// MovingAverageProcessor smooths a single input over a sample window, or
// folds several inputs into a single-tick weighted average. Optional outlier
// rejection runs before aggregation.
type MovingAverageProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.MovingAverageMemory

	samples map[string][]models.Sample
	ema     map[string]*emaState
}

// NewMovingAverageProcessor makes a moving average processor
func NewMovingAverageProcessor(deps Deps) *MovingAverageProcessor {
	return &MovingAverageProcessor{
		Deps:    deps,
		gate:    newIntervalGate(),
		samples: map[string][]models.Sample{},
		ema:     map[string]*emaState{},
	}
}

func (p *MovingAverageProcessor) Name() string { return "movingaverage" }

func (p *MovingAverageProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.MovingAverageMemories(ctx)
	if err != nil {
		return err
	}
	p.blocks = blocks

	valid := map[string]struct{}{}
	for _, block := range blocks {
		valid[block.ID] = struct{}{}
	}
	p.gate.prune(valid)
	for id := range p.samples {
		if _, ok := valid[id]; !ok {
			delete(p.samples, id)
			delete(p.ema, id)
		}
	}
	return nil
}

func (p *MovingAverageProcessor) Cycle(ctx context.Context, now time.Time) error {
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

func (p *MovingAverageProcessor) step(ctx context.Context, block models.MovingAverageMemory, now int64) error {
	if len(block.Inputs) == 0 {
		return fmt.Errorf("no inputs configured")
	}
	if len(block.Inputs) > 1 {
		return p.multiInput(ctx, block, now)
	}
	return p.singleInput(ctx, block)
}

func (p *MovingAverageProcessor) singleInput(ctx context.Context, block models.MovingAverageMemory) error {
	pointID := block.Inputs[0].PointID
	v, at, ok := p.finalFloat(ctx, pointID)
	if !ok {
		return fmt.Errorf("input %s missing", pointID)
	}

	if block.Method == models.AverageEMA {
		return p.exponential(ctx, block, v)
	}

	window, err := p.window(ctx, block.ID)
	if err != nil {
		return err
	}
	if n := len(window); n > 0 && window[n-1].Time >= at {
		return nil
	}
	window = append(window, models.Sample{Value: v, Time: at})
	if limit := block.SampleCount; limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	p.samples[block.ID] = window
	if err := p.Store.SaveSamples(ctx, block.ID, window); err != nil {
		return err
	}

	values := rejectOutliers(sampleValues(window), block)
	if len(values) < minimumSamples(block) {
		return nil
	}

	var result float64
	if block.Method == models.AverageWMA {
		result = weightedByRecency(values)
	} else {
		result = lo.SumBy(values, func(v float64) float64 { return v }) / float64(len(values))
	}

	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloatPrec(result, outputDecimals), nil, 0)
	return nil
}

// exponential starts the accumulator at zero and folds each fresh sample with
// the configured coefficient
func (p *MovingAverageProcessor) exponential(ctx context.Context, block models.MovingAverageMemory, v float64) error {
	state, ok := p.ema[block.ID]
	if !ok {
		state = &emaState{}
		if _, err := p.Store.LoadBlockState(ctx, block.ID, state); err != nil {
			return err
		}
		p.ema[block.ID] = state
	}

	alpha := utils.Clamp(block.EMAAlpha, 0, 1)
	state.Value = alpha*v + (1-alpha)*state.Value
	if err := p.Store.SaveBlockState(ctx, block.ID, state); err != nil {
		return err
	}

	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloatPrec(state.Value, outputDecimals), nil, 0)
	return nil
}

// multiInput folds the current finals of every input in one tick, skipping
// stale inputs and rejecting outliers across the set
func (p *MovingAverageProcessor) multiInput(ctx context.Context, block models.MovingAverageMemory, now int64) error {
	type weighted struct {
		value  float64
		weight float64
	}
	var inputs []weighted
	var values []float64

	for _, input := range block.Inputs {
		v, at, ok := p.finalFloat(ctx, input.PointID)
		if !ok {
			continue
		}
		if block.StaleTimeoutSeconds > 0 && now-at > block.StaleTimeoutSeconds {
			p.Log.WithField("blockId", block.ID).WithField("pointId", input.PointID).Debug("skipping stale input")
			continue
		}
		weight := input.Weight
		if weight <= 0 {
			weight = 1
		}
		inputs = append(inputs, weighted{value: v, weight: weight})
		values = append(values, v)
	}

	kept := map[float64]int{}
	for _, v := range rejectOutliers(values, block) {
		kept[v]++
	}

	var sum, weightSum float64
	count := 0
	for _, input := range inputs {
		if kept[input.value] == 0 {
			continue
		}
		kept[input.value]--
		sum += input.value * input.weight
		weightSum += input.weight
		count++
	}
	if count < minimumSamples(block) || weightSum == 0 {
		return nil
	}

	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloatPrec(sum/weightSum, outputDecimals), nil, 0)
	return nil
}

func (p *MovingAverageProcessor) window(ctx context.Context, blockID string) ([]models.Sample, error) {
	if window, ok := p.samples[blockID]; ok {
		return window, nil
	}
	window, err := p.Store.LoadSamples(ctx, blockID)
	if err != nil {
		return nil, err
	}
	p.samples[blockID] = window
	return window, nil
}

func minimumSamples(block models.MovingAverageMemory) int {
	if block.MinimumSamples < 1 {
		return 1
	}
	return block.MinimumSamples
}

func sampleValues(window []models.Sample) []float64 {
	return lo.Map(window, func(sample models.Sample, _ int) float64 { return sample.Value })
}

// weightedByRecency weights each value by its 1-based position, newest
// heaviest
func weightedByRecency(values []float64) float64 {
	var sum, weightSum float64
	for i, v := range values {
		weight := float64(i + 1)
		sum += v * weight
		weightSum += weight
	}
	return sum / weightSum
}

func rejectOutliers(values []float64, block models.MovingAverageMemory) []float64 {
	switch block.Outlier {
	case models.OutlierIQR:
		return rejectByIQR(values, block.OutlierFactor)
	case models.OutlierZScore:
		return rejectByZScore(values, block.OutlierZScore)
	}
	return values
}

// rejectByIQR drops values outside [Q1-k*IQR, Q3+k*IQR]
func rejectByIQR(values []float64, k float64) []float64 {
	if len(values) < 4 {
		return values
	}
	if k <= 0 {
		k = 1.5
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := percentileOf(sorted, 25)
	q3 := percentileOf(sorted, 75)
	iqr := q3 - q1
	low, high := q1-k*iqr, q3+k*iqr
	return lo.Filter(values, func(v float64, _ int) bool { return v >= low && v <= high })
}

// rejectByZScore drops values more than z standard deviations from the mean
func rejectByZScore(values []float64, z float64) []float64 {
	if len(values) < 3 || z <= 0 {
		return values
	}
	mean := lo.SumBy(values, func(v float64) float64 { return v }) / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(values)))
	if stdDev == 0 {
		return values
	}
	return lo.Filter(values, func(v float64, _ int) bool { return math.Abs(v-mean)/stdDev <= z })
}

// percentileOf interpolates linearly over a sorted slice
func percentileOf(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
