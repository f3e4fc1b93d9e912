package memories

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
)

// regressionMinimumSamples is the floor for the least-squares method
const regressionMinimumSamples = 5

// RateOfChangeProcessor estimates the time derivative of an input over a
// sliding window and raises hysteresis alarms on the smoothed rate. Sample
// windows are persisted so a restart keeps its baseline.
type RateOfChangeProcessor struct {
	Deps

	gate   *intervalGate
	blocks []models.RateOfChangeMemory

	samples  map[string][]models.Sample
	smoothed map[string]float64
	high     map[string]bool
	low      map[string]bool
}

// NewRateOfChangeProcessor makes a rate-of-change processor
func NewRateOfChangeProcessor(deps Deps) *RateOfChangeProcessor {
	return &RateOfChangeProcessor{
		Deps:     deps,
		gate:     newIntervalGate(),
		samples:  map[string][]models.Sample{},
		smoothed: map[string]float64{},
		high:     map[string]bool{},
		low:      map[string]bool{},
	}
}

func (p *RateOfChangeProcessor) Name() string { return "rateofchange" }

func (p *RateOfChangeProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.RateOfChangeMemories(ctx)
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
			delete(p.smoothed, id)
			delete(p.high, id)
			delete(p.low, id)
		}
	}
	return nil
}

func (p *RateOfChangeProcessor) Cycle(ctx context.Context, now time.Time) error {
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

func (p *RateOfChangeProcessor) step(ctx context.Context, block models.RateOfChangeMemory, now int64) error {
	v, at, ok := p.finalFloat(ctx, block.InputPointID)
	if !ok {
		return fmt.Errorf("input %s missing", block.InputPointID)
	}

	window, err := p.window(ctx, block.ID)
	if err != nil {
		return err
	}
	if n := len(window); n > 0 && window[n-1].Time >= at {
		// the input has not produced a fresh sample yet
		return nil
	}
	window = append(window, models.Sample{Value: v, Time: at})
	window = pruneByAge(window, block.WindowSeconds, now)
	p.samples[block.ID] = window
	if err := p.Store.SaveSamples(ctx, block.ID, window); err != nil {
		return err
	}

	baseline := block.BaselineSampleCount
	if baseline < 2 {
		baseline = 2
	}
	if len(window) < baseline {
		return nil
	}

	rate, ok := estimateRate(block.Method, window)
	if !ok {
		return nil
	}

	factor := block.TimeUnitFactor
	if factor == 0 {
		factor = 1
	}
	rate *= factor

	alpha := utils.Clamp(block.SmoothingFilterAlpha, 0, 1)
	if alpha > 0 {
		rate = alpha*p.smoothed[block.ID] + (1-alpha)*rate
	}
	p.smoothed[block.ID] = rate

	p.Dispatcher.WriteOrAdd(ctx, block.OutputPointID, utils.FormatFloat(rate), nil, 0)
	p.driveAlarms(ctx, block, rate)
	return nil
}

// estimateRate returns the rate in units per second
func estimateRate(method models.RateMethod, window []models.Sample) (float64, bool) {
	switch method {
	case models.RateMovingAverage:
		return meanPairwiseRate(window, false)
	case models.RateWeightedAverage:
		return meanPairwiseRate(window, true)
	case models.RateLinearRegression:
		if len(window) < regressionMinimumSamples {
			return 0, false
		}
		return regressionSlope(window)
	default:
		last := window[len(window)-1]
		prev := window[len(window)-2]
		dt := float64(last.Time - prev.Time)
		if dt <= 0 {
			return 0, false
		}
		return (last.Value - prev.Value) / dt, true
	}
}

// meanPairwiseRate averages consecutive-pair derivatives; weighted doubles
// each pair's weight toward the most recent
func meanPairwiseRate(window []models.Sample, weighted bool) (float64, bool) {
	var sum, weightSum float64
	weight := 1.0
	for i := 1; i < len(window); i++ {
		dt := float64(window[i].Time - window[i-1].Time)
		if dt <= 0 {
			continue
		}
		sum += weight * (window[i].Value - window[i-1].Value) / dt
		weightSum += weight
		if weighted {
			weight *= 2
		}
	}
	if weightSum == 0 {
		return 0, false
	}
	return sum / weightSum, true
}

// regressionSlope is the least-squares slope of value over time
func regressionSlope(window []models.Sample) (float64, bool) {
	n := float64(len(window))
	t0 := window[0].Time
	var sumT, sumV, sumTT, sumTV float64
	for _, sample := range window {
		t := float64(sample.Time - t0)
		sumT += t
		sumV += sample.Value
		sumTT += t * t
		sumTV += t * sample.Value
	}
	denominator := n*sumTT - sumT*sumT
	if denominator == 0 {
		return 0, false
	}
	return (n*sumTV - sumT*sumV) / denominator, true
}

// driveAlarms maintains the high/low hysteresis alarms: high clears at
// threshold*factor, low at threshold/factor
func (p *RateOfChangeProcessor) driveAlarms(ctx context.Context, block models.RateOfChangeMemory, rate float64) {
	factor := block.HysteresisFactor
	if factor <= 0 || factor >= 1 {
		factor = 1
	}

	if block.HighThreshold != nil && block.HighAlarmPointID != "" {
		active := p.high[block.ID]
		switch {
		case !active && rate >= *block.HighThreshold:
			active = true
		case active && rate < *block.HighThreshold*factor:
			active = false
		}
		if active != p.high[block.ID] {
			p.high[block.ID] = active
			p.Dispatcher.WriteOrAdd(ctx, block.HighAlarmPointID, utils.FormatDigital(active), nil, 0)
		}
	}

	if block.LowThreshold != nil && block.LowAlarmPointID != "" {
		active := p.low[block.ID]
		switch {
		case !active && rate <= *block.LowThreshold:
			active = true
		case active && rate > *block.LowThreshold/factor:
			active = false
		}
		if active != p.low[block.ID] {
			p.low[block.ID] = active
			p.Dispatcher.WriteOrAdd(ctx, block.LowAlarmPointID, utils.FormatDigital(active), nil, 0)
		}
	}
}

func (p *RateOfChangeProcessor) window(ctx context.Context, blockID string) ([]models.Sample, error) {
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

// pruneByAge drops samples older than the window, always keeping the newest
// two so simple difference stays possible
func pruneByAge(window []models.Sample, windowSeconds, now int64) []models.Sample {
	if windowSeconds <= 0 {
		return window
	}
	cut := 0
	for cut < len(window)-2 && now-window[cut].Time > windowSeconds {
		cut++
	}
	return window[cut:]
}
