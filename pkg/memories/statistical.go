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

// Window size hard bounds of the statistical block
const (
	minWindowSize = 10
	maxWindowSize = 10000
)

// StatisticalProcessor emits windowed statistics over an input's final
// stream. Sliding windows prune the oldest sample; tumbling windows clear on
// reaching the batch size. Windows persist across restarts.
type StatisticalProcessor struct {
	Deps

	gate    *intervalGate
	blocks  []models.StatisticalMemory
	samples map[string][]models.Sample
}

// NewStatisticalProcessor makes a statistical processor
func NewStatisticalProcessor(deps Deps) *StatisticalProcessor {
	return &StatisticalProcessor{
		Deps:    deps,
		gate:    newIntervalGate(),
		samples: map[string][]models.Sample{},
	}
}

func (p *StatisticalProcessor) Name() string { return "statistical" }

func (p *StatisticalProcessor) Refresh(ctx context.Context) error {
	blocks, err := p.Config.StatisticalMemories(ctx)
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
		}
	}
	return nil
}

func (p *StatisticalProcessor) Cycle(ctx context.Context, now time.Time) error {
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

func (p *StatisticalProcessor) step(ctx context.Context, block models.StatisticalMemory) error {
	v, at, ok := p.finalFloat(ctx, block.InputPointID)
	if !ok {
		return fmt.Errorf("input %s missing", block.InputPointID)
	}

	window, err := p.window(ctx, block.ID)
	if err != nil {
		return err
	}
	if n := len(window); n > 0 && window[n-1].Time >= at {
		return nil
	}
	window = append(window, models.Sample{Value: v, Time: at})

	size := utils.Clamp(float64(block.WindowSize), minWindowSize, maxWindowSize)
	if block.Window == models.WindowSliding && len(window) > int(size) {
		window = window[len(window)-int(size):]
	}

	minimum := block.MinimumSamples
	if minimum < 2 {
		minimum = 2
	}
	if len(window) >= minimum {
		p.emit(ctx, block, sampleValues(window))
	}

	// tumbling windows start over once the batch is full
	if block.Window == models.WindowTumbling && len(window) >= int(size) {
		window = nil
	}

	p.samples[block.ID] = window
	return p.Store.SaveSamples(ctx, block.ID, window)
}

func (p *StatisticalProcessor) emit(ctx context.Context, block models.StatisticalMemory, values []float64) {
	outputs := block.Outputs

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	minimum := sorted[0]
	maximum := sorted[len(sorted)-1]
	mean := lo.SumBy(values, func(v float64) float64 { return v }) / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(values)-1))

	p.write(ctx, outputs.MinPointID, minimum)
	p.write(ctx, outputs.MaxPointID, maximum)
	p.write(ctx, outputs.MeanPointID, mean)
	p.write(ctx, outputs.StdDevPointID, stdDev)
	p.write(ctx, outputs.RangePointID, maximum-minimum)
	p.write(ctx, outputs.MedianPointID, percentileOf(sorted, 50))
	if outputs.CVPointID != "" && mean != 0 {
		p.write(ctx, outputs.CVPointID, stdDev/mean)
	}
	if outputs.PercentilePointID != "" {
		p.write(ctx, outputs.PercentilePointID, percentileOf(sorted, utils.Clamp(outputs.Percentile, 0, 100)))
	}
}

func (p *StatisticalProcessor) write(ctx context.Context, pointID string, v float64) {
	if pointID == "" {
		return
	}
	p.Dispatcher.WriteOrAdd(ctx, pointID, utils.FormatFloat(v), nil, 0)
}

func (p *StatisticalProcessor) window(ctx context.Context, blockID string) ([]models.Sample, error) {
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
