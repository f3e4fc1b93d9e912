package memories

import (
	"testing"
	"time"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/stretchr/testify/assert"
)

func averageBlock(id string, method models.AverageMethod) models.MovingAverageMemory {
	return models.MovingAverageMemory{
		ID:              id,
		Enabled:         true,
		IntervalSeconds: 1,
		Inputs:          []models.WeightedInput{{PointID: "in"}},
		OutputPointID:   "avg",
		Method:          method,
		SampleCount:     3,
	}
}

// The exponential average starts at zero and folds every tick: with alpha 0.5
// and a constant input of 10 it walks 5, 7.5, 8.75.
func TestMovingAverageEMA(t *testing.T) {
	f := newFixture()
	block := averageBlock("m1", models.AverageEMA)
	block.EMAAlpha = 0.5
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)
	f.setFinal(t, "in", "10")

	for _, want := range []string{"5", "7.5", "8.75"} {
		f.tick(t, p)
		value, _ := f.raw(t, "avg")
		assert.Equal(t, want, value)
	}
}

func TestMovingAverageEMASurvivesRestart(t *testing.T) {
	f := newFixture()
	block := averageBlock("m1", models.AverageEMA)
	block.EMAAlpha = 0.5
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)
	f.setFinal(t, "in", "10")
	f.tick(t, p)
	f.tick(t, p)

	restarted := NewMovingAverageProcessor(f.deps)
	f.refresh(t, restarted)
	f.tick(t, restarted)
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "8.75", value)
}

// The simple average covers the last SampleCount fresh samples.
func TestMovingAverageSMA(t *testing.T) {
	f := newFixture()
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{averageBlock("m1", models.AverageSMA)})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		f.setFinal(t, "in", v)
		f.tick(t, p)
	}
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "4", value)
}

// A stale input contributes no new sample, so the output holds.
func TestMovingAverageSkipsStaleSamples(t *testing.T) {
	f := newFixture()
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{averageBlock("m1", models.AverageSMA)})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "in", "4")
	f.tick(t, p)
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "4", value)

	f.tick(t, p)
	f.tick(t, p)
	value, _ = f.raw(t, "avg")
	assert.Equal(t, "4", value)
}

// The weighted average weights by recency: 10, 20, 30 gives
// (10 + 40 + 90) / 6.
func TestMovingAverageWMA(t *testing.T) {
	f := newFixture()
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{averageBlock("m1", models.AverageWMA)})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	for _, v := range []string{"10", "20", "30"} {
		f.setFinal(t, "in", v)
		f.tick(t, p)
	}
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "23.3333", value)
}

func TestMovingAverageMinimumSamplesGate(t *testing.T) {
	f := newFixture()
	block := averageBlock("m1", models.AverageSMA)
	block.MinimumSamples = 3
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "in", "10")
	f.tick(t, p)
	f.setFinal(t, "in", "20")
	f.tick(t, p)
	_, ok := f.raw(t, "avg")
	assert.False(t, ok)

	f.setFinal(t, "in", "30")
	f.tick(t, p)
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "20", value)
}

// IQR rejection with a degenerate quartile range drops the single runaway
// sample.
func TestMovingAverageIQRRejection(t *testing.T) {
	f := newFixture()
	block := averageBlock("m1", models.AverageSMA)
	block.SampleCount = 5
	block.Outlier = models.OutlierIQR
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	for _, v := range []string{"10", "10", "10", "10", "100"} {
		f.setFinal(t, "in", v)
		f.tick(t, p)
	}
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "10", value)
}

func TestMovingAverageZScoreRejection(t *testing.T) {
	f := newFixture()
	block := averageBlock("m1", models.AverageSMA)
	block.Outlier = models.OutlierZScore
	block.OutlierZScore = 1
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	for _, v := range []string{"10", "10", "100"} {
		f.setFinal(t, "in", v)
		f.tick(t, p)
	}
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "10", value)
}

// Multi-input blocks fold current finals in one tick, weighting each input.
func TestMovingAverageMultiInputWeighted(t *testing.T) {
	f := newFixture()
	block := models.MovingAverageMemory{
		ID:              "m1",
		Enabled:         true,
		IntervalSeconds: 1,
		OutputPointID:   "avg",
		Inputs: []models.WeightedInput{
			{PointID: "a", Weight: 1},
			{PointID: "b", Weight: 3},
		},
	}
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)
	f.setFinal(t, "a", "10")
	f.setFinal(t, "b", "20")

	f.tick(t, p)
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "17.5", value)
}

func TestMovingAverageMultiInputSkipsStale(t *testing.T) {
	f := newFixture()
	block := models.MovingAverageMemory{
		ID:                  "m1",
		Enabled:             true,
		IntervalSeconds:     1,
		OutputPointID:       "avg",
		StaleTimeoutSeconds: 5,
		Inputs: []models.WeightedInput{
			{PointID: "a", Weight: 1},
			{PointID: "b", Weight: 1},
		},
	}
	f.config.SetMovingAverageMemories([]models.MovingAverageMemory{block})

	p := NewMovingAverageProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "a", "10")
	f.clock.advance(10 * time.Second)
	f.setFinal(t, "b", "20")

	f.tick(t, p)
	value, _ := f.raw(t, "avg")
	assert.Equal(t, "20", value)
}

func TestWeightedByRecency(t *testing.T) {
	assert.InDelta(t, 50.0/3, weightedByRecency([]float64{10, 20}), 1e-9)
}

func TestPercentileOf(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.InDelta(t, 25.0, percentileOf(sorted, 50), 1e-9)
	assert.InDelta(t, 10.0, percentileOf(sorted, 0), 1e-9)
	assert.InDelta(t, 40.0, percentileOf(sorted, 100), 1e-9)
	assert.InDelta(t, 17.5, percentileOf(sorted, 25), 1e-9)
}
