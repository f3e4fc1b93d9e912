package memories

import (
	"testing"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func statisticalBlock(id string) models.StatisticalMemory {
	return models.StatisticalMemory{
		ID:              id,
		Enabled:         true,
		IntervalSeconds: 1,
		InputPointID:    "in",
		Window:          models.WindowSliding,
		WindowSize:      10,
		Outputs: models.StatOutputs{
			MinPointID:        "stat.min",
			MaxPointID:        "stat.max",
			MeanPointID:       "stat.mean",
			StdDevPointID:     "stat.stddev",
			RangePointID:      "stat.range",
			MedianPointID:     "stat.median",
			CVPointID:         "stat.cv",
			Percentile:        75,
			PercentilePointID: "stat.p75",
		},
	}
}

func (f *fixture) rawFloat(t *testing.T, pointID string) float64 {
	t.Helper()
	value, ok := f.raw(t, pointID)
	assert.True(t, ok, pointID)
	v, parsed := utils.ParseFloat(value)
	assert.True(t, parsed, pointID)
	return v
}

// Statistics over the set {2, 4, 6, 8}: mean 5, sample standard deviation
// sqrt(20/3), median 5, 75th percentile 6.5.
func TestStatisticalKnownSet(t *testing.T) {
	f := newFixture()
	f.config.SetStatisticalMemories([]models.StatisticalMemory{statisticalBlock("s1")})

	p := NewStatisticalProcessor(f.deps)
	f.refresh(t, p)

	for _, v := range []string{"2", "4", "6", "8"} {
		f.setFinal(t, "in", v)
		f.tick(t, p)
	}

	assert.Equal(t, 2.0, f.rawFloat(t, "stat.min"))
	assert.Equal(t, 8.0, f.rawFloat(t, "stat.max"))
	assert.Equal(t, 5.0, f.rawFloat(t, "stat.mean"))
	assert.Equal(t, 6.0, f.rawFloat(t, "stat.range"))
	assert.Equal(t, 5.0, f.rawFloat(t, "stat.median"))
	assert.InDelta(t, 2.581988897, f.rawFloat(t, "stat.stddev"), 1e-6)
	assert.InDelta(t, 0.516397779, f.rawFloat(t, "stat.cv"), 1e-6)
	assert.InDelta(t, 6.5, f.rawFloat(t, "stat.p75"), 1e-9)
}

func TestStatisticalMinimumSamplesGate(t *testing.T) {
	f := newFixture()
	block := statisticalBlock("s1")
	block.MinimumSamples = 3
	f.config.SetStatisticalMemories([]models.StatisticalMemory{block})

	p := NewStatisticalProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "in", "2")
	f.tick(t, p)
	f.setFinal(t, "in", "4")
	f.tick(t, p)
	_, ok := f.raw(t, "stat.mean")
	assert.False(t, ok)

	f.setFinal(t, "in", "6")
	f.tick(t, p)
	assert.Equal(t, 4.0, f.rawFloat(t, "stat.mean"))
}

// A sliding window keeps the last WindowSize samples; the floor is 10.
func TestStatisticalSlidingWindowPrunes(t *testing.T) {
	f := newFixture()
	f.config.SetStatisticalMemories([]models.StatisticalMemory{statisticalBlock("s1")})

	p := NewStatisticalProcessor(f.deps)
	f.refresh(t, p)

	// 12 samples of which only the last 10 survive: 3..12
	for i := 1; i <= 12; i++ {
		f.setFinal(t, "in", utils.FormatFloat(float64(i)))
		f.tick(t, p)
	}

	assert.Equal(t, 3.0, f.rawFloat(t, "stat.min"))
	assert.Equal(t, 12.0, f.rawFloat(t, "stat.max"))
	assert.Equal(t, 7.5, f.rawFloat(t, "stat.mean"))
}

// A tumbling window clears after emitting a full batch and rebuilds from
// scratch.
func TestStatisticalTumblingWindowClears(t *testing.T) {
	f := newFixture()
	block := statisticalBlock("s1")
	block.Window = models.WindowTumbling
	f.config.SetStatisticalMemories([]models.StatisticalMemory{block})

	p := NewStatisticalProcessor(f.deps)
	f.refresh(t, p)

	for i := 1; i <= 10; i++ {
		f.setFinal(t, "in", utils.FormatFloat(float64(i)))
		f.tick(t, p)
	}
	assert.Equal(t, 5.5, f.rawFloat(t, "stat.mean"))

	// the batch was cleared: a single new sample is below the two-sample
	// floor, so the outputs hold
	f.setFinal(t, "in", "100")
	f.tick(t, p)
	assert.Equal(t, 5.5, f.rawFloat(t, "stat.mean"))

	f.setFinal(t, "in", "200")
	f.tick(t, p)
	assert.Equal(t, 150.0, f.rawFloat(t, "stat.mean"))
}

// The sample window persists across a restart.
func TestStatisticalWindowSurvivesRestart(t *testing.T) {
	f := newFixture()
	f.config.SetStatisticalMemories([]models.StatisticalMemory{statisticalBlock("s1")})

	p := NewStatisticalProcessor(f.deps)
	f.refresh(t, p)
	f.setFinal(t, "in", "2")
	f.tick(t, p)
	f.setFinal(t, "in", "4")
	f.tick(t, p)

	restarted := NewStatisticalProcessor(f.deps)
	f.refresh(t, restarted)
	f.setFinal(t, "in", "9")
	f.tick(t, restarted)
	assert.Equal(t, 5.0, f.rawFloat(t, "stat.mean"))
}
