package memories

import (
	"testing"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/stretchr/testify/assert"
)

func deadbandBlock(id string, mode models.DeadbandMode) models.DeadbandMemory {
	return models.DeadbandMemory{
		ID:              id,
		Enabled:         true,
		IntervalSeconds: 1,
		InputPointID:    "in",
		OutputPointID:   "out",
		Mode:            mode,
		Deadband:        2,
	}
}

// Absolute deadband: the first sample always commits, later samples only when
// they stray more than the band from the last committed output.
func TestDeadbandAbsolute(t *testing.T) {
	f := newFixture(models.Point{ID: "in", Kind: models.PointAnalogIn})
	f.config.SetDeadbandMemories([]models.DeadbandMemory{deadbandBlock("d1", models.DeadbandAbsolute)})

	p := NewDeadbandProcessor(f.deps)
	f.refresh(t, p)

	scenarios := []struct {
		input    string
		expected string
	}{
		{"10", "10"},
		{"11", "10"},
		{"13", "13"},
		{"12.5", "13"},
		{"14.9", "13"},
		{"15.1", "15.1"},
	}
	for _, s := range scenarios {
		f.setFinal(t, "in", s.input)
		f.tick(t, p)
		value, ok := f.raw(t, "out")
		assert.True(t, ok)
		assert.Equal(t, s.expected, value, "input %s", s.input)
	}
}

// Percentage deadband scales the band by the configured range span.
func TestDeadbandPercentage(t *testing.T) {
	f := newFixture(models.Point{ID: "in", Kind: models.PointAnalogIn})
	block := deadbandBlock("d1", models.DeadbandPercentage)
	block.Deadband = 5
	block.RangeMin = 0
	block.RangeMax = 200
	f.config.SetDeadbandMemories([]models.DeadbandMemory{block})

	p := NewDeadbandProcessor(f.deps)
	f.refresh(t, p)

	// 5% of a 200 unit span: changes must exceed 10
	f.setFinal(t, "in", "100")
	f.tick(t, p)
	f.setFinal(t, "in", "109")
	f.tick(t, p)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "100", value)

	f.setFinal(t, "in", "111")
	f.tick(t, p)
	value, _ = f.raw(t, "out")
	assert.Equal(t, "111", value)
}

// Rate deadband compares against the previous input, not the last output.
func TestDeadbandRate(t *testing.T) {
	f := newFixture(models.Point{ID: "in", Kind: models.PointAnalogIn})
	block := deadbandBlock("d1", models.DeadbandRate)
	block.Deadband = 3
	f.config.SetDeadbandMemories([]models.DeadbandMemory{block})

	p := NewDeadbandProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "in", "10")
	f.tick(t, p)

	// moving 2 units in one second stays under the 3/s band
	f.setFinal(t, "in", "12")
	f.tick(t, p)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "10", value)

	// 4 units in one second commits
	f.setFinal(t, "in", "16")
	f.tick(t, p)
	value, _ = f.raw(t, "out")
	assert.Equal(t, "16", value)
}

// A digital change passes through only after holding for the stability time.
func TestDeadbandDigitalStability(t *testing.T) {
	f := newFixture(models.Point{ID: "in", Kind: models.PointDigitalIn})
	block := deadbandBlock("d1", models.DeadbandAbsolute)
	block.StabilityTimeSeconds = 3
	f.config.SetDeadbandMemories([]models.DeadbandMemory{block})

	p := NewDeadbandProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "in", "0")
	f.tick(t, p)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "0", value)

	// flips to 1 and must hold: pending for 3 seconds before committing
	f.setFinal(t, "in", "1")
	f.tick(t, p)
	f.tick(t, p)
	f.tick(t, p)
	value, _ = f.raw(t, "out")
	assert.Equal(t, "0", value)

	f.tick(t, p)
	value, _ = f.raw(t, "out")
	assert.Equal(t, "1", value)
}

// Returning to the committed state cancels a pending change.
func TestDeadbandDigitalBounceCancelsPending(t *testing.T) {
	f := newFixture(models.Point{ID: "in", Kind: models.PointDigitalIn})
	block := deadbandBlock("d1", models.DeadbandAbsolute)
	block.StabilityTimeSeconds = 2
	f.config.SetDeadbandMemories([]models.DeadbandMemory{block})

	p := NewDeadbandProcessor(f.deps)
	f.refresh(t, p)

	f.setFinal(t, "in", "0")
	f.tick(t, p)

	// a one-tick blip never reaches the output
	f.setFinal(t, "in", "1")
	f.tick(t, p)
	f.setFinal(t, "in", "0")
	f.tick(t, p)

	f.setFinal(t, "in", "1")
	f.tick(t, p)
	f.tick(t, p)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "0", value)

	f.tick(t, p)
	value, _ = f.raw(t, "out")
	assert.Equal(t, "1", value)
}

func TestDeadbandStateSurvivesRestart(t *testing.T) {
	f := newFixture(models.Point{ID: "in", Kind: models.PointAnalogIn})
	f.config.SetDeadbandMemories([]models.DeadbandMemory{deadbandBlock("d1", models.DeadbandAbsolute)})

	p := NewDeadbandProcessor(f.deps)
	f.refresh(t, p)
	f.setFinal(t, "in", "10")
	f.tick(t, p)

	restarted := NewDeadbandProcessor(f.deps)
	f.refresh(t, restarted)

	// within the band of the restored output: no commit
	f.setFinal(t, "in", "11")
	f.tick(t, restarted)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "10", value)
}
