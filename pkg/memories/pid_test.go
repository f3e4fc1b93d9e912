package memories

import (
	"context"
	"testing"

	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func basicPID(id string) models.PIDMemory {
	return models.PIDMemory{
		ID:              id,
		Enabled:         true,
		IntervalSeconds: 1,
		InputPointID:    "pv",
		OutputPointID:   "out",
		SetPoint:        models.PointRef("sp"),
		Kp:              1,
		Ki:              0.1,
		OutMin:          0,
		OutMax:          100,
	}
}

// Step response with the process variable pinned at zero: the proportional
// term contributes 50, the integral ramps by 5 per second, saturating the
// output at 100 after ten ticks.
func TestPIDStepResponse(t *testing.T) {
	f := newFixture()
	f.config.SetPIDMemories([]models.PIDMemory{basicPID("pid1")})

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)

	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "0")

	expected := []string{"55", "60", "65", "70", "75", "80", "85", "90", "95", "100"}
	for i, want := range expected {
		f.tick(t, p)
		value, ok := f.raw(t, "out")
		assert.True(t, ok)
		assert.Equal(t, want, value, "tick %d", i)
	}
}

// A restart with an unchanged configuration resumes from the checkpoint with
// no step in the output.
func TestPIDBumplessRestart(t *testing.T) {
	f := newFixture()
	f.config.SetPIDMemories([]models.PIDMemory{basicPID("pid1")})

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)
	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "0")

	for i := 0; i < 5; i++ {
		f.tick(t, p)
	}
	value, _ := f.raw(t, "out")
	assert.Equal(t, "75", value)

	// new processor over the same stores, same config hash
	restarted := NewPIDProcessor(f.deps, 0)
	f.refresh(t, restarted)
	f.tick(t, restarted)

	value, _ = f.raw(t, "out")
	assert.Equal(t, "80", value)
}

// A changed configuration rebuilds the controller seeded from the observed
// output instead of resuming the stale checkpoint.
func TestPIDConfigChangeReinitializes(t *testing.T) {
	f := newFixture()
	pid := basicPID("pid1")
	f.config.SetPIDMemories([]models.PIDMemory{pid})

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)
	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "0")
	f.tick(t, p)
	f.tick(t, p)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "60", value)

	pid.Ki = 0.2
	f.config.SetPIDMemories([]models.PIDMemory{pid})
	f.refresh(t, p)
	f.tick(t, p)

	// bumpless rebuild: integral reseeded so output continues from 60,
	// then advances with the new Ki (60 - 50 = 10, + 0.2*50 = 10 -> 70)
	value, _ = f.raw(t, "out")
	assert.Equal(t, "70", value)
}

func TestPIDManualModeTracksBumplessly(t *testing.T) {
	f := newFixture()
	pid := basicPID("pid1")
	pid.IsAuto = models.VariableRef("auto")
	pid.ManualValue = models.PointRef("manual")
	f.config.SetPIDMemories([]models.PIDMemory{pid})

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)
	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "40")
	f.setFinal(t, "manual", "30")
	assert.NoError(t, f.deps.Variables.SetBool(context.Background(), "v1", "auto", false))

	f.tick(t, p)
	value, _ := f.raw(t, "out")
	assert.Equal(t, "30", value)

	// back to auto: the first computed output continues from the imposed 30
	assert.NoError(t, f.deps.Variables.SetBool(context.Background(), "v1", "auto", true))
	f.tick(t, p)
	value, _ = f.raw(t, "out")
	v, ok := utils.ParseFloat(value)
	assert.True(t, ok)
	assert.InDelta(t, 31.0, v, 1e-9)
}

// Cascade: the level-1 block's setpoint reads the level-0 output written in
// the same cycle.
func TestPIDCascadeOrdering(t *testing.T) {
	f := newFixture()
	parent := basicPID("parent")
	parent.OutputPointID = "mid"
	parent.CascadeLevel = 0

	child := basicPID("child")
	child.InputPointID = "pv2"
	child.OutputPointID = "out2"
	child.SetPoint = models.PointRef("mid")
	child.CascadeLevel = 1
	child.ParentID = "parent"
	child.Ki = 0

	f.config.SetPIDMemories([]models.PIDMemory{parent, child})

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)
	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "0")
	f.setFinal(t, "pv2", "10")

	f.tick(t, p)

	// parent computed 55 into mid; child bumpless-initialized against
	// setpoint 55 in the same cycle
	value, _ := f.raw(t, "mid")
	assert.Equal(t, "55", value)

	childOut, _ := f.raw(t, "out2")
	_, ok := utils.ParseFloat(childOut)
	assert.True(t, ok)
}

func TestPIDDigitalCompanionTransitionsOnly(t *testing.T) {
	f := newFixture()
	pid := basicPID("pid1")
	pid.Kp = 0
	pid.Ki = 0
	pid.DigitalOutput = &models.PIDDigitalOutput{PointID: "relay", HighThreshold: 60, LowThreshold: 40}
	pid.IsAuto = models.VariableRef("auto")
	pid.ManualValue = models.PointRef("manual")
	f.config.SetPIDMemories([]models.PIDMemory{pid})
	assert.NoError(t, f.deps.Variables.SetBool(context.Background(), "v1", "auto", false))

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)
	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "0")

	// below the high threshold: no transition, nothing written
	f.setFinal(t, "manual", "50")
	f.tick(t, p)
	_, ok := f.raw(t, "relay")
	assert.False(t, ok)

	// crossing high latches on
	f.setFinal(t, "manual", "65")
	f.tick(t, p)
	value, _ := f.raw(t, "relay")
	assert.Equal(t, "1", value)

	// inside the band: latched, no transition
	f.setFinal(t, "manual", "50")
	f.tick(t, p)
	value, _ = f.raw(t, "relay")
	assert.Equal(t, "1", value)

	// crossing low latches off
	f.setFinal(t, "manual", "35")
	f.tick(t, p)
	value, _ = f.raw(t, "relay")
	assert.Equal(t, "0", value)
}

func TestPIDSkipsWhileTuning(t *testing.T) {
	f := newFixture()
	f.config.SetPIDMemories([]models.PIDMemory{basicPID("pid1")})
	f.config.SetTuningSessions([]models.TuningSession{{ID: "s1", PIDID: "pid1", Status: models.TuningRelayTest}})

	p := NewPIDProcessor(f.deps, 0)
	f.refresh(t, p)
	f.setFinal(t, "sp", "50")
	f.setFinal(t, "pv", "0")
	f.tick(t, p)

	_, ok := f.raw(t, "out")
	assert.False(t, ok)
}
