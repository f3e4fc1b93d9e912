package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Step response with Kp=1, Ki=0.1, Kd=0, setpoint 50 and pv held at 0: the
// output must rise by the integral contribution every second and saturate at
// the upper bound after ten seconds.
func TestStepResponseSaturates(t *testing.T) {
	c := New(Settings{Kp: 1, Ki: 0.1, OutMin: 0, OutMax: 100})
	c.InitializeForBumplessTransfer(0, 0, 50)

	var outputs []float64
	for i := 0; i < 10; i++ {
		outputs = append(outputs, c.Compute(50, 0, 1))
	}

	expected := []float64{55, 60, 65, 70, 75, 80, 85, 90, 95, 100}
	for i := range expected {
		assert.InDelta(t, expected[i], outputs[i], 1e-9)
		if i > 0 {
			assert.Greater(t, outputs[i], outputs[i-1])
		}
	}
	// at t=10s the integral term is 0.1*50*10 and the output saturates
	assert.InDelta(t, 50.0, c.Integral(), 1e-9)
	assert.InDelta(t, 100.0, c.Output(), 1e-9)
}

// The integral accumulator may never leave the output span, however long the
// output stays saturated.
func TestAntiWindup(t *testing.T) {
	c := New(Settings{Kp: 2, Ki: 5, OutMin: -20, OutMax: 20})
	c.InitializeForBumplessTransfer(0, 0, 0)

	for i := 0; i < 1000; i++ {
		c.Compute(1000, 0, 1)
		assert.LessOrEqual(t, c.Integral(), 20.0)
		assert.GreaterOrEqual(t, c.Integral(), -20.0)
	}
	assert.InDelta(t, 20.0, c.Output(), 1e-9)

	// and symmetric on the way down
	for i := 0; i < 1000; i++ {
		c.Compute(-1000, 0, 1)
		assert.GreaterOrEqual(t, c.Integral(), -20.0)
	}
	assert.InDelta(t, -20.0, c.Output(), 1e-9)
}

// Restoring a checkpoint reproduces the same outputs as an uninterrupted run
func TestBumplessRestart(t *testing.T) {
	settings := Settings{Kp: 1.5, Ki: 0.2, Kd: 0.4, OutMin: 0, OutMax: 100, DerivativeFilterAlpha: 0.6}

	uninterrupted := New(settings)
	uninterrupted.InitializeForBumplessTransfer(10, 20, 30)

	restarted := New(settings)
	restarted.InitializeForBumplessTransfer(10, 20, 30)

	pvs := []float64{20, 21, 23, 26, 25, 24}
	for i, pv := range pvs {
		expected := uninterrupted.Compute(30, pv, 1)

		if i == 3 {
			// simulate a restart mid-run
			integral, prevPV, deriv, prevOut := restarted.State()
			restarted = New(settings)
			restarted.Restore(integral, prevPV, deriv, prevOut)
		}
		assert.InDelta(t, expected, restarted.Compute(30, pv, 1), 1e-9)
	}
}

// Bumpless initialization seeds the integral so the first computed output
// equals the observed output when the error is unchanged
func TestBumplessInitialization(t *testing.T) {
	c := New(Settings{Kp: 2, Ki: 0, OutMin: 0, OutMax: 100})
	c.InitializeForBumplessTransfer(40, 25, 30)

	assert.InDelta(t, 40.0, c.Compute(30, 25, 1), 1e-9)
}

func TestSlewRateLimit(t *testing.T) {
	c := New(Settings{Kp: 10, OutMin: 0, OutMax: 100, MaxSlewRate: 2})
	c.InitializeForBumplessTransfer(0, 0, 0)

	// the raw output would jump to 100; the slew limit allows 2 units/s
	assert.InDelta(t, 2.0, c.Compute(50, 0, 1), 1e-9)
	assert.InDelta(t, 4.0, c.Compute(50, 0, 1), 1e-9)
	assert.InDelta(t, 5.0, c.Compute(50, 0, 0.5), 1e-9)
}

func TestDeadZoneHoldsOutput(t *testing.T) {
	c := New(Settings{Kp: 1, Ki: 1, OutMin: 0, OutMax: 100, DeadZone: 2})
	c.InitializeForBumplessTransfer(50, 50, 50)

	// error inside the dead zone: hold
	assert.InDelta(t, 50.0, c.Compute(50, 49, 1), 1e-9)
	assert.InDelta(t, 50.0, c.Compute(50, 51.5, 1), 1e-9)

	// error outside: resume computing
	assert.NotEqual(t, 50.0, c.Compute(50, 40, 1))
}

func TestReverseActingFlipsError(t *testing.T) {
	direct := New(Settings{Kp: 1, OutMin: -100, OutMax: 100})
	direct.InitializeForBumplessTransfer(0, 0, 0)
	reverse := New(Settings{Kp: 1, OutMin: -100, OutMax: 100, Reverse: true})
	reverse.InitializeForBumplessTransfer(0, 0, 0)

	assert.InDelta(t, 10.0, direct.Compute(10, 0, 1), 1e-9)
	assert.InDelta(t, -10.0, reverse.Compute(10, 0, 1), 1e-9)
}

func TestUnprimedControllerHolds(t *testing.T) {
	c := New(Settings{Kp: 1, OutMin: 0, OutMax: 100})
	assert.EqualValues(t, 0.0, c.Compute(50, 0, 1))
}
