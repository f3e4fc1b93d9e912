package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A sampled sine process variable has exactly known peaks and troughs, which
// pins down the detector and the Ziegler-Nichols arithmetic.
func TestRelayAnalyzeOnSine(t *testing.T) {
	r := NewRelay(RelaySettings{
		SetPoint:  0,
		Amplitude: 10,
		OutMin:    -50,
		OutMax:    50,
		MinCycles: 3,
		MaxCycles: 20,
	})

	for i := 0; i <= 100; i++ {
		pv := math.Sin(2 * math.Pi * float64(i) / 20)
		r.Step(pv, float64(i))
	}

	assert.GreaterOrEqual(t, r.Cycles(), 3)

	result, err := r.Analyze()
	assert.NoError(t, err)

	assert.InDelta(t, 20.0, result.UltimatePeriod, 1e-9)
	ku := 4 * 10 / (math.Pi * 2)
	assert.InDelta(t, ku, result.UltimateGain, 1e-9)
	assert.InDelta(t, 0.6*ku, result.Kp, 1e-9)
	assert.InDelta(t, 2*0.6*ku/20, result.Ki, 1e-9)
	assert.InDelta(t, 0.6*ku*20/8, result.Kd, 1e-9)
}

// Closed loop against an integrating plant: the relay with hysteresis
// produces a triangle wave whose period and amplitude follow from the slopes.
func TestRelayClosedLoopOnIntegratorPlant(t *testing.T) {
	r := NewRelay(RelaySettings{
		SetPoint:   50,
		Amplitude:  10,
		Hysteresis: 1,
		OutMin:     0,
		OutMax:     100,
		MinCycles:  3,
		MaxCycles:  30,
	})

	pv := 45.0
	for i := 0; i <= 41; i++ {
		out := r.Step(pv, float64(i))
		// plant: dv/dt = 0.1 * (u - 50), sampled at 1 s
		pv += 0.1 * (out - 50)
	}

	assert.GreaterOrEqual(t, r.Cycles(), 3)

	result, err := r.Analyze()
	assert.NoError(t, err)

	// triangle wave: 8 s period, 4 units peak-to-trough
	assert.InDelta(t, 8.0, result.UltimatePeriod, 1e-9)
	assert.InDelta(t, 4*10/(math.Pi*4), result.UltimateGain, 1e-9)
	assert.Greater(t, result.Kp, 0.0)
	assert.Greater(t, result.Ki, 0.0)
	assert.Greater(t, result.Kd, 0.0)
}

func TestRelayNotEnoughCycles(t *testing.T) {
	r := NewRelay(RelaySettings{SetPoint: 0, Amplitude: 5, OutMin: -10, OutMax: 10, MinCycles: 4})

	for i := 0; i <= 25; i++ {
		r.Step(math.Sin(2*math.Pi*float64(i)/20), float64(i))
	}

	_, err := r.Analyze()
	assert.ErrorIs(t, err, ErrNotEnoughCycles)
}

func TestRelayAmplitudeSafetyBound(t *testing.T) {
	r := NewRelay(RelaySettings{
		SetPoint:     0,
		Amplitude:    10,
		OutMin:       -50,
		OutMax:       50,
		MinCycles:    2,
		MaxAmplitude: 1.5,
	})

	for i := 0; i <= 100; i++ {
		r.Step(math.Sin(2*math.Pi*float64(i)/20), float64(i))
	}

	// peak-to-trough is 2.0 which breaches the 1.5 bound
	_, err := r.Analyze()
	assert.ErrorIs(t, err, ErrAmplitudeExceeded)
	assert.InDelta(t, 2.0, r.MaxObservedAmplitude(), 1e-9)
}
