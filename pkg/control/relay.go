package control

import (
	"errors"
	"math"
)

// RelaySettings configures a relay-feedback tuning run
type RelaySettings struct {
	SetPoint float64

	// Amplitude is the relay swing in output units, already scaled from
	// the configured percentage of the output span
	Amplitude float64

	// Hysteresis is the symmetric band around the setpoint that flips the
	// relay
	Hysteresis float64

	OutMin float64
	OutMax float64

	// MinCycles confirmed oscillations are required before analysis;
	// MaxCycles bounds the run
	MinCycles int
	MaxCycles int

	// MaxAmplitude aborts the run when any observed oscillation exceeds it;
	// 0 disables the check
	MaxAmplitude float64
}

// Extremum is one detected peak or trough of the process variable
type Extremum struct {
	Value float64
	Time  float64
}

// RelayResult carries the ultimate parameters and the Ziegler-Nichols classic
// PID gains derived from them
type RelayResult struct {
	UltimateGain   float64
	UltimatePeriod float64
	Kp             float64
	Ki             float64
	Kd             float64
}

// ErrNotEnoughCycles means the oscillation has not yet confirmed MinCycles
var ErrNotEnoughCycles = errors.New("not enough confirmed oscillation cycles")

// ErrAmplitudeExceeded means an oscillation breached the safety bound
var ErrAmplitudeExceeded = errors.New("oscillation amplitude exceeded safety bound")

// Relay drives a bang-bang output around the setpoint and records peaks and
// troughs of the process variable with a 3-point direction-change detector.
type Relay struct {
	settings RelaySettings

	high bool

	// 3-point window for extremum detection: p2, p1, current
	p2, p1     float64
	t1         float64
	sampleSeen int

	peaks   []Extremum
	troughs []Extremum

	maxObservedAmplitude float64
}

// NewRelay makes a relay tuner; the first Step output starts high
func NewRelay(settings RelaySettings) *Relay {
	return &Relay{settings: settings, high: true}
}

// Step consumes one process-variable sample at time t (seconds) and returns
// the relay output to impose
func (r *Relay) Step(pv, t float64) float64 {
	// flip with hysteresis: drive up while pv is below the band, down while
	// above it
	if r.high && pv > r.settings.SetPoint+r.settings.Hysteresis {
		r.high = false
	} else if !r.high && pv < r.settings.SetPoint-r.settings.Hysteresis {
		r.high = true
	}

	r.detect(pv, t)

	center := (r.settings.OutMax + r.settings.OutMin) / 2
	output := center - r.settings.Amplitude
	if r.high {
		output = center + r.settings.Amplitude
	}
	if output < r.settings.OutMin {
		output = r.settings.OutMin
	}
	if output > r.settings.OutMax {
		output = r.settings.OutMax
	}
	return output
}

// detect records p1 as a peak when p2 < p1 >= current, as a trough when
// p2 > p1 <= current
func (r *Relay) detect(pv, t float64) {
	defer func() {
		r.p2, r.p1, r.t1 = r.p1, pv, t
		r.sampleSeen++
	}()

	if r.sampleSeen < 2 {
		return
	}

	if r.p2 < r.p1 && r.p1 >= pv {
		r.peaks = append(r.peaks, Extremum{Value: r.p1, Time: r.t1})
	} else if r.p2 > r.p1 && r.p1 <= pv {
		r.troughs = append(r.troughs, Extremum{Value: r.p1, Time: r.t1})
	}
	r.trackAmplitude()
}

func (r *Relay) trackAmplitude() {
	if len(r.peaks) == 0 || len(r.troughs) == 0 {
		return
	}
	amplitude := r.peaks[len(r.peaks)-1].Value - r.troughs[len(r.troughs)-1].Value
	if amplitude > r.maxObservedAmplitude {
		r.maxObservedAmplitude = amplitude
	}
}

// Cycles returns the number of confirmed oscillation cycles
func (r *Relay) Cycles() int {
	if len(r.peaks) < len(r.troughs) {
		return len(r.peaks)
	}
	return len(r.troughs)
}

// MaxObservedAmplitude returns the largest peak-to-trough swing seen so far
func (r *Relay) MaxObservedAmplitude() float64 {
	return r.maxObservedAmplitude
}

// Analyze computes the ultimate period and gain from the last MinCycles
// confirmed cycles and derives Ziegler-Nichols classic PID gains.
func (r *Relay) Analyze() (RelayResult, error) {
	if r.settings.MaxAmplitude > 0 && r.maxObservedAmplitude > r.settings.MaxAmplitude {
		return RelayResult{}, ErrAmplitudeExceeded
	}

	n := r.settings.MinCycles
	if n < 2 {
		n = 2
	}
	if r.Cycles() < n || len(r.peaks) < n {
		return RelayResult{}, ErrNotEnoughCycles
	}

	peaks := r.peaks[len(r.peaks)-n:]
	troughs := r.troughs[len(r.troughs)-n:]

	// ultimate period: mean spacing of consecutive peaks
	var periodSum float64
	for i := 1; i < len(peaks); i++ {
		periodSum += peaks[i].Time - peaks[i-1].Time
	}
	pu := periodSum / float64(len(peaks)-1)

	// ultimate amplitude: mean peak minus mean trough
	var peakSum, troughSum float64
	for i := range peaks {
		peakSum += peaks[i].Value
		troughSum += troughs[i].Value
	}
	a := (peakSum - troughSum) / float64(n)

	if pu <= 0 || a <= 0 {
		return RelayResult{}, ErrNotEnoughCycles
	}

	ku := 4 * r.settings.Amplitude / (math.Pi * a)
	kp := 0.6 * ku

	return RelayResult{
		UltimateGain:   ku,
		UltimatePeriod: pu,
		Kp:             kp,
		Ki:             2 * kp / pu,
		Kd:             kp * pu / 8,
	}, nil
}
