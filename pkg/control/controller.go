package control

import (
	"math"

	"github.com/fieldline/fieldline/pkg/utils"
)

// Settings is the tuning-relevant configuration of a Controller
type Settings struct {
	Kp float64
	Ki float64
	Kd float64

	OutMin float64
	OutMax float64

	FeedForward float64

	// DerivativeFilterAlpha is the first-order low-pass coefficient on the
	// derivative term; 0 disables filtering, values near 1 smooth heavily
	DerivativeFilterAlpha float64

	// MaxSlewRate bounds |d(output)/dt| in units per second; 0 disables
	MaxSlewRate float64

	// DeadZone holds the previous output while |error| is inside it
	DeadZone float64

	// Reverse flips the error sign for reverse-acting processes
	Reverse bool
}

// Controller is a positional PID with clamped integral (anti-windup),
// derivative on the process variable, derivative filtering, slew limiting and
// a dead zone. It carries no clock: the caller supplies dt from a monotonic
// source.
type Controller struct {
	settings Settings

	integral           float64
	previousPV         float64
	filteredDerivative float64
	previousOutput     float64
	primed             bool
}

// New makes a controller; call InitializeForBumplessTransfer or Restore
// before the first Compute
func New(settings Settings) *Controller {
	return &Controller{settings: settings}
}

// InitializeForBumplessTransfer seeds the integral so that the first computed
// output equals the currently-observed output. Used on first start, on
// configuration change, and when leaving manual or tuning modes.
func (c *Controller) InitializeForBumplessTransfer(currentOutput, pv, setPoint float64) {
	err := c.trackingError(setPoint, pv)
	c.integral = utils.Clamp(currentOutput-c.settings.Kp*err-c.settings.FeedForward, c.settings.OutMin, c.settings.OutMax)
	c.previousPV = pv
	c.filteredDerivative = 0
	c.previousOutput = utils.Clamp(currentOutput, c.settings.OutMin, c.settings.OutMax)
	c.primed = true
}

// Compute advances the controller by dt seconds and returns the new output.
// dt <= 0 and an unprimed controller both hold the previous output.
func (c *Controller) Compute(setPoint, pv float64, dt float64) float64 {
	if !c.primed || dt <= 0 {
		return c.previousOutput
	}

	err := c.trackingError(setPoint, pv)

	if c.settings.DeadZone > 0 && math.Abs(err) <= c.settings.DeadZone {
		c.previousPV = pv
		return c.previousOutput
	}

	// integral with clamping to the output span keeps windup bounded
	c.integral = utils.Clamp(c.integral+c.settings.Ki*err*dt, c.settings.OutMin, c.settings.OutMax)

	// derivative on PV, not error, so setpoint steps don't kick the output
	rawDerivative := (pv - c.previousPV) / dt
	alpha := utils.Clamp(c.settings.DerivativeFilterAlpha, 0, 1)
	c.filteredDerivative = alpha*c.filteredDerivative + (1-alpha)*rawDerivative

	output := c.settings.Kp*err + c.integral - c.settings.Kd*c.filteredDerivative + c.settings.FeedForward
	output = utils.Clamp(output, c.settings.OutMin, c.settings.OutMax)

	if c.settings.MaxSlewRate > 0 {
		maxDelta := c.settings.MaxSlewRate * dt
		output = utils.Clamp(output, c.previousOutput-maxDelta, c.previousOutput+maxDelta)
	}

	c.previousPV = pv
	c.previousOutput = output
	return output
}

// TrackManual keeps the integral bookkeeping aligned with an externally
// imposed output so that a later return to auto is bumpless
func (c *Controller) TrackManual(imposedOutput, pv, setPoint float64) {
	c.InitializeForBumplessTransfer(imposedOutput, pv, setPoint)
}

// State exports the controller internals for checkpointing
func (c *Controller) State() (integral, previousPV, filteredDerivative, previousOutput float64) {
	return c.integral, c.previousPV, c.filteredDerivative, c.previousOutput
}

// Restore reinstates a checkpoint taken with State
func (c *Controller) Restore(integral, previousPV, filteredDerivative, previousOutput float64) {
	c.integral = integral
	c.previousPV = previousPV
	c.filteredDerivative = filteredDerivative
	c.previousOutput = previousOutput
	c.primed = true
}

// Integral returns the current integral accumulator
func (c *Controller) Integral() float64 { return c.integral }

// Output returns the last computed output
func (c *Controller) Output() float64 { return c.previousOutput }

func (c *Controller) trackingError(setPoint, pv float64) float64 {
	err := setPoint - pv
	if c.settings.Reverse {
		err = -err
	}
	return err
}
