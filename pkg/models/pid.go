package models

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// PIDDigitalOutput is the optional Schmitt-trigger companion of a PID block:
// OFF->ON when the analog output crosses HighThreshold, ON->OFF when it drops
// to LowThreshold. Written only on transition.
type PIDDigitalOutput struct {
	PointID       string
	HighThreshold float64
	LowThreshold  float64
	Reverse       bool
}

// PIDMemory is the configuration of one PID block
type PIDMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64

	// InputPointID is the process variable, read from the final namespace
	InputPointID  string
	OutputPointID string

	// Dynamic references: each is a point id or a global-variable name.
	// IsAuto defaults to auto when unconfigured; ReverseOutput to false.
	SetPoint      SourceRef
	IsAuto        SourceRef
	ManualValue   SourceRef
	ReverseOutput SourceRef

	Kp float64
	Ki float64
	Kd float64

	OutMin float64
	OutMax float64

	FeedForward           float64
	DerivativeFilterAlpha float64
	MaxOutputSlewRate     float64
	DeadZone              float64

	// CascadeLevel 0..2; level k+1 reads level k outputs from the same
	// cycle. ParentID names the upstream PID for cascade safety checks.
	CascadeLevel int
	ParentID     string

	DigitalOutput   *PIDDigitalOutput
	DurationSeconds int
}

// ConfigHash fingerprints the tuning-relevant configuration. A changed hash
// forces a bumpless controller rebuild; a matching hash lets a restart resume
// from the persisted checkpoint.
func (m PIDMemory) ConfigHash() string {
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return fmt.Sprintf("%016x", h.Sum64())
}

// PIDPersistedState is the controller checkpoint stored in the KV under
// PIDState:{id}. Restored only when ConfigHash matches the current config.
type PIDPersistedState struct {
	ID                 string  `json:"id"`
	LastTick           int64   `json:"lastTickUnix"`
	Integral           float64 `json:"integral"`
	PreviousPV         float64 `json:"previousProcessVariable"`
	FilteredDerivative float64 `json:"filteredDerivative"`
	PreviousOutput     float64 `json:"previousOutput"`
	DigitalLatched     bool    `json:"digitalOutputLatched"`
	ConfigHash         string  `json:"configHash"`
}

// TuningStatus is the auto-tuning session lifecycle position
type TuningStatus string

const (
	TuningInitializing TuningStatus = "initializing"
	TuningRelayTest    TuningStatus = "relayTest"
	TuningAnalyzing    TuningStatus = "analyzing"
	TuningCompleted    TuningStatus = "completed"
	TuningAborted      TuningStatus = "aborted"
	TuningFailed       TuningStatus = "failed"
)

// Active reports whether the session still owns the PID output
func (s TuningStatus) Active() bool {
	switch s {
	case TuningInitializing, TuningRelayTest, TuningAnalyzing:
		return true
	}
	return false
}

// TuningSession is a relay-feedback auto-tuning run against one PID block.
// Calculated gains are exposed on completion, never auto-applied.
type TuningSession struct {
	ID     string
	PIDID  string
	Status TuningStatus

	StartTime int64

	// RelayAmplitudePercent scales the relay swing as a percentage of the
	// PID output span; Hysteresis is the symmetric band around the setpoint
	RelayAmplitudePercent float64
	Hysteresis            float64

	MinCycles      int
	MaxCycles      int
	TimeoutSeconds int64
	MaxAmplitude   float64

	OriginalKp float64
	OriginalKi float64
	OriginalKd float64

	CalculatedKp   float64
	CalculatedKi   float64
	CalculatedKd   float64
	UltimateGain   float64
	UltimatePeriod float64

	Diagnostic string
}
