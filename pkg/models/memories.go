package models

// TotalizerMode selects between rate integration and edge counting
type TotalizerMode string

const (
	TotalizeRate         TotalizerMode = "rateIntegration"
	TotalizeEventRising  TotalizerMode = "eventCountRising"
	TotalizeEventFalling TotalizerMode = "eventCountFalling"
	TotalizeEventBoth    TotalizerMode = "eventCountBoth"
)

// TotalizerMemory accumulates a rate input by the trapezoidal rule, or counts
// edges of a digital input
type TotalizerMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	InputPointID    string
	OutputPointID   string

	Mode TotalizerMode

	// OverflowThreshold resets the accumulator when reached; 0 disables
	OverflowThreshold float64

	// ResetCron is a standard 5- or 6-field cron expression, evaluated in
	// UTC; empty disables scheduled resets
	ResetCron string

	// ResetRequested is the operator's manual reset flag; the processor
	// consumes and clears it
	ResetRequested bool

	DecimalPlaces int
}

// TotalizerState is the persisted accumulator checkpoint
type TotalizerState struct {
	Accumulated    float64 `json:"accumulated"`
	LastInput      float64 `json:"lastInputValue"`
	HasLastInput   bool    `json:"hasLastInput"`
	LastEventState bool    `json:"lastEventState"`
	HasLastEvent   bool    `json:"hasLastEvent"`
	LastResetTime  int64   `json:"lastResetTime"`
}

// RateMethod selects the rate-of-change estimator
type RateMethod string

const (
	RateSimpleDifference RateMethod = "simpleDifference"
	RateMovingAverage    RateMethod = "movingAverage"
	RateWeightedAverage  RateMethod = "weightedAverage"
	RateLinearRegression RateMethod = "linearRegression"
)

// RateOfChangeMemory estimates the derivative of an input over a time window
type RateOfChangeMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	InputPointID    string
	OutputPointID   string

	Method        RateMethod
	WindowSeconds int64

	// BaselineSampleCount gates emission: no rate until this many samples
	BaselineSampleCount int

	// TimeUnitFactor converts units/second to the configured time unit,
	// e.g. 60 for units/minute
	TimeUnitFactor float64

	// SmoothingFilterAlpha is the EMA coefficient on the emitted rate;
	// higher alpha means more smoothing and slower response
	SmoothingFilterAlpha float64

	// Hysteresis alarm thresholds; nil disables the side
	HighThreshold    *float64
	LowThreshold     *float64
	HysteresisFactor float64
	HighAlarmPointID string
	LowAlarmPointID  string
}

// AverageMethod selects the single-input moving average flavor
type AverageMethod string

const (
	AverageSMA AverageMethod = "sma"
	AverageEMA AverageMethod = "ema"
	AverageWMA AverageMethod = "wma"
)

// OutlierMethod selects sample rejection before aggregation
type OutlierMethod string

const (
	OutlierNone   OutlierMethod = "none"
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// WeightedInput is one input of a multi-input average
type WeightedInput struct {
	PointID string
	Weight  float64
}

// MovingAverageMemory smooths one input over a window, or combines N inputs
// in a single-tick weighted average
type MovingAverageMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	Inputs          []WeightedInput
	OutputPointID   string

	Method      AverageMethod
	SampleCount int
	EMAAlpha    float64

	MinimumSamples int

	Outlier             OutlierMethod
	OutlierFactor       float64
	OutlierZScore       float64
	StaleTimeoutSeconds int64
}

// DeadbandMode selects the analog deadband comparison
type DeadbandMode string

const (
	DeadbandAbsolute   DeadbandMode = "absolute"
	DeadbandPercentage DeadbandMode = "percentage"
	DeadbandRate       DeadbandMode = "rateOfChange"
)

// DeadbandMemory suppresses insignificant input changes. The block kind is
// inferred from the input point: analog inputs use Mode, digital inputs use
// time-based stability.
type DeadbandMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	InputPointID    string
	OutputPointID   string

	Mode     DeadbandMode
	Deadband float64

	// Range for percentage mode
	RangeMin float64
	RangeMax float64

	// StabilityTimeSeconds is how long a new digital state must persist
	// before the output follows it
	StabilityTimeSeconds int64
}

// DeadbandState is the persisted deadband checkpoint
type DeadbandState struct {
	LastInput    float64 `json:"lastInput"`
	LastOutput   float64 `json:"lastOutput"`
	HasOutput    bool    `json:"hasOutput"`
	LastTime     int64   `json:"lastTimestamp"`
	PendingState bool    `json:"pendingDigitalState"`
	HasPending   bool    `json:"hasPending"`
	PendingSince int64   `json:"pendingSince"`
}

// SelectorMode is the min/max selector direction
type SelectorMode string

const (
	SelectMin SelectorMode = "min"
	SelectMax SelectorMode = "max"
)

// SelectorFailover is the behavior when no input is valid
type SelectorFailover string

const (
	FailoverIgnoreBad          SelectorFailover = "ignoreBad"
	FailoverFallbackToOpposite SelectorFailover = "fallbackToOpposite"
	FailoverHoldLastGood       SelectorFailover = "holdLastGood"
)

// MinMaxMemory selects the min or max of at least two inputs
type MinMaxMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	Inputs          []string
	OutputPointID   string

	// IndexPointID optionally receives the 1-based index of the selected
	// input; empty disables it
	IndexPointID string

	Mode     SelectorMode
	Failover SelectorFailover
}

// MinMaxState is the persisted last-good selection
type MinMaxState struct {
	LastValue float64 `json:"lastSelectedValue"`
	LastIndex int     `json:"lastSelectedIndex"`
	HasLast   bool    `json:"hasLast"`
}

// WriteActionMemory writes a static or dynamic value to a point whenever its
// optional input guard matches, up to MaxExecutionCount times
type WriteActionMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64

	// InputPointID guards execution; empty means always fire.
	// InputMatchValue is compared against the guard's final value.
	InputPointID    string
	InputMatchValue string

	OutputPointID string

	// Exactly one of StaticValue / DynamicSourceID is set
	StaticValue     string
	DynamicSourceID string

	DurationSeconds int

	// MaxExecutionCount 0 means unlimited
	MaxExecutionCount     int
	CurrentExecutionCount int
}
