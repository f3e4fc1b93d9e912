package models

import "time"

// NullEndBehavior is what an entry with no end time means
type NullEndBehavior string

const (
	// ExtendToEndOfDay keeps the entry active from start until 24:00
	ExtendToEndOfDay NullEndBehavior = "extendToEndOfDay"
	// UseDefault makes a null end fall through to the block default
	UseDefault NullEndBehavior = "useDefault"
)

// ScheduleEntry is one weekly interval. Start and End are minutes from
// midnight; Start > End means the interval crosses midnight into the next
// day. End nil follows NullEnd.
type ScheduleEntry struct {
	Day      time.Weekday
	Start    int
	End      *int
	Priority int
	Value    string
	NullEnd  NullEndBehavior
}

// ScheduleMemory writes a value to its output according to a weekly schedule,
// with an optional holiday calendar override. Evaluation is in UTC.
type ScheduleMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	OutputPointID   string

	Entries []ScheduleEntry

	// Holidays are "2006-01-02" dates; when today matches, HolidayValue
	// (or the default when nil) wins over every entry
	Holidays     []string
	HolidayValue *string

	DefaultValue    string
	DurationSeconds int
}

// ComparisonMode is the group input interpretation
type ComparisonMode string

const (
	ComparisonAnalog  ComparisonMode = "analog"
	ComparisonDigital ComparisonMode = "digital"
)

// ComparisonPredicate is the per-input analog predicate
type ComparisonPredicate string

const (
	PredicateHigher   ComparisonPredicate = "higher"
	PredicateLower    ComparisonPredicate = "lower"
	PredicateEqual    ComparisonPredicate = "equal"
	PredicateNotEqual ComparisonPredicate = "notEqual"
	PredicateBetween  ComparisonPredicate = "between"
)

// ComparisonGroup votes its inputs against a predicate. A group passes when
// satisfied inputs >= RequiredVotes; VotingHysteresis raises the bar to turn
// on from off.
type ComparisonGroup struct {
	Mode   ComparisonMode
	Inputs []string

	Predicate           ComparisonPredicate
	Threshold1          float64
	Threshold2          float64
	ThresholdHysteresis float64

	RequiredVotes    int
	VotingHysteresis int

	// DigitalValue is the "0"/"1" an input must match in digital mode
	DigitalValue string
}

// ComparisonMemory ORs its groups and writes the resulting digital value
type ComparisonMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	Groups          []ComparisonGroup
	OutputPointID   string
	DurationSeconds int
}

// IfBranch is one ordered branch of a conditional memory. HysteresisHint is
// plumbed but not acted on yet.
type IfBranch struct {
	Expression     string
	Output         string
	HysteresisHint float64
}

// OutputType is the conditional memory output interpretation
type OutputType string

const (
	OutputAnalog  OutputType = "analog"
	OutputDigital OutputType = "digital"
)

// IfMemory evaluates branches in declared order; the first truthy expression
// wins, otherwise DefaultValue is emitted. Variables maps expression aliases
// to point ids.
type IfMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64

	Variables map[string]string
	Branches  []IfBranch

	DefaultValue  string
	OutputPointID string
	OutputType    OutputType
}

// WindowKind is the statistical window semantics
type WindowKind string

const (
	WindowSliding  WindowKind = "sliding"
	WindowTumbling WindowKind = "tumbling"
)

// StatOutputs names the points receiving each configured statistic; empty
// ids disable the statistic
type StatOutputs struct {
	MinPointID        string
	MaxPointID        string
	MeanPointID       string
	StdDevPointID     string
	RangePointID      string
	MedianPointID     string
	CVPointID         string
	Percentile        float64
	PercentilePointID string
}

// StatisticalMemory emits windowed statistics over the input's final stream
type StatisticalMemory struct {
	ID              string
	Enabled         bool
	IntervalSeconds int64
	InputPointID    string

	Window     WindowKind
	WindowSize int

	// MinimumSamples gates emission; always at least 2
	MinimumSamples int

	Outputs StatOutputs
}
