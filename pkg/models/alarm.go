package models

// AlarmKind selects how the raw trigger of an alarm is computed
type AlarmKind string

const (
	AlarmComparative AlarmKind = "comparative"
	AlarmTimeout     AlarmKind = "timeout"
)

// AlarmComparison is the comparative alarm operator
type AlarmComparison string

const (
	CompareGreaterOrEqual AlarmComparison = "gte"
	CompareLessOrEqual    AlarmComparison = "lte"
	CompareEqual          AlarmComparison = "eq"
	CompareNotEqual       AlarmComparison = "neq"
	CompareBetween        AlarmComparison = "between"
)

// Alarm is the configuration of one monitor alarm
type Alarm struct {
	ID      string
	Enabled bool
	PointID string

	Kind       AlarmKind
	Comparison AlarmComparison
	Value1     float64
	Value2     float64

	// TimeoutSeconds applies to timeout alarms: trigger when the final
	// value is older than this
	TimeoutSeconds int64

	// DelaySeconds is how long the raw trigger must hold before the alarm
	// leaves Suspicious and fires
	DelaySeconds int64

	Externals []ExternalAlarm
}

// ExternalAlarm fans an alarm out to a digital point through the any-true
// aggregator. Disabled entries are treated as "no alarm".
type ExternalAlarm struct {
	ID            string
	Enabled       bool
	TargetPointID string
	Value         bool
}

// AlarmStatus is the alarm state machine position
type AlarmStatus int

const (
	NoAlarm AlarmStatus = iota
	Suspicious
	HasAlarm
)

func (s AlarmStatus) String() string {
	switch s {
	case Suspicious:
		return "suspicious"
	case HasAlarm:
		return "hasAlarm"
	default:
		return "noAlarm"
	}
}

// MonitorAlarmState is the per-alarm runtime state
type MonitorAlarmState struct {
	Status         AlarmStatus
	LastTransition int64
}

// ActiveAlarm is an alarm currently in HasAlarm state; persisted
type ActiveAlarm struct {
	AlarmID string
	Since   int64
}

// AlarmHistoryEntry is one row of the append-only trigger/clear trail.
// Snapshot carries the serialized alarm config at the moment of the event.
type AlarmHistoryEntry struct {
	AlarmID  string
	Active   bool
	Time     int64
	Snapshot string
}
