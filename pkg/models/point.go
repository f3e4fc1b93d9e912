package models

// PointKind classifies the atomic observable
type PointKind string

const (
	PointAnalogIn   PointKind = "analogIn"
	PointAnalogOut  PointKind = "analogOut"
	PointDigitalIn  PointKind = "digitalIn"
	PointDigitalOut PointKind = "digitalOut"
)

// Digital reports whether the point carries "0"/"1" values
func (k PointKind) Digital() bool {
	return k == PointDigitalIn || k == PointDigitalOut
}

// InterfaceKind names the field interface a point is mapped to
type InterfaceKind string

const (
	InterfaceNone   InterfaceKind = "none"
	InterfaceSharp7 InterfaceKind = "sharp7"
	InterfaceBACnet InterfaceKind = "bacnet"
	InterfaceModbus InterfaceKind = "modbus"
)

// SmoothingMethod selects the per-point sliding window aggregate
type SmoothingMethod string

const (
	SmoothingLast SmoothingMethod = "last"
	SmoothingMean SmoothingMethod = "mean"
)

// Point is the atomic observable: a measurement or command channel.
// Digital kinds may not use mean smoothing; the monitoring pipeline enforces
// that invariant by falling back to last.
type Point struct {
	ID        string
	Kind      PointKind
	Interface InterfaceKind

	// Normalization range; both nil when the point is unbounded
	RangeMin *float64
	RangeMax *float64

	// Linear calibration a*x + b; both nil when uncalibrated
	CalibrationA *float64
	CalibrationB *float64

	// Smoothing window
	NumberOfSamples int
	Smoothing       SmoothingMethod

	// SaveInterval is the minimum interval between final-value updates,
	// SaveHistoricalInterval between historian appends, both in seconds
	SaveInterval           int64
	SaveHistoricalInterval int64

	// Writable marks a configured writable mapping on the field interface
	Writable bool
}

// StoredValue is a raw or final point sample as held in the hot cache
type StoredValue struct {
	PointID string `json:"pointId"`
	Value   string `json:"value"`
	Time    int64  `json:"unixSeconds"`
}

// WriteItem is a pending driver write. At most one pending item exists per
// point; a new write replaces the pending value.
type WriteItem struct {
	PointID         string
	Value           string
	Time            int64
	DurationSeconds int
}

// Sample is a timestamped numeric observation inside a block's window
type Sample struct {
	Value float64 `json:"value"`
	Time  int64   `json:"time"`
}
