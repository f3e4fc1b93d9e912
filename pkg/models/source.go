package models

// SourceKind distinguishes the two constructors of a SourceRef
type SourceKind string

const (
	SourcePoint    SourceKind = "point"
	SourceVariable SourceKind = "variable"
)

// SourceRef is the uniform "a reference is a point id or a global-variable
// name" used by PID setpoints, manual values and similar dynamic inputs.
// The zero value means "not configured".
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

// PointRef references the final value of a point
func PointRef(pointID string) SourceRef {
	return SourceRef{Kind: SourcePoint, ID: pointID}
}

// VariableRef references a global variable by name
func VariableRef(name string) SourceRef {
	return SourceRef{Kind: SourceVariable, ID: name}
}

// IsZero reports whether the reference is unconfigured
func (r SourceRef) IsZero() bool {
	return r.ID == ""
}

// GlobalVariableKind is the type of a global variable
type GlobalVariableKind string

const (
	VariableBool  GlobalVariableKind = "bool"
	VariableFloat GlobalVariableKind = "float"
)

// GlobalVariable is a small named value resolved uniformly wherever a block
// references a source. LastUpdate is in unix milliseconds, unlike every other
// engine timestamp.
type GlobalVariable struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Kind       GlobalVariableKind `json:"kind"`
	Value      string             `json:"value"`
	LastUpdate int64              `json:"lastUpdateUnixMs"`
}
