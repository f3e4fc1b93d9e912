package utils

import (
	"io"
	"math"
	"strconv"
	"time"
)

// Clock is the time source handed to every processor so that tests can drive
// cycles with a fixed clock instead of the wall clock.
type Clock interface {
	Now() time.Time
}

// RealClock is the clock used in production. All engine timestamps are UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// ParseFloat parses a stored point value. NaN and infinities count as
// unparsable because no block can do arithmetic with them.
func ParseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseDigital parses a digital point value. Anything that isn't "0"/"1"
// (or a number equal to 0 or 1) is rejected.
func ParseDigital(s string) (bool, bool) {
	switch s {
	case "0":
		return false, true
	case "1":
		return true, true
	}
	v, ok := ParseFloat(s)
	if !ok {
		return false, false
	}
	if v == 0 {
		return false, true
	}
	if v == 1 {
		return true, true
	}
	return false, false
}

// FormatFloat renders a value the way it is stored in the point cache
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatFloatPrec renders a value rounded to the given number of decimal places
func FormatFloatPrec(v float64, decimals int) string {
	return strconv.FormatFloat(RoundTo(v, decimals), 'f', -1, 64)
}

// FormatDigital renders a boolean as the "0"/"1" wire form
func FormatDigital(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// RoundTo rounds to the given number of decimal places
func RoundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

// Clamp bounds v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// IsFinite reports whether v is a usable sample
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CloseMany closes an array of closers, returning the first error
func CloseMany(closers []io.Closer) error {
	var err error
	for _, closer := range closers {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
