package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseFloat is a function.
func TestParseFloat(t *testing.T) {
	type scenario struct {
		input    string
		expected float64
		ok       bool
	}

	scenarios := []scenario{
		{"12.5", 12.5, true},
		{"-3", -3, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"+Inf", 0, false},
	}

	for _, s := range scenarios {
		v, ok := ParseFloat(s.input)
		assert.EqualValues(t, s.ok, ok)
		assert.EqualValues(t, s.expected, v)
	}
}

// TestParseDigital is a function.
func TestParseDigital(t *testing.T) {
	type scenario struct {
		input string
		value bool
		ok    bool
	}

	scenarios := []scenario{
		{"0", false, true},
		{"1", true, true},
		{"1.0", true, true},
		{"0.5", false, false},
		{"on", false, false},
	}

	for _, s := range scenarios {
		v, ok := ParseDigital(s.input)
		assert.EqualValues(t, s.ok, ok)
		assert.EqualValues(t, s.value, v)
	}
}

// TestRoundTo is a function.
func TestRoundTo(t *testing.T) {
	assert.EqualValues(t, 1.23, RoundTo(1.23456, 2))
	assert.EqualValues(t, 1.235, RoundTo(1.23456, 3))
	assert.EqualValues(t, 1.23456, RoundTo(1.23456, -1))
}

// TestClamp is a function.
func TestClamp(t *testing.T) {
	assert.EqualValues(t, 0.0, Clamp(-5, 0, 100))
	assert.EqualValues(t, 100.0, Clamp(250, 0, 100))
	assert.EqualValues(t, 42.0, Clamp(42, 0, 100))
}

// TestIsFinite is a function.
func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
