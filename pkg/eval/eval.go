package eval

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// truthinessEpsilon: a numeric result is boolean-true when |x| exceeds it
const truthinessEpsilon = 1e-10

// functions is the small math library available to conditional expressions
var functions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		v, err := oneNumber("abs", args)
		if err != nil {
			return nil, err
		}
		return math.Abs(v), nil
	},
	"sqrt": func(args ...interface{}) (interface{}, error) {
		v, err := oneNumber("sqrt", args)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("sqrt of negative value %v", v)
		}
		return math.Sqrt(v), nil
	},
	"round": func(args ...interface{}) (interface{}, error) {
		v, err := oneNumber("round", args)
		if err != nil {
			return nil, err
		}
		return math.Round(v), nil
	},
	"min": func(args ...interface{}) (interface{}, error) {
		return fold("min", args, math.Min)
	},
	"max": func(args ...interface{}) (interface{}, error) {
		return fold("max", args, math.Max)
	},
}

// Expression is a compiled conditional-memory expression
type Expression struct {
	inner *govaluate.EvaluableExpression
}

// Compile parses an expression once; processors cache compiled expressions
// across cycles
func Compile(source string) (*Expression, error) {
	inner, err := govaluate.NewEvaluableExpressionWithFunctions(source, functions)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", source, err)
	}
	return &Expression{inner: inner}, nil
}

// Variables returns the identifiers the expression reads
func (e *Expression) Variables() []string {
	return e.inner.Vars()
}

// Evaluate computes the expression over the given variable values and returns
// the numeric result; booleans come back as 0/1
func (e *Expression) Evaluate(variables map[string]float64) (float64, error) {
	params := make(map[string]interface{}, len(variables))
	for name, value := range variables {
		params[name] = value
	}

	result, err := e.inner.Evaluate(params)
	if err != nil {
		return 0, err
	}

	switch v := result.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expression yielded non-numeric result %T", result)
	}
}

// Truthy interprets a numeric result as a boolean
func Truthy(x float64) bool {
	return math.Abs(x) > truthinessEpsilon
}

func oneNumber(name string, args []interface{}) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
	}
	v, ok := args[0].(float64)
	if !ok {
		return 0, fmt.Errorf("%s expects a number", name)
	}
	return v, nil
}

func fold(name string, args []interface{}, f func(a, b float64) float64) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s expects at least 2 arguments", name)
	}
	acc, ok := args[0].(float64)
	if !ok {
		return nil, fmt.Errorf("%s expects numbers", name)
	}
	for _, arg := range args[1:] {
		v, ok := arg.(float64)
		if !ok {
			return nil, fmt.Errorf("%s expects numbers", name)
		}
		acc = f(acc, v)
	}
	return acc, nil
}
