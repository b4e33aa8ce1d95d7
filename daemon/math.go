/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package daemon

import (
	"fmt"
	"math"
	"slices"

	"github.com/Knetic/govaluate"
	"github.com/eclesh/welford"
)

// MathHelp is a help message used by flags in main
const MathHelp = `When composing the -bound and -drift formulas, here is what you can do:
supported operations:
  evaluation is done with govaluate, please check https://github.com/Knetic/govaluate/blob/master/MANUAL.md
supported variables:
  offset (list of last offsets of the timecounter from the reference, in ns, newest first)
  freq (list of last frequency corrections, in PPB)
  adjtime (list of last outstanding adjtime corrections, in ns)
  freqchange (list of last changes in frequency)
  freqchangeabs (list of last changes in frequency, abs values)
supported functions:
  abs(value) - absolute value of single float64, for example abs(-1) = 1
  mean(values, number) - mean of list of 'number' values, for example mean(offset, 10) will take 10 elements from array 'offset' and return mean for those values
  variance(values, number) - variance of list of 'number' values
  stddev(values, number) - standard deviation of list of 'number' values`

const (
	// MathDefaultHistory is a default number of samples to keep
	MathDefaultHistory = 60
	// MathDefaultBound is a default formula to calculate error bound
	MathDefaultBound = "abs(mean(offset, 60)) + 4.0 * stddev(offset, 60)"
	// MathDefaultDrift is a default formula to calculate drift
	MathDefaultDrift = "1.5 * mean(freqchangeabs, 59)"
)

// Math stores our math expressions in two forms: string and parsed
type Math struct {
	Bound     string // error bound of the timecounter in ns
	boundExpr *govaluate.EvaluableExpression
	Drift     string // drift in PPB
	driftExpr *govaluate.EvaluableExpression
}

// Prepare will prepare all math expressions
func (m *Math) Prepare() error {
	var err error
	m.boundExpr, err = prepareExpression(m.Bound)
	if err != nil {
		return fmt.Errorf("evaluating Bound: %w", err)
	}
	m.driftExpr, err = prepareExpression(m.Drift)
	if err != nil {
		return fmt.Errorf("evaluating Drift: %w", err)
	}
	return nil
}

func mean(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Mean()
}

// variance and stddev of less than two values is 0
func variance(input []float64) float64 {
	if len(input) < 2 {
		return 0
	}
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Variance()
}

func stddev(input []float64) float64 {
	if len(input) < 2 {
		return 0
	}
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Stddev()
}

var supportedVariables = []string{
	"offset",
	"freq",
	"adjtime",
	"freqchange",
	"freqchangeabs",
}

func isSupportedVar(varName string) bool {
	return slices.Contains(supportedVariables, varName)
}

// window returns the first n values of args[0]
func window(name string, args []interface{}) ([]float64, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: wrong number of arguments: want 2, got %d", name, len(args))
	}
	vals, ok := args[0].([]float64)
	if !ok {
		return nil, fmt.Errorf("%s: first argument must be a variable", name)
	}
	n, ok := args[1].(float64)
	if !ok {
		return nil, fmt.Errorf("%s: second argument must be a number", name)
	}
	nSamples := int(n)
	if len(vals) < nSamples {
		return vals, nil
	}
	return vals[:nSamples], nil
}

// all the functions we support in expressions
var functions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		val, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: argument must be a number")
		}
		return math.Abs(val), nil
	},
	"mean": func(args ...interface{}) (interface{}, error) {
		vals, err := window("mean", args)
		if err != nil {
			return nil, err
		}
		return mean(vals), nil
	},
	"variance": func(args ...interface{}) (interface{}, error) {
		vals, err := window("variance", args)
		if err != nil {
			return nil, err
		}
		return variance(vals), nil
	},
	"stddev": func(args ...interface{}) (interface{}, error) {
		vals, err := window("stddev", args)
		if err != nil {
			return nil, err
		}
		return stddev(vals), nil
	},
}

func prepareExpression(exprStr string) (*govaluate.EvaluableExpression, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, functions)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		if !isSupportedVar(v) {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	return expr, nil
}

// prepareMathParameters turns samples, newest first, into expression variables
func prepareMathParameters(lastN []*Sample) map[string][]float64 {
	size := len(lastN)
	offsets := make([]float64, size)
	freqs := make([]float64, size)
	adjtimes := make([]float64, size)
	freqChanges := make([]float64, max(size-1, 0))
	freqChangesAbs := make([]float64, max(size-1, 0))
	for i, s := range lastN {
		offsets[i] = s.OffsetNS
		freqs[i] = s.FrequencyPPB
		adjtimes[i] = s.AdjtimeNS
		if i != 0 {
			change := lastN[i-1].FrequencyPPB - s.FrequencyPPB
			freqChanges[i-1] = change
			freqChangesAbs[i-1] = math.Abs(change)
		}
	}
	return map[string][]float64{
		"offset":        offsets,
		"freq":          freqs,
		"adjtime":       adjtimes,
		"freqchange":    freqChanges,
		"freqchangeabs": freqChangesAbs,
	}
}

func mapOfInterface(m map[string][]float64) map[string]interface{} {
	mm := make(map[string]interface{}, len(m))
	for k, v := range m {
		mm[k] = v
	}
	return mm
}

func evaluate(expr *govaluate.EvaluableExpression, params map[string][]float64) (float64, error) {
	raw, err := expr.Evaluate(mapOfInterface(params))
	if err != nil {
		return 0, err
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("expression returned %T, not a number", raw)
	}
	return v, nil
}
