package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a parsed "<metric> <op> <threshold>" expression.
type Condition struct {
	Metric    string
	Op        string
	Threshold float64
}

// ParseCondition parses expr. The metric name must be a single token.
func ParseCondition(expr string) (Condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("condition %q: want \"<metric> <op> <threshold>\"", expr)
	}
	metric, op, rhs := parts[0], parts[1], parts[2]
	if !validOp(op) {
		return Condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: threshold: %w", expr, err)
	}
	return Condition{Metric: metric, Op: op, Threshold: threshold}, nil
}

// Holds applies the condition to v.
func (c Condition) Holds(v float64) bool {
	return compareFloat(v, c.Op, c.Threshold)
}

// String renders the comparison without the metric, e.g. "> 90".
func (c Condition) String() string {
	return c.Op + " " + strconv.FormatFloat(c.Threshold, 'f', -1, 64)
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
