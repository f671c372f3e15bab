package expr

import "github.com/skywatchhq/skywatch/internal/models"

// Aggregate computes the aggregate of values under the given function.
// It returns nil (UNDEFINED) when values is empty, except for COUNT which
// counts an empty window as 0. Unknown functions yield nil.
func Aggregate(function string, values []float64) *float64 {
	if function == FuncCount {
		count := float64(len(values))
		return &count
	}
	if len(values) == 0 {
		return nil
	}
	var result float64
	switch function {
	case FuncSum, FuncAvg:
		for _, v := range values {
			result += v
		}
		if function == FuncAvg {
			result /= float64(len(values))
		}
	case FuncMax:
		result = values[0]
		for _, v := range values[1:] {
			if v > result {
				result = v
			}
		}
	case FuncMin:
		result = values[0]
		for _, v := range values[1:] {
			if v < result {
				result = v
			}
		}
	default:
		return nil
	}
	return &result
}

// Compare evaluates a vector of per-period aggregates against a threshold.
// The state is ALARM only when every period has a defined value satisfying
// the operator; one defined failing value forces OK regardless of gaps;
// otherwise missing data leaves the state UNDETERMINED.
func Compare(values []*float64, operator string, threshold float64) models.State {
	for _, v := range values {
		if v != nil && !satisfies(*v, operator, threshold) {
			return models.StateOK
		}
	}
	for _, v := range values {
		if v == nil {
			return models.StateUndetermined
		}
	}
	return models.StateAlarm
}

func satisfies(value float64, operator string, threshold float64) bool {
	switch operator {
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	}
	return false
}

// Combine folds child states under a logical operator using three-valued
// logic: OK is false, ALARM is true, UNDETERMINED is unknown. Operators
// other than AND and OR yield UNDETERMINED.
func Combine(logicalOp string, states []models.State) models.State {
	switch logicalOp {
	case OpAnd:
		combined := models.StateAlarm
		for _, s := range states {
			if s == models.StateOK {
				return models.StateOK
			}
			if s == models.StateUndetermined {
				combined = models.StateUndetermined
			}
		}
		return combined
	case OpOr:
		combined := models.StateOK
		for _, s := range states {
			if s == models.StateAlarm {
				return models.StateAlarm
			}
			if s == models.StateUndetermined {
				combined = models.StateUndetermined
			}
		}
		return combined
	}
	return models.StateUndetermined
}
