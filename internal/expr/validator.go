package expr

import (
	"fmt"
	"maps"
	"slices"

	"github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/models"
)

// ValidateDefinition checks that an alarm definition carries the required
// fields and a parseable expression. It returns the parse result so
// callers can derive expression_data without parsing twice.
func ValidateDefinition(def *models.AlarmDefinition) (*Result, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: alarm definition name is required", errors.ErrInvalidInput)
	}
	if def.Expression == "" {
		return nil, fmt.Errorf("%w: alarm definition expression is required", errors.ErrInvalidInput)
	}
	result, err := Parse(def.Expression)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ValidateUpdate enforces the structural update rule: the new definition
// must keep the same number of sub-expressions, the same normalized metric
// name and dimensions per positional sub-expression, and an unchanged
// match_by.
func ValidateUpdate(oldDef, newDef *models.AlarmDefinition) error {
	oldResult, err := ValidateDefinition(oldDef)
	if err != nil {
		return err
	}
	newResult, err := ValidateDefinition(newDef)
	if err != nil {
		return err
	}

	if !slices.Equal(oldDef.MatchBy, newDef.MatchBy) {
		return fmt.Errorf("%w: match_by cannot change", errors.ErrInvalidInput)
	}
	if len(oldResult.SubExprs) != len(newResult.SubExprs) {
		return fmt.Errorf("%w: sub-expression count cannot change", errors.ErrInvalidInput)
	}
	for i := range oldResult.SubExprs {
		oldSub, newSub := oldResult.SubExprs[i], newResult.SubExprs[i]
		if oldSub.MetricName != newSub.MetricName {
			return fmt.Errorf("%w: metric name of sub-expression %d cannot change", errors.ErrInvalidInput, i)
		}
		if !maps.Equal(oldSub.Dimensions, newSub.Dimensions) {
			return fmt.Errorf("%w: dimensions of sub-expression %d cannot change", errors.ErrInvalidInput, i)
		}
	}
	return nil
}
