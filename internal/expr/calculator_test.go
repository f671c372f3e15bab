package expr

import (
	"testing"

	"github.com/skywatchhq/skywatch/internal/models"
)

func fp(v float64) *float64 { return &v }

func TestAggregate(t *testing.T) {
	cases := []struct {
		function string
		values   []float64
		want     *float64
	}{
		{FuncSum, []float64{1, 2, 3}, fp(6)},
		{FuncAvg, []float64{1, 2, 3}, fp(2)},
		{FuncMax, []float64{1, 9, 3}, fp(9)},
		{FuncMin, []float64{4, 2, 3}, fp(2)},
		{FuncCount, []float64{4, 2, 3}, fp(3)},
		{FuncCount, nil, fp(0)},
		{FuncSum, nil, nil},
		{FuncAvg, nil, nil},
		{FuncMax, nil, nil},
		{FuncMin, nil, nil},
		{"MEDIAN", []float64{1}, nil},
	}
	for _, tc := range cases {
		got := Aggregate(tc.function, tc.values)
		switch {
		case tc.want == nil && got != nil:
			t.Fatalf("Aggregate(%s, %v) = %v, want UNDEFINED", tc.function, tc.values, *got)
		case tc.want != nil && got == nil:
			t.Fatalf("Aggregate(%s, %v) = UNDEFINED, want %v", tc.function, tc.values, *tc.want)
		case tc.want != nil && *got != *tc.want:
			t.Fatalf("Aggregate(%s, %v) = %v, want %v", tc.function, tc.values, *got, *tc.want)
		}
	}
}

func TestCompareAlarmRequiresEveryPeriod(t *testing.T) {
	// ALARM iff every element is defined and satisfies the operator.
	if got := Compare([]*float64{fp(20), fp(30)}, OpGT, 10); got != models.StateAlarm {
		t.Fatalf("all satisfying GT should be ALARM, got %s", got)
	}
	// One defined failing value forces OK even with gaps elsewhere.
	if got := Compare([]*float64{fp(20), nil, fp(5)}, OpGT, 10); got != models.StateOK {
		t.Fatalf("a failing period should be OK, got %s", got)
	}
	// Gaps without failures leave the state unknown.
	if got := Compare([]*float64{fp(20), nil}, OpGT, 10); got != models.StateUndetermined {
		t.Fatalf("missing period should be UNDETERMINED, got %s", got)
	}
	if got := Compare([]*float64{nil}, OpGT, 10); got != models.StateUndetermined {
		t.Fatalf("all-missing should be UNDETERMINED, got %s", got)
	}
}

func TestCompareBoundaries(t *testing.T) {
	// Strict operators exclude the threshold itself; inclusive ones keep it.
	cases := []struct {
		op    string
		value float64
		want  models.State
	}{
		{OpGT, 10, models.StateOK},
		{OpGTE, 10, models.StateAlarm},
		{OpLT, 10, models.StateOK},
		{OpLTE, 10, models.StateAlarm},
		{OpGT, 10.0001, models.StateAlarm},
		{OpLT, 9.9999, models.StateAlarm},
		{OpGT, 9.9999, models.StateOK},
		{OpLT, 10.0001, models.StateOK},
	}
	for _, tc := range cases {
		if got := Compare([]*float64{fp(tc.value)}, tc.op, 10); got != tc.want {
			t.Fatalf("Compare([%v], %s, 10) = %s, want %s", tc.value, tc.op, got, tc.want)
		}
	}
}

func TestCombineIdentity(t *testing.T) {
	for _, state := range []models.State{models.StateOK, models.StateAlarm, models.StateUndetermined} {
		if got := Combine(OpAnd, []models.State{state}); got != state {
			t.Fatalf("Combine(AND, [%s]) = %s", state, got)
		}
		if got := Combine(OpOr, []models.State{state}); got != state {
			t.Fatalf("Combine(OR, [%s]) = %s", state, got)
		}
	}
}

func TestCombineDominance(t *testing.T) {
	states := []models.State{models.StateAlarm, models.StateUndetermined}
	for _, extra := range states {
		if got := Combine(OpAnd, []models.State{models.StateOK, extra}); got != models.StateOK {
			t.Fatalf("AND with OK should be OK, got %s", got)
		}
	}
	for _, extra := range []models.State{models.StateOK, models.StateUndetermined} {
		if got := Combine(OpOr, []models.State{models.StateAlarm, extra}); got != models.StateAlarm {
			t.Fatalf("OR with ALARM should be ALARM, got %s", got)
		}
	}
	if got := Combine(OpAnd, []models.State{models.StateAlarm, models.StateUndetermined}); got != models.StateUndetermined {
		t.Fatalf("AND over ALARM+UNDETERMINED should be UNDETERMINED, got %s", got)
	}
	if got := Combine(OpOr, []models.State{models.StateOK, models.StateUndetermined}); got != models.StateUndetermined {
		t.Fatalf("OR over OK+UNDETERMINED should be UNDETERMINED, got %s", got)
	}
}

func TestCombineUnknownOperator(t *testing.T) {
	if got := Combine("XOR", []models.State{models.StateOK}); got != models.StateUndetermined {
		t.Fatalf("unknown operator should be UNDETERMINED, got %s", got)
	}
}
