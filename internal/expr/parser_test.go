package expr

import (
	"strings"
	"testing"
)

func TestParseCompoundExpression(t *testing.T) {
	input := "max(cpu{host=h1},60)>10 times 3 and (min(mem)<5 or count(err)>0)"
	result, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	root, ok := result.Root.(*BinOp)
	if !ok || root.Op != OpAnd {
		t.Fatalf("expected AND root, got %#v", result.Root)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}

	left, ok := root.Children[0].(*SubExpr)
	if !ok {
		t.Fatalf("expected leaf on the left, got %#v", root.Children[0])
	}
	if left.Func != FuncMax || left.MetricName != "cpu" || left.Operator != OpGT {
		t.Fatalf("left leaf mismatched: %+v", left)
	}
	if left.Threshold != 10 || left.Period != 60 || left.Periods != 3 {
		t.Fatalf("left leaf thresholds mismatched: %+v", left)
	}
	if left.Dimensions["host"] != "h1" {
		t.Fatalf("left leaf dimensions mismatched: %v", left.Dimensions)
	}

	right, ok := root.Children[1].(*BinOp)
	if !ok || right.Op != OpOr {
		t.Fatalf("expected OR on the right, got %#v", root.Children[1])
	}
	if len(right.Leaves()) != 2 {
		t.Fatalf("expected 2 leaves under OR, got %d", len(right.Leaves()))
	}

	if len(result.SubExprs) != 3 {
		t.Fatalf("expected 3 leaves total, got %d", len(result.SubExprs))
	}
}

func TestParseCanonicalRoundTrip(t *testing.T) {
	inputs := []string{
		"max(cpu{host=h1},60)>10 times 3 and (min(mem)<5 or count(err)>0)",
		"avg(disk.usage { mount = /var , fs = ext4 }, 120) >= 95.5",
		"sum(net.rx)>1000 && sum(net.tx)>1000 || count(drops)>0",
		"max(foo)>10",
	}
	for _, input := range inputs {
		result, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		want := strings.Join(strings.Fields(input), "")
		if got := result.Root.Canonical(); got != want {
			t.Fatalf("canonical mismatch for %q:\n got %q\nwant %q", input, got, want)
		}
	}
}

func TestParseNormalization(t *testing.T) {
	result, err := Parse("AVG(CPU.Load{Host=Web01}) LTE 5 OR Min(mem)gte 2")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	first, second := result.SubExprs[0], result.SubExprs[1]
	if first.Func != FuncAvg || first.MetricName != "cpu.load" {
		t.Fatalf("function or metric not normalized: %+v", first)
	}
	if first.Operator != OpLTE {
		t.Fatalf("expected LTE, got %s", first.Operator)
	}
	// Dimension values keep their original case; matching lower-cases.
	if first.Dimensions["Host"] != "Web01" {
		t.Fatalf("dimension value altered: %v", first.Dimensions)
	}
	if second.Operator != OpGTE {
		t.Fatalf("expected GTE, got %s", second.Operator)
	}
}

func TestParseDefaults(t *testing.T) {
	result, err := Parse("count(errors)>0")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sub := result.SubExprs[0]
	if sub.Period != 60 {
		t.Fatalf("expected default period 60, got %d", sub.Period)
	}
	if sub.Periods != 1 {
		t.Fatalf("expected default periods 1, got %d", sub.Periods)
	}
}

func TestParsePrecedence(t *testing.T) {
	// AND binds tighter than OR.
	result, err := Parse("max(a)>1 or max(b)>1 and max(c)>1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	root, ok := result.Root.(*BinOp)
	if !ok || root.Op != OpOr {
		t.Fatalf("expected OR root, got %#v", result.Root)
	}
	if _, ok := root.Children[0].(*SubExpr); !ok {
		t.Fatalf("expected leaf first operand")
	}
	inner, ok := root.Children[1].(*BinOp)
	if !ok || inner.Op != OpAnd {
		t.Fatalf("expected AND second operand, got %#v", root.Children[1])
	}
}

func TestParseChainedOperandsFlatten(t *testing.T) {
	result, err := Parse("max(a)>1 and max(b)>1 and max(c)>1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	root, ok := result.Root.(*BinOp)
	if !ok || root.Op != OpAnd {
		t.Fatalf("expected AND root, got %#v", result.Root)
	}
	if len(root.Children) != 3 {
		t.Fatalf("expected a single 3-operand AND, got %d children", len(root.Children))
	}
}

func TestParseUnicodeIdentifiers(t *testing.T) {
	result, err := Parse("max(温度{位置=机房})>30")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sub := result.SubExprs[0]
	if sub.MetricName != "温度" {
		t.Fatalf("unexpected metric name %q", sub.MetricName)
	}
	if sub.Dimensions["位置"] != "机房" {
		t.Fatalf("unexpected dimensions %v", sub.Dimensions)
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"max(cpu>10",
		"max(cpu)>10)",
		"max(cpu) >> 10",
		"mean(cpu)>10",
		"max(cpu)>",
		"max(cpu)>10 times",
		"max(cpu)>10 times 0",
		"max(cpu{host})>10",
		"max(cpu)>10 and",
		"(max(cpu)>10",
		"max(cpu)>10 max(mem)>5",
	}
	for _, input := range inputs {
		if _, err := Parse(input); err == nil {
			t.Fatalf("Parse(%q) should have failed", input)
		}
	}
}

func TestParseIdentifierTooLong(t *testing.T) {
	name := strings.Repeat("a", 256)
	if _, err := Parse("max(" + name + ")>1"); err == nil {
		t.Fatalf("expected identifier length error")
	}
	name = strings.Repeat("a", 255)
	if _, err := Parse("max(" + name + ")>1"); err != nil {
		t.Fatalf("255-char identifier should parse: %v", err)
	}
}

func TestLeafCanonicalKeysAreDistinct(t *testing.T) {
	result, err := Parse("max(a)>1 and max(a)>2")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.SubExprs[0].Canonical() == result.SubExprs[1].Canonical() {
		t.Fatalf("leaves with different thresholds must key differently")
	}
}
