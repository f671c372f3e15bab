// Package expr implements the alarm expression language: the parser that
// turns an expression string into a boolean tree of threshold clauses, the
// pure calculator over window aggregates, and the structural validator for
// alarm definition updates.
//
// Grammar (whitespace is stripped before parsing):
//
//	expr       := or_expr
//	or_expr    := and_expr ( OR  and_expr )*
//	and_expr   := atom    ( AND atom    )*
//	atom       := sub | '(' expr ')'
//	sub        := func '(' metric [ ',' period ] ')' relop threshold [ 'times' periods ]
//	metric     := ident [ '{' dim (',' dim)* '}' ]
//	dim        := ident '=' ident
//
// Functions, relational operators and the and/or/times keywords are
// case-insensitive. Because '&', '|' and '/' are legal identifier runes and
// whitespace is removed up front, keywords are recognized positionally
// rather than by a standalone lexer.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/models"
)

// Logical operators produced by the parser.
const (
	OpAnd = "AND"
	OpOr  = "OR"
)

// Relational operators in normalized form.
const (
	OpLT  = "LT"
	OpLTE = "LTE"
	OpGT  = "GT"
	OpGTE = "GTE"
)

// Aggregate functions in normalized form.
const (
	FuncSum   = "SUM"
	FuncAvg   = "AVG"
	FuncMax   = "MAX"
	FuncMin   = "MIN"
	FuncCount = "COUNT"
)

const (
	defaultPeriod  = 60
	defaultPeriods = 1
	maxIdentLen    = 255
)

// Node is one vertex of the parsed boolean tree: either a *SubExpr leaf or
// a *BinOp inner node.
type Node interface {
	// Canonical returns the node's stable textual form: the exact slice
	// of the whitespace-stripped expression this node was parsed from.
	Canonical() string
	// Leaves returns the threshold clauses under this node in expression
	// order.
	Leaves() []*SubExpr

	span() (int, int)
	bindCanonical(src []rune)
}

// SubExpr is a single aggregate-threshold clause, e.g.
// max(cpu{host=h1},60)>10times3.
type SubExpr struct {
	Func       string            // SUM, AVG, MAX, MIN, COUNT
	MetricName string            // lower-cased for matching
	Dimensions map[string]string // empty when the metric carries no selector
	Operator   string            // LT, LTE, GT, GTE
	Threshold  float64
	Period     int // seconds, default 60
	Periods    int // consecutive windows, default 1

	canonical  string
	start, end int
}

// Canonical returns the clause exactly as written, whitespace removed.
// Buckets key their per-clause state by this string.
func (s *SubExpr) Canonical() string { return s.canonical }

// Leaves implements Node.
func (s *SubExpr) Leaves() []*SubExpr { return []*SubExpr{s} }

func (s *SubExpr) span() (int, int) { return s.start, s.end }

func (s *SubExpr) bindCanonical(src []rune) {
	s.canonical = string(src[s.start:s.end])
}

// Data converts the clause to its stored expression_data form.
func (s *SubExpr) Data() models.SubExprData {
	dims := make(map[string]string, len(s.Dimensions))
	for k, v := range s.Dimensions {
		dims[k] = v
	}
	return models.SubExprData{
		Function:   s.Func,
		MetricName: s.MetricName,
		Dimensions: dims,
		Operator:   s.Operator,
		Threshold:  s.Threshold,
		Period:     s.Period,
		Periods:    s.Periods,
	}
}

// Matches reports whether the sample feeds this clause: the names must be
// equal (case-insensitive) and every selector dimension must be present on
// the sample with the same value (case-insensitive). The sample may carry
// additional dimensions.
func (s *SubExpr) Matches(sample *models.Metric) bool {
	if strings.ToLower(sample.Name) != s.MetricName {
		return false
	}
	for k, v := range s.Dimensions {
		sv, ok := sample.Dimensions[k]
		if !ok || !strings.EqualFold(sv, v) {
			return false
		}
	}
	return true
}

// BinOp is an AND/OR inner node over two or more operands at the same
// precedence level.
type BinOp struct {
	Op       string // AND or OR
	Children []Node

	canonical  string
	start, end int
}

// Canonical implements Node.
func (b *BinOp) Canonical() string { return b.canonical }

// Leaves implements Node.
func (b *BinOp) Leaves() []*SubExpr {
	var leaves []*SubExpr
	for _, child := range b.Children {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}

func (b *BinOp) span() (int, int) { return b.start, b.end }

func (b *BinOp) bindCanonical(src []rune) {
	b.canonical = string(src[b.start:b.end])
	for _, child := range b.Children {
		child.bindCanonical(src)
	}
}

// Result is a parsed alarm expression.
type Result struct {
	Root     Node
	SubExprs []*SubExpr // leaves in expression order
}

// RelatedMetrics lists the metric streams the expression reads.
func (r *Result) RelatedMetrics() []models.MetricDescriptor {
	descriptors := make([]models.MetricDescriptor, 0, len(r.SubExprs))
	for _, sub := range r.SubExprs {
		dims := make(map[string]string, len(sub.Dimensions))
		for k, v := range sub.Dimensions {
			dims[k] = v
		}
		descriptors = append(descriptors, models.MetricDescriptor{
			Name:       sub.MetricName,
			Dimensions: dims,
		})
	}
	return descriptors
}

// ExpressionData returns the per-clause descriptors stored with an alarm
// definition.
func (r *Result) ExpressionData() []models.SubExprData {
	data := make([]models.SubExprData, 0, len(r.SubExprs))
	for _, sub := range r.SubExprs {
		data = append(data, sub.Data())
	}
	return data
}

// Parse parses an alarm expression. It returns errors.ErrInvalidExpression
// (wrapped with position detail) on any unmatched paren, unknown token or
// structural mismatch.
func Parse(expression string) (*Result, error) {
	stripped := make([]rune, 0, len(expression))
	for _, r := range expression {
		if !unicode.IsSpace(r) {
			stripped = append(stripped, r)
		}
	}
	if len(stripped) == 0 {
		return nil, fmt.Errorf("%w: empty expression", errors.ErrInvalidExpression)
	}

	p := &parser{src: stripped}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", string(p.src[p.pos:]))
	}
	root.bindCanonical(p.src)
	return &Result{Root: root, SubExprs: root.Leaves()}, nil
}

type parser struct {
	src []rune
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s at offset %d", errors.ErrInvalidExpression, detail, p.pos)
}

func (p *parser) parseExpr() (Node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for p.matchLiteral("||") || p.matchLiteral("or") {
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	return fold(OpOr, children), nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for p.matchLiteral("&&") || p.matchLiteral("and") {
		next, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	return fold(OpAnd, children), nil
}

func fold(op string, children []Node) Node {
	if len(children) == 1 {
		return children[0]
	}
	start, _ := children[0].span()
	_, end := children[len(children)-1].span()
	return &BinOp{Op: op, Children: children, start: start, end: end}
}

func (p *parser) parseAtom() (Node, error) {
	if function, ok := p.peekFunc(); ok {
		return p.parseSub(function)
	}
	if p.peekRune() == '(' {
		start := p.pos
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peekRune() != ')' {
			return nil, p.errorf("unmatched paren")
		}
		p.pos++
		// Widen the span so a parenthesized group round-trips with its
		// parens intact.
		switch n := inner.(type) {
		case *BinOp:
			n.start, n.end = start, p.pos
		case *SubExpr:
			n.start, n.end = start, p.pos
		}
		return inner, nil
	}
	return nil, p.errorf("expected sub-expression or group")
}

// parseSub parses everything after the already-recognized function name.
func (p *parser) parseSub(function string) (*SubExpr, error) {
	sub := &SubExpr{
		Func:    strings.ToUpper(function),
		Period:  defaultPeriod,
		Periods: defaultPeriods,
		start:   p.pos,
	}
	p.pos += len(function)
	if p.peekRune() != '(' {
		return nil, p.errorf("expected ( after %s", function)
	}
	p.pos++

	name, err := p.readIdent()
	if err != nil {
		return nil, err
	}
	sub.MetricName = strings.ToLower(name)
	sub.Dimensions = map[string]string{}

	if p.peekRune() == '{' {
		p.pos++
		for {
			key, err := p.readIdent()
			if err != nil {
				return nil, err
			}
			if p.peekRune() != '=' {
				return nil, p.errorf("expected = in dimension")
			}
			p.pos++
			value, err := p.readIdent()
			if err != nil {
				return nil, err
			}
			sub.Dimensions[key] = value
			if p.peekRune() == ',' {
				p.pos++
				continue
			}
			break
		}
		if p.peekRune() != '}' {
			return nil, p.errorf("unterminated dimension list")
		}
		p.pos++
	}

	if p.peekRune() == ',' {
		p.pos++
		period, err := p.readInt()
		if err != nil {
			return nil, err
		}
		sub.Period = period
	}
	if p.peekRune() != ')' {
		return nil, p.errorf("unmatched paren")
	}
	p.pos++

	operator, err := p.readRelop()
	if err != nil {
		return nil, err
	}
	sub.Operator = operator

	threshold, err := p.readNumber()
	if err != nil {
		return nil, err
	}
	sub.Threshold = threshold

	if p.matchLiteral("times") {
		periods, err := p.readInt()
		if err != nil {
			return nil, err
		}
		if periods < 1 {
			return nil, p.errorf("periods must be positive")
		}
		sub.Periods = periods
	}
	sub.end = p.pos
	return sub, nil
}

// peekFunc reports whether an aggregate function call starts at the
// cursor: one of the five function words immediately followed by '('.
func (p *parser) peekFunc() (string, bool) {
	for _, function := range []string{"count", "max", "min", "avg", "sum"} {
		if p.peekLiteral(function) && p.runeAt(p.pos+len(function)) == '(' {
			return string(p.src[p.pos : p.pos+len(function)]), true
		}
	}
	return "", false
}

func (p *parser) peekRune() rune { return p.runeAt(p.pos) }

func (p *parser) runeAt(i int) rune {
	if i >= len(p.src) {
		return 0
	}
	return p.src[i]
}

// peekLiteral reports a case-insensitive match of lit at the cursor.
func (p *parser) peekLiteral(lit string) bool {
	if p.pos+len(lit) > len(p.src) {
		return false
	}
	return strings.EqualFold(string(p.src[p.pos:p.pos+len(lit)]), lit)
}

func (p *parser) matchLiteral(lit string) bool {
	if p.peekLiteral(lit) {
		p.pos += len(lit)
		return true
	}
	return false
}

func (p *parser) readRelop() (string, error) {
	// Longer spellings first.
	switch {
	case p.matchLiteral("<="), p.matchLiteral("lte"):
		return OpLTE, nil
	case p.matchLiteral(">="), p.matchLiteral("gte"):
		return OpGTE, nil
	case p.matchLiteral("<"), p.matchLiteral("lt"):
		return OpLT, nil
	case p.matchLiteral(">"), p.matchLiteral("gt"):
		return OpGT, nil
	}
	return "", p.errorf("expected relational operator")
}

func (p *parser) readIdent() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentRune(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected identifier")
	}
	if p.pos-start > maxIdentLen {
		return "", p.errorf("identifier exceeds %d characters", maxIdentLen)
	}
	return string(p.src[start:p.pos]), nil
}

func (p *parser) readNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	if p.pos == start {
		return 0, p.errorf("expected number")
	}
	value, err := strconv.ParseFloat(string(p.src[start:p.pos]), 64)
	if err != nil {
		return 0, p.errorf("malformed number %q", string(p.src[start:p.pos]))
	}
	return value, nil
}

func (p *parser) readInt() (int, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return 0, p.errorf("expected integer")
	}
	value, err := strconv.Atoi(string(p.src[start:p.pos]))
	if err != nil {
		return 0, p.errorf("malformed integer %q", string(p.src[start:p.pos]))
	}
	return value, nil
}

const identSymbols = ".-_#!$%&'*+/:;?@[\\]^`|~"

// isIdentRune matches the identifier charset: ASCII letters and digits,
// a set of symbols, and non-space BMP runes above 0x7F. Comma, braces,
// parens and '=' are structural and excluded.
func isIdentRune(r rune) bool {
	if r < 0x80 {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || strings.ContainsRune(identSymbols, r)
	}
	return r <= 0xFFFF && !unicode.IsSpace(r)
}
