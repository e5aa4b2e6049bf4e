// Package expreval evaluates user-authored arithmetic and boolean formulas
// against a fixed set of named numeric inputs. Formula text comes from the
// monitor configuration document, which may be edited by non-programmers, so
// the namespace is deliberately closed: the only visible symbols are the
// caller's variables, the functions abs/min/max, and the boolean literals.
// There is no path from formula text to any host-level operation.
package expreval

import (
	"fmt"
	"sort"
	"strconv"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokIdent
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokGT
	tokGE
	tokLT
	tokLE
	tokEQ
	tokNE
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
)

type token struct {
	kind tokKind
	text string
	pos  int
	num  float64
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}
		start := i
		if (c >= '0' && c <= '9') || c == '.' {
			j := i
			seenDot := false
			for j < len(src) {
				ch := src[j]
				if ch >= '0' && ch <= '9' {
					j++
					continue
				}
				if ch == '.' && !seenDot {
					seenDot = true
					j++
					continue
				}
				break
			}
			text := src[i:j]
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, pos: start, num: n})
			i = j
			continue
		}
		if isIdentStart(c) {
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			text := src[i:j]
			kind := tokIdent
			switch text {
			case "and":
				kind = tokAnd
			case "or":
				kind = tokOr
			case "not":
				kind = tokNot
			case "true", "True":
				kind = tokTrue
			case "false", "False":
				kind = tokFalse
			}
			toks = append(toks, token{kind: kind, text: text, pos: start})
			i = j
			continue
		}
		if i+1 < len(src) {
			switch src[i : i+2] {
			case ">=":
				toks = append(toks, token{kind: tokGE, text: ">=", pos: start})
				i += 2
				continue
			case "<=":
				toks = append(toks, token{kind: tokLE, text: "<=", pos: start})
				i += 2
				continue
			case "==":
				toks = append(toks, token{kind: tokEQ, text: "==", pos: start})
				i += 2
				continue
			case "!=":
				toks = append(toks, token{kind: tokNE, text: "!=", pos: start})
				i += 2
				continue
			case "&&":
				toks = append(toks, token{kind: tokAnd, text: "&&", pos: start})
				i += 2
				continue
			case "||":
				toks = append(toks, token{kind: tokOr, text: "||", pos: start})
				i += 2
				continue
			}
		}
		var kind tokKind
		switch c {
		case '(':
			kind = tokLParen
		case ')':
			kind = tokRParen
		case ',':
			kind = tokComma
		case '+':
			kind = tokPlus
		case '-':
			kind = tokMinus
		case '*':
			kind = tokStar
		case '/':
			kind = tokSlash
		case '>':
			kind = tokGT
		case '<':
			kind = tokLT
		case '!':
			kind = tokNot
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(c), start)
		}
		toks = append(toks, token{kind: kind, text: string(c), pos: start})
		i++
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// value is the result of evaluating a node: either numeric or boolean.
type value struct {
	isBool bool
	num    float64
	b      bool
}

type node interface {
	eval(vars map[string]float64) (value, error)
}

type numNode float64

func (n numNode) eval(map[string]float64) (value, error) {
	return value{num: float64(n)}, nil
}

type boolNode bool

func (n boolNode) eval(map[string]float64) (value, error) {
	return value{isBool: true, b: bool(n)}, nil
}

type identNode string

func (n identNode) eval(vars map[string]float64) (value, error) {
	v, ok := vars[string(n)]
	if !ok {
		return value{}, fmt.Errorf("unknown variable %q", string(n))
	}
	return value{num: v}, nil
}

type unaryNode struct {
	op tokKind
	x  node
}

func (n *unaryNode) eval(vars map[string]float64) (value, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case tokMinus:
		if v.isBool {
			return value{}, fmt.Errorf("operator - requires a numeric operand")
		}
		return value{num: -v.num}, nil
	case tokNot:
		if !v.isBool {
			return value{}, fmt.Errorf("operator not requires a boolean operand")
		}
		return value{isBool: true, b: !v.b}, nil
	}
	return value{}, fmt.Errorf("unsupported unary operator")
}

type binNode struct {
	op tokKind
	x  node
	y  node
}

func (n *binNode) eval(vars map[string]float64) (value, error) {
	// short-circuit boolean connectives
	if n.op == tokAnd || n.op == tokOr {
		lv, err := n.x.eval(vars)
		if err != nil {
			return value{}, err
		}
		if !lv.isBool {
			return value{}, fmt.Errorf("operator %s requires boolean operands", opText(n.op))
		}
		if n.op == tokAnd && !lv.b {
			return value{isBool: true, b: false}, nil
		}
		if n.op == tokOr && lv.b {
			return value{isBool: true, b: true}, nil
		}
		rv, err := n.y.eval(vars)
		if err != nil {
			return value{}, err
		}
		if !rv.isBool {
			return value{}, fmt.Errorf("operator %s requires boolean operands", opText(n.op))
		}
		return value{isBool: true, b: rv.b}, nil
	}

	lv, err := n.x.eval(vars)
	if err != nil {
		return value{}, err
	}
	rv, err := n.y.eval(vars)
	if err != nil {
		return value{}, err
	}
	if lv.isBool || rv.isBool {
		return value{}, fmt.Errorf("operator %s requires numeric operands", opText(n.op))
	}
	a, b := lv.num, rv.num
	switch n.op {
	case tokPlus:
		return value{num: a + b}, nil
	case tokMinus:
		return value{num: a - b}, nil
	case tokStar:
		return value{num: a * b}, nil
	case tokSlash:
		if b == 0 {
			return value{}, fmt.Errorf("division by zero")
		}
		return value{num: a / b}, nil
	case tokGT:
		return value{isBool: true, b: a > b}, nil
	case tokGE:
		return value{isBool: true, b: a >= b}, nil
	case tokLT:
		return value{isBool: true, b: a < b}, nil
	case tokLE:
		return value{isBool: true, b: a <= b}, nil
	case tokEQ:
		return value{isBool: true, b: a == b}, nil
	case tokNE:
		return value{isBool: true, b: a != b}, nil
	}
	return value{}, fmt.Errorf("unsupported operator")
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(vars map[string]float64) (value, error) {
	if err := checkCall(n.name, len(n.args)); err != nil {
		return value{}, err
	}
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(vars)
		if err != nil {
			return value{}, err
		}
		if v.isBool {
			return value{}, fmt.Errorf("function %s requires numeric arguments", n.name)
		}
		vals[i] = v.num
	}
	switch n.name {
	case "abs":
		x := vals[0]
		if x < 0 {
			x = -x
		}
		return value{num: x}, nil
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return value{num: m}, nil
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return value{num: m}, nil
	}
	return value{}, fmt.Errorf("unknown function %q", n.name)
}

func checkCall(name string, argc int) error {
	switch name {
	case "abs":
		if argc != 1 {
			return fmt.Errorf("abs expects 1 argument, got %d", argc)
		}
	case "min", "max":
		if argc < 1 {
			return fmt.Errorf("%s expects at least 1 argument", name)
		}
	default:
		return fmt.Errorf("unknown function %q", name)
	}
	return nil
}

func opText(k tokKind) string {
	switch k {
	case tokPlus:
		return "+"
	case tokMinus:
		return "-"
	case tokStar:
		return "*"
	case tokSlash:
		return "/"
	case tokGT:
		return ">"
	case tokGE:
		return ">="
	case tokLT:
		return "<"
	case tokLE:
		return "<="
	case tokEQ:
		return "=="
	case tokNE:
		return "!="
	case tokAnd:
		return "and"
	case tokOr:
		return "or"
	}
	return "?"
}

// Expr is a parsed, reusable expression.
type Expr struct {
	src  string
	root node
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) cur() token { return p.toks[p.i] }

func (p *parser) advance() { p.i++ }

func (p *parser) at(k tokKind) bool { return p.toks[p.i].kind == k }

func (p *parser) expect(k tokKind, what string) error {
	if !p.at(k) {
		t := p.cur()
		return fmt.Errorf("expected %s at position %d, got %q", what, t.pos, t.text)
	}
	p.advance()
	return nil
}

// Parse compiles src into an Expr. Syntax errors report the offending position.
func Parse(src string) (*Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		t := p.cur()
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return &Expr{src: src, root: root}, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(tokOr) {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: tokOr, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.at(tokAnd) {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: tokAnd, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.at(tokNot) {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tokNot, x: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	switch p.cur().kind {
	case tokGT, tokGE, tokLT, tokLE, tokEQ, tokNE:
		op := p.cur().kind
		p.advance()
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		node := &binNode{op: op, x: left, y: right}
		// chained comparisons (a < b < c) are not supported
		switch p.cur().kind {
		case tokGT, tokGE, tokLT, tokLE, tokEQ, tokNE:
			t := p.cur()
			return nil, fmt.Errorf("chained comparison at position %d", t.pos)
		}
		return node, nil
	}
	return left, nil
}

func (p *parser) parseAdd() (node, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.at(tokPlus) || p.at(tokMinus) {
		op := p.cur().kind
		p.advance()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: op, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseMul() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(tokStar) || p.at(tokSlash) {
		op := p.cur().kind
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: op, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.at(tokMinus) {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tokMinus, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		return numNode(t.num), nil
	case tokTrue:
		p.advance()
		return boolNode(true), nil
	case tokFalse:
		p.advance()
		return boolNode(false), nil
	case tokIdent:
		p.advance()
		if p.at(tokLParen) {
			p.advance()
			var args []node
			if !p.at(tokRParen) {
				for {
					a, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.at(tokComma) {
						p.advance()
						continue
					}
					break
				}
			}
			if err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			if err := checkCall(t.text, len(args)); err != nil {
				return nil, err
			}
			return &callNode{name: t.text, args: args}, nil
		}
		return identNode(t.text), nil
	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

// Idents returns the sorted unique variable names the expression references.
// Function names are not included.
func (e *Expr) Idents() []string {
	set := map[string]struct{}{}
	collectIdents(e.root, set)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func collectIdents(n node, set map[string]struct{}) {
	switch v := n.(type) {
	case identNode:
		set[string(v)] = struct{}{}
	case *unaryNode:
		collectIdents(v.x, set)
	case *binNode:
		collectIdents(v.x, set)
		collectIdents(v.y, set)
	case *callNode:
		for _, a := range v.args {
			collectIdents(a, set)
		}
	}
}

// Validate fails closed: every referenced variable must be accepted by
// allowed, otherwise the expression is rejected before it can ever run.
func (e *Expr) Validate(allowed func(name string) bool) error {
	for _, name := range e.Idents() {
		if !allowed(name) {
			return fmt.Errorf("expression %q references undeclared name %q", e.src, name)
		}
	}
	return nil
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// EvalNumber evaluates the expression and requires a numeric result.
func (e *Expr) EvalNumber(vars map[string]float64) (float64, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return 0, err
	}
	if v.isBool {
		return 0, fmt.Errorf("expression %q is not numeric", e.src)
	}
	return v.num, nil
}

// EvalBool evaluates the expression and requires a boolean result.
func (e *Expr) EvalBool(vars map[string]float64) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, err
	}
	if !v.isBool {
		return false, fmt.Errorf("expression %q is not boolean", e.src)
	}
	return v.b, nil
}

// EvalNumber parses and evaluates src in one step.
func EvalNumber(src string, vars map[string]float64) (float64, error) {
	e, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return e.EvalNumber(vars)
}

// EvalBool parses and evaluates src in one step.
func EvalBool(src string, vars map[string]float64) (bool, error) {
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	return e.EvalBool(vars)
}
