// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package markers

import (
	"fmt"
	"strings"

	"github.com/pydep/pydep/gps/pep440"
)

// ParseError reports a malformed marker expression.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid marker %q at position %d: %s", e.Input, e.Pos, e.Msg)
}

var legacyAxes = map[string]Axis{
	"os.name":                        OSName,
	"sys.platform":                   SysPlatform,
	"platform.version":               PlatformVersion,
	"platform.machine":               PlatformMachine,
	"platform.python_implementation": PlatformPythonImplementation,
	"python_implementation":          PlatformPythonImplementation,
}

var knownAxes = map[Axis]domainKind{
	PythonFullVersion:            kindVersion,
	PythonVersion:                kindVersion,
	ImplementationVersion:        kindVersion,
	ImplementationName:           kindString,
	OSName:                       kindString,
	PlatformMachine:              kindString,
	PlatformPythonImplementation: kindString,
	PlatformRelease:              kindString,
	PlatformSystem:               kindString,
	PlatformVersion:              kindString,
	SysPlatform:                  kindString,
	Extra:                        kindString,
}

type tokKind uint8

const (
	tokIdent tokKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokKind
	text string
	pos  int
}

var opTokens = []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"}

func tokenize(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(input[i+1:], c)
			if end < 0 {
				return nil, &ParseError{Input: input, Pos: i, Msg: "unterminated string"}
			}
			toks = append(toks, token{tokString, input[i+1 : i+1+end], i})
			i += end + 2
		case isIdentByte(c):
			start := i
			for i < len(input) && isIdentByte(input[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, input[start:i], start})
		default:
			matched := false
			for _, op := range opTokens {
				if strings.HasPrefix(input[i:], op) {
					toks = append(toks, token{tokOp, op, i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, &ParseError{Input: input, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
		}
	}
	return append(toks, token{tokEOF, "", len(input)}), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	input string
	toks  []token
	pos   int
}

// Parse parses a PEP 508 marker expression. The empty string parses as the
// true marker.
func Parse(input string) (Marker, error) {
	if strings.TrimSpace(input) == "" {
		return True(), nil
	}
	toks, err := tokenize(input)
	if err != nil {
		return Marker{}, err
	}
	p := &parser{input: input, toks: toks}
	m, err := p.parseOr()
	if err != nil {
		return Marker{}, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return Marker{}, p.errorf(t, "unexpected %q", t.text)
	}
	return m, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string) Marker {
	m, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return m
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return &ParseError{Input: p.input, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (Marker, error) {
	m, err := p.parseAnd()
	if err != nil {
		return Marker{}, err
	}
	for p.keyword("or") {
		o, err := p.parseAnd()
		if err != nil {
			return Marker{}, err
		}
		m = m.Or(o)
	}
	return m, nil
}

func (p *parser) parseAnd() (Marker, error) {
	m, err := p.parseAtom()
	if err != nil {
		return Marker{}, err
	}
	for p.keyword("and") {
		o, err := p.parseAtom()
		if err != nil {
			return Marker{}, err
		}
		m = m.And(o)
	}
	return m, nil
}

type operand struct {
	isVar bool
	text  string
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return operand{text: t.text}, nil
	case tokIdent:
		switch t.text {
		case "and", "or", "not", "in":
			return operand{}, p.errorf(t, "expected a marker variable or string, found %q", t.text)
		}
		return operand{isVar: true, text: t.text}, nil
	}
	return operand{}, p.errorf(t, "expected a marker variable or string")
}

func (p *parser) parseOp() (string, error) {
	t := p.next()
	switch {
	case t.kind == tokOp:
		return t.text, nil
	case t.kind == tokIdent && t.text == "in":
		return "in", nil
	case t.kind == tokIdent && t.text == "not":
		if !p.keyword("in") {
			return "", p.errorf(p.peek(), "expected \"in\" after \"not\"")
		}
		return "not in", nil
	}
	return "", p.errorf(t, "expected a comparison operator")
}

func (p *parser) parseAtom() (Marker, error) {
	if p.peek().kind == tokLParen {
		p.next()
		m, err := p.parseOr()
		if err != nil {
			return Marker{}, err
		}
		if t := p.next(); t.kind != tokRParen {
			return Marker{}, p.errorf(t, "expected \")\"")
		}
		return m, nil
	}

	start := p.peek()
	lhs, err := p.parseOperand()
	if err != nil {
		return Marker{}, err
	}
	op, err := p.parseOp()
	if err != nil {
		return Marker{}, err
	}
	rhs, err := p.parseOperand()
	if err != nil {
		return Marker{}, err
	}

	switch {
	case lhs.isVar && rhs.isVar:
		return Marker{}, p.errorf(start, "comparison between two variables")
	case !lhs.isVar && !rhs.isVar:
		if evalStrings(lhs.text, op, rhs.text) {
			return True(), nil
		}
		return False(), nil
	case lhs.isVar:
		return comparison(axisOf(lhs.text), op, rhs.text, false), nil
	}
	return comparison(axisOf(rhs.text), op, lhs.text, true), nil
}

func axisOf(name string) Axis {
	if a, ok := legacyAxes[name]; ok {
		return a
	}
	return Axis(name)
}

var reversedOps = map[string]string{
	"<": ">", ">": "<", "<=": ">=", ">=": "<=", "==": "==", "!=": "!=", "===": "===",
}

// comparison builds the marker for one "axis op value" test. valueFirst is
// set when the literal appeared on the left.
func comparison(axis Axis, op, value string, valueFirst bool) Marker {
	origAxis, origOp := axis, op
	opaque := func() Marker {
		return atomMarker(domain{
			axis: origAxis,
			kind: kindOpaque,
			ss:   strSet{vals: []string{truth}},
			atom: opaqueAtom{axis: origAxis, op: origOp, value: value, valueFirst: valueFirst},
		})
	}

	kind, known := knownAxes[axis]
	if !known || op == "in" || op == "not in" {
		return opaque()
	}
	if valueFirst {
		r, ok := reversedOps[op]
		if !ok {
			return opaque()
		}
		op = r
	}

	if kind == kindString {
		if axis == Extra {
			value = normalizeExtra(value)
		}
		switch op {
		case "==", "===":
			return atomMarker(domain{axis: axis, kind: kindString, ss: strSet{vals: []string{value}}})
		case "!=":
			return atomMarker(domain{axis: axis, kind: kindString, ss: strSet{neg: true, vals: []string{value}}})
		}
		return opaque()
	}

	var set pep440.VersionSet
	var ok bool
	if axis == PythonVersion {
		set, ok = pythonVersionSet(op, value)
		axis = PythonFullVersion
	} else {
		set, ok = specifierSet(op, value)
	}
	if !ok {
		return opaque()
	}
	if axis == PythonFullVersion && set.Subset(pep440.Below(pep440.FromRelease(0).Floor())) {
		return False()
	}
	return atomMarker(domain{axis: axis, kind: kindVersion, vs: set})
}

func specifierSet(op, value string) (pep440.VersionSet, bool) {
	spec, err := pep440.ParseSpecifier(op + value)
	if err != nil {
		return pep440.VersionSet{}, false
	}
	return spec.VersionSet(), true
}

// pythonVersionSet maps a python_version comparison onto python_full_version.
// python_version is the "X.Y" prefix of the full version, so "== 3.8" covers
// every 3.8.z release including its pre-releases.
func pythonVersionSet(op, value string) (pep440.VersionSet, bool) {
	wildcard := strings.HasSuffix(value, ".*")
	v, err := pep440.Parse(strings.TrimSuffix(value, ".*"))
	if err != nil {
		return pep440.VersionSet{}, false
	}
	rel := v.Release()
	if len(rel) > 2 || v.IsPrerelease() || v.IsPost() || v.IsLocal() {
		return specifierSet(op, value)
	}
	if len(rel) == 1 && wildcard {
		// "3.*" covers every 3.y.
		lo := pep440.FromRelease(rel[0]).Floor()
		hi := pep440.FromRelease(rel[0] + 1).Floor()
		switch op {
		case "==":
			return pep440.Between(lo, hi), true
		case "!=":
			return pep440.Between(lo, hi).Complement(), true
		}
		return pep440.VersionSet{}, false
	}
	if len(rel) == 1 {
		rel = append(rel, 0)
	}

	lo := pep440.FromRelease(rel[0], rel[1]).Floor()
	next := pep440.FromRelease(rel[0], rel[1]+1).Floor()
	switch op {
	case "==", "===":
		return pep440.Between(lo, next), true
	case "!=":
		return pep440.Between(lo, next).Complement(), true
	case ">=":
		return pep440.AtLeast(lo), true
	case ">":
		return pep440.AtLeast(next), true
	case "<":
		return pep440.Below(lo), true
	case "<=":
		return pep440.Below(next), true
	case "~=":
		return pep440.Between(lo, pep440.FromRelease(rel[0]+1).Floor()), true
	}
	return pep440.VersionSet{}, false
}

// evalStrings evaluates a comparison between two literals, or an opaque
// comparison against a concrete environment value.
func evalStrings(lhs, op, rhs string) bool {
	switch op {
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	}

	if spec, err := pep440.ParseSpecifier(op + rhs); err == nil {
		if v, err := pep440.Parse(lhs); err == nil {
			return pep440.Specifiers{spec}.Contains(v)
		}
	}

	switch op {
	case "==", "===":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	}
	return false
}
