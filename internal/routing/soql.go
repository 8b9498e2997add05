package routing

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// This file implements the free-text SOQL-like condition dialect used for
// CRM-sourced rules:
//
//	Field (=|!=|LIKE|IN|>|>=|<|<=) 'value'
//
// joined by case-insensitive AND / OR tokens, with `= null` / `!= null`
// null tests and single-quoted string literals. The dialect is parsed by a
// small recursive-descent parser into a typed AST rather than matched with
// regexes, so malformed input is a structured parse error and parenthesized
// groups work.
//
// Precedence without parentheses: OR binds tighter than AND, i.e.
// `A OR B AND C` reads as `(A OR B) AND C`. This mirrors the evaluation
// order operators expect from the condition builder, where conditions are
// grouped by top-level AND with OR applied within each segment.

// Expr is a parsed condition expression node.
type Expr interface {
	// eval tests the node against a record, appending every comparison that
	// evaluated true to matched (when non-nil) for audit capture.
	eval(rec Record, matched *[]MatchedCondition) bool
}

// AndExpr evaluates true only if both sides do. Short-circuits on false.
type AndExpr struct {
	Left, Right Expr
}

func (e *AndExpr) eval(rec Record, matched *[]MatchedCondition) bool {
	return e.Left.eval(rec, matched) && e.Right.eval(rec, matched)
}

// OrExpr evaluates true if either side does. Short-circuits on true.
type OrExpr struct {
	Left, Right Expr
}

func (e *OrExpr) eval(rec Record, matched *[]MatchedCondition) bool {
	return e.Left.eval(rec, matched) || e.Right.eval(rec, matched)
}

// ComparisonExpr is a single field comparison leaf.
type ComparisonExpr struct {
	Field string
	Op    string // =, !=, LIKE, IN, >, >=, <, <=
	Value string
	Null  bool     // true for `= null` / `!= null` forms
	List  []string // populated for IN
}

func (e *ComparisonExpr) eval(rec Record, matched *[]MatchedCondition) bool {
	raw, exists := rec[e.Field]
	actual := valueToString(raw)
	blank := !exists || raw == nil || actual == ""

	var result bool
	switch {
	case e.Null && e.Op == "=":
		result = blank
	case e.Null && e.Op == "!=":
		result = !blank
	default:
		switch e.Op {
		case "=":
			result = strings.EqualFold(actual, e.Value)
		case "!=":
			result = !strings.EqualFold(actual, e.Value)
		case "LIKE":
			result = likeMatch(e.Value, actual)
		case "IN":
			for _, v := range e.List {
				if strings.EqualFold(actual, v) {
					result = true
					break
				}
			}
		case ">":
			result = coerceFloat(actual) > coerceFloat(e.Value)
		case ">=":
			result = coerceFloat(actual) >= coerceFloat(e.Value)
		case "<":
			result = coerceFloat(actual) < coerceFloat(e.Value)
		case "<=":
			result = coerceFloat(actual) <= coerceFloat(e.Value)
		}
	}

	if result && matched != nil {
		expected := e.Value
		if e.Null {
			expected = "null"
		} else if e.Op == "IN" {
			expected = strings.Join(e.List, ",")
		}
		*matched = append(*matched, MatchedCondition{
			Field:    e.Field,
			Operator: e.Op,
			Expected: expected,
			Actual:   raw,
		})
	}
	return result
}

// likeMatch implements SOQL LIKE: % maps to .* in a full-string-anchored,
// case-insensitive match. `N%` means starts-with, `%smith%` means contains.
func likeMatch(pattern, value string) bool {
	parts := strings.Split(pattern, "%")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// EvaluateExpression parses and evaluates a SOQL-dialect expression against
// a record. Parse failures fail closed (false, error); callers at the rule
// boundary discard the error per the fail-open-per-condition policy.
func EvaluateExpression(expr string, rec Record) (bool, error) {
	parsed, err := ParseExpression(expr)
	if err != nil {
		return false, err
	}
	return parsed.eval(rec, nil), nil
}

// ParseExpression parses the SOQL dialect into an AST.
func ParseExpression(input string) (Expr, error) {
	toks, err := lexExpression(input)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: toks}
	expr, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedCondition, p.peek().text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp // = != > >= < <=
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func lexExpression(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '\'':
			// Single-quoted literal; '' escapes a quote.
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string literal", ErrMalformedCondition)
			}
			toks = append(toks, token{tokString, sb.String()})
		case c == '=':
			toks = append(toks, token{tokOp, "="})
			i++
		case c == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokOp, "!="})
				i += 2
			} else {
				return nil, fmt.Errorf("%w: stray '!'", ErrMalformedCondition)
			}
		case c == '>' || c == '<':
			op := string(c)
			i++
			if i < len(runes) && runes[i] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op})
		case unicode.IsDigit(c) || c == '-' || c == '.':
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, string(runes[start:i])})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{tokIdent, string(runes[start:i])})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrMalformedCondition, string(c))
		}
	}
	return toks, nil
}

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *exprParser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

// parseAnd handles the loosest-binding level: AND-joined OR groups.
func (p *exprParser) parseAnd() (Expr, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		left = &AndExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseOr() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &OrExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		expr, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrMalformedCondition)
		}
		p.next()
		return expr, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (Expr, error) {
	field := p.peek()
	if field.kind != tokIdent {
		return nil, fmt.Errorf("%w: expected field name, got %q", ErrMalformedCondition, field.text)
	}
	p.next()

	cmp := &ComparisonExpr{Field: field.text}

	switch t := p.peek(); {
	case t.kind == tokOp:
		cmp.Op = p.next().text
	case t.kind == tokIdent && strings.EqualFold(t.text, "LIKE"):
		p.next()
		cmp.Op = "LIKE"
	case t.kind == tokIdent && strings.EqualFold(t.text, "IN"):
		p.next()
		cmp.Op = "IN"
		return p.parseInList(cmp)
	default:
		return nil, fmt.Errorf("%w: expected operator after %q", ErrMalformedCondition, field.text)
	}

	val := p.peek()
	switch {
	case val.kind == tokString || val.kind == tokNumber:
		cmp.Value = p.next().text
	case val.kind == tokIdent && strings.EqualFold(val.text, "null"):
		p.next()
		if cmp.Op != "=" && cmp.Op != "!=" {
			return nil, fmt.Errorf("%w: null only valid with = or !=", ErrMalformedCondition)
		}
		cmp.Null = true
	default:
		return nil, fmt.Errorf("%w: expected value after operator %s", ErrMalformedCondition, cmp.Op)
	}
	return cmp, nil
}

func (p *exprParser) parseInList(cmp *ComparisonExpr) (Expr, error) {
	if p.peek().kind != tokLParen {
		return nil, fmt.Errorf("%w: IN requires a parenthesized list", ErrMalformedCondition)
	}
	p.next()
	for {
		v := p.peek()
		if v.kind != tokString && v.kind != tokNumber {
			return nil, fmt.Errorf("%w: expected literal in IN list", ErrMalformedCondition)
		}
		cmp.List = append(cmp.List, p.next().text)

		switch p.peek().kind {
		case tokComma:
			p.next()
		case tokRParen:
			p.next()
			return cmp, nil
		default:
			return nil, fmt.Errorf("%w: unterminated IN list", ErrMalformedCondition)
		}
	}
}
