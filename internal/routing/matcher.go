package routing

import (
	"strings"
	"sync"
)

// Matcher finds the first rule matching a record. It caches parsed SOQL
// expressions so repeated routing calls do not re-parse unchanged rules.
//
// Matcher is safe for concurrent use.
type Matcher struct {
	compiled map[string]*compiledExpression
	mu       sync.RWMutex
}

// compiledExpression is a parsed expression keyed by rule ID. The source
// text is kept so rule edits invalidate the cache entry.
type compiledExpression struct {
	source string
	expr   Expr
	err    error
}

func NewMatcher() *Matcher {
	return &Matcher{
		compiled: make(map[string]*compiledExpression),
	}
}

// FindMatch iterates rules in order (callers pass them pre-sorted ascending
// by priority with ties in creation order) and returns the first active,
// object-compatible rule whose condition set evaluates true, along with the
// audit capture of its matched conditions. First-match-wins: no scoring, no
// best match. Returns nil when nothing matches; the caller records the
// contact as unrouted rather than retrying.
//
// Matching is read-only. Match counters are bumped by the recorder, never
// here.
func (m *Matcher) FindMatch(rules []*Rule, objectType ObjectType, rec Record) *Match {
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if !objectCompatible(rule.ObjectType, objectType) {
			continue
		}
		if matched, conds := m.EvaluateRule(rule, rec); matched {
			return &Match{Rule: rule, Conditions: conds}
		}
	}
	return nil
}

// EvaluateRule tests one rule's condition set against a record and returns
// the matched-condition capture on success. A malformed expression fails
// closed: the rule simply does not match.
func (m *Matcher) EvaluateRule(rule *Rule, rec Record) (bool, []MatchedCondition) {
	if rule.Expression != "" {
		expr, err := m.compile(rule)
		if err != nil {
			return false, nil
		}
		var matched []MatchedCondition
		if expr.eval(rec, &matched) {
			return true, matched
		}
		return false, nil
	}
	return evaluateConditionSet(rule, rec)
}

// evaluateConditionSet applies the JSON condition-set semantics: AND is
// short-circuit-false, OR is short-circuit-true, evaluated left to right.
// An empty condition list matches only for an explicit catch-all rule.
func evaluateConditionSet(rule *Rule, rec Record) (bool, []MatchedCondition) {
	conds := rule.Conditions.Conditions
	if len(conds) == 0 {
		return rule.CatchAll, nil
	}

	logic := strings.ToUpper(rule.Conditions.ConditionLogic)
	if logic == "" {
		logic = "AND"
	}

	if logic == "OR" {
		for _, c := range conds {
			if Evaluate(c, rec) {
				return true, []MatchedCondition{capture(c, rec)}
			}
		}
		return false, nil
	}

	matched := make([]MatchedCondition, 0, len(conds))
	for _, c := range conds {
		if !Evaluate(c, rec) {
			return false, nil
		}
		matched = append(matched, capture(c, rec))
	}
	return true, matched
}

func capture(c Condition, rec Record) MatchedCondition {
	return MatchedCondition{
		Field:    c.Field,
		Operator: string(c.Operator),
		Expected: c.Value,
		Actual:   rec[c.Field],
	}
}

func (m *Matcher) compile(rule *Rule) (Expr, error) {
	m.mu.RLock()
	cached, ok := m.compiled[rule.ID]
	m.mu.RUnlock()

	if ok && cached.source == rule.Expression {
		return cached.expr, cached.err
	}

	expr, err := ParseExpression(rule.Expression)
	m.mu.Lock()
	m.compiled[rule.ID] = &compiledExpression{source: rule.Expression, expr: expr, err: err}
	m.mu.Unlock()
	return expr, err
}

// Invalidate drops the cached expression for a rule, for use after rule
// deletion. Edits invalidate themselves via the source-text check.
func (m *Matcher) Invalidate(ruleID string) {
	m.mu.Lock()
	delete(m.compiled, ruleID)
	m.mu.Unlock()
}

func objectCompatible(ruleType, recordType ObjectType) bool {
	if ruleType == "" || ruleType == ObjectBoth {
		return true
	}
	return ruleType == recordType
}
