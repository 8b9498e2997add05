package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_StringOperators(t *testing.T) {
	rec := Record{
		"LeadSource": "Web",
		"LastName":   "Nakamura",
		"Company":    "Acme Corp",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals exact", Condition{"LeadSource", OpEquals, "Web"}, true},
		{"equals case-insensitive", Condition{"LeadSource", OpEquals, "WEB"}, true},
		{"equals mismatch", Condition{"LeadSource", OpEquals, "Phone"}, false},
		{"notEquals", Condition{"LeadSource", OpNotEquals, "Phone"}, true},
		{"notEquals case-insensitive", Condition{"LeadSource", OpNotEquals, "web"}, false},
		{"contains", Condition{"Company", OpContains, "acme"}, true},
		{"contains mismatch", Condition{"Company", OpContains, "globex"}, false},
		{"notContains", Condition{"Company", OpNotContains, "globex"}, true},
		{"startsWith", Condition{"LastName", OpStartsWith, "naka"}, true},
		{"startsWith mismatch", Condition{"LastName", OpStartsWith, "mura"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, rec))
		})
	}
}

func TestEvaluate_BlankAndPresent(t *testing.T) {
	rec := Record{
		"Email": "dana@example.com",
		"Phone": "",
		"Fax":   nil,
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"present value", Condition{"Email", OpIsPresent, ""}, true},
		{"present empty string", Condition{"Phone", OpIsPresent, ""}, false},
		{"present nil", Condition{"Fax", OpIsPresent, ""}, false},
		{"present missing field", Condition{"Mobile", OpIsPresent, ""}, false},
		{"blank value", Condition{"Email", OpIsBlank, ""}, false},
		{"blank empty string", Condition{"Phone", OpIsBlank, ""}, true},
		{"blank nil", Condition{"Fax", OpIsBlank, ""}, true},
		{"blank missing field", Condition{"Mobile", OpIsBlank, ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, rec))
		})
	}
}

func TestEvaluate_NumericOperators(t *testing.T) {
	rec := Record{
		"AnnualRevenue": float64(500000),
		"NumEmployees":  "42",
		"Rating":        "hot", // non-numeric coerces to 0
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"greaterThan true", Condition{"AnnualRevenue", OpGreaterThan, "100000"}, true},
		{"greaterThan false", Condition{"AnnualRevenue", OpGreaterThan, "1000000"}, false},
		{"lessThan string number", Condition{"NumEmployees", OpLessThan, "100"}, true},
		{"lessThan equal is false", Condition{"NumEmployees", OpLessThan, "42"}, false},
		// Non-numeric operands coerce to 0 on either side
		{"non-numeric actual coerces to 0", Condition{"Rating", OpLessThan, "5"}, true},
		{"non-numeric expected coerces to 0", Condition{"AnnualRevenue", OpGreaterThan, "lots"}, true},
		{"missing field coerces to 0", Condition{"Score", OpLessThan, "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, rec))
		})
	}
}

func TestEvaluate_ValueRendering(t *testing.T) {
	rec := Record{
		"Count":    float64(10), // JSON decodes integers as float64
		"Fraction": 2.5,
		"Active":   true,
	}

	assert.True(t, Evaluate(Condition{"Count", OpEquals, "10"}, rec))
	assert.True(t, Evaluate(Condition{"Fraction", OpEquals, "2.5"}, rec))
	assert.True(t, Evaluate(Condition{"Active", OpEquals, "true"}, rec))
}

func TestEvaluateErr_FailsClosed(t *testing.T) {
	rec := Record{"LeadSource": "Web"}

	ok, err := EvaluateErr(Condition{"", OpEquals, "Web"}, rec)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMalformedCondition)

	ok, err = EvaluateErr(Condition{"LeadSource", Operator("between"), "a"}, rec)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	// Evaluate collapses the same cases to false without panicking
	assert.False(t, Evaluate(Condition{"", OpEquals, "Web"}, rec))
	assert.False(t, Evaluate(Condition{"LeadSource", Operator("between"), "a"}, rec))
}

func TestEvaluate_NilRecord(t *testing.T) {
	assert.False(t, Evaluate(Condition{"LeadSource", OpEquals, "Web"}, nil))
	assert.True(t, Evaluate(Condition{"LeadSource", OpIsBlank, ""}, nil))
}
