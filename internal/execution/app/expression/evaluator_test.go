package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	vars := map[string]interface{}{
		"a":      1,
		"b":      1.0,
		"status": "open",
		"count":  "10",
		"flag":   true,
		"empty":  nil,
		"order": map[string]interface{}{
			"total": 250.5,
			"customer": map[string]interface{}{
				"tier": "gold",
			},
		},
		"order.legacy": "direct",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"literal true", "true", true},
		{"literal false", "false", false},
		{"blank", "   ", false},
		{"numeric greater", "5 > 3", true},
		{"numeric less", "5 < 3", false},
		{"strict equal across int and float", "a === b", true},
		{"strict not equal", "a !== b", false},
		{"string equality single quotes", "status === 'open'", true},
		{"string equality double quotes", `status === "closed"`, false},
		{"no spaces", "a===1", true},
		{"greater or equal", "order.total >= 250.5", true},
		{"less or equal", "order.total <= 100", false},
		{"nested path", "order.customer.tier == 'gold'", true},
		{"direct key fallback", "order.legacy === 'direct'", true},
		{"strict rejects string vs number", "count === 10", false},
		{"loose coerces string to number", "count == 10", true},
		{"loose not equal", "count != 10", false},
		{"string relational is lexical", "count > '9'", false},
		{"mixed relational is numeric", "count > 9", true},
		{"boolean literal", "flag === true", true},
		{"null strict", "empty === null", true},
		{"null loose undefined", "empty == undefined", true},
		{"null strict undefined", "empty === undefined", false},
		{"unresolved path is undefined", "missing.path === undefined", true},
		{"both unresolved strict", "missing === nothing", true},
		{"unresolved compared to value", "missing.path === 'x'", false},
		{"unresolved relational", "missing > 1", false},
		{"operator inside quotes", "status !== 'a>b'", true},
		{"conjunction unsupported", "x && y", false},
		{"disjunction unsupported", "a === 1 || b === 1", false},
		{"parentheses unsupported", "(a === 1)", false},
		{"function call unsupported", "len(status) > 1", false},
		{"chained comparison unsupported", "1 < a < 3", false},
		{"bare variable unsupported", "flag", false},
		{"assignment unsupported", "a = 1", false},
		{"missing operand", "a ===", false},
		{"unterminated quote", "status === 'open", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.expr, vars))
		})
	}
}

func TestResolve(t *testing.T) {
	vars := map[string]interface{}{"user": map[string]interface{}{"name": "ada"}}

	assert.Equal(t, "ada", Resolve("user.name", vars))
	assert.Equal(t, 42.0, Resolve("42", vars))
	assert.Equal(t, "it's", Resolve(`'it\'s'`, vars))
	assert.Nil(t, Resolve("null", vars))
	assert.Equal(t, Undefined, Resolve("user.age", vars))
	assert.Equal(t, Undefined, Resolve("undefined", vars))
}

func TestEvaluateNilVariables(t *testing.T) {
	assert.True(t, Evaluate("x === undefined", nil))
	assert.False(t, Evaluate("x > 0", nil))
}
