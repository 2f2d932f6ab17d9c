// Package expression evaluates the single-comparison conditions used by
// condition nodes. Evaluation never fails: anything outside the grammar is
// false.
package expression

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Undefined is the value of an operand that resolves to nothing. It is
// distinct from nil, which is an explicit null.
var Undefined = undefined{}

type undefined struct{}

// Ordered so that longer operators win at the same position.
var operators = []string{"===", "!==", "==", "!=", ">=", "<=", ">", "<"}

var numberLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Evaluate reports whether expr holds against vars.
func Evaluate(expr string, vars map[string]interface{}) bool {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "true":
		return true
	case "false", "":
		return false
	}

	left, op, right, ok := split(expr)
	if !ok {
		return false
	}

	return compare(Resolve(left, vars), op, Resolve(right, vars))
}

// split finds the one comparison operator outside quotes. Connectives,
// grouping and a second operator all reject the expression.
func split(expr string) (left, op, right string, ok bool) {
	opAt := -1
	var quote byte

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			quote = c
			continue
		case '(', ')':
			return "", "", "", false
		case '&', '|':
			if i+1 < len(expr) && expr[i+1] == c {
				return "", "", "", false
			}
		}

		matched := matchOperator(expr[i:])
		if matched == "" {
			continue
		}
		if opAt >= 0 {
			return "", "", "", false
		}
		opAt, op = i, matched
		i += len(matched) - 1
	}

	if opAt < 0 || quote != 0 {
		return "", "", "", false
	}

	left = strings.TrimSpace(expr[:opAt])
	right = strings.TrimSpace(expr[opAt+len(op):])
	if left == "" || right == "" {
		return "", "", "", false
	}
	return left, op, right, true
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

// Resolve turns one operand into a value: a keyword literal, a quoted
// string, a number, or a variable reference.
func Resolve(operand string, vars map[string]interface{}) interface{} {
	operand = strings.TrimSpace(operand)

	switch operand {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	case "undefined":
		return Undefined
	}

	if len(operand) >= 2 {
		first, last := operand[0], operand[len(operand)-1]
		if (first == '\'' || first == '"' || first == '`') && first == last {
			return unescape(operand[1 : len(operand)-1])
		}
	}

	if numberLiteral.MatchString(operand) {
		if n, err := strconv.ParseFloat(operand, 64); err == nil {
			return n
		}
	}

	if v, ok := Lookup(vars, operand); ok {
		return v
	}
	if v, ok := vars[operand]; ok {
		return v
	}
	return Undefined
}

// Lookup walks a dot-separated path through nested maps.
func Lookup(vars map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func compare(a interface{}, op string, b interface{}) bool {
	switch op {
	case "===":
		return strictEquals(a, b)
	case "!==":
		return !strictEquals(a, b)
	case "==":
		return looseEquals(a, b)
	case "!=":
		return !looseEquals(a, b)
	}

	// Relational operators compare strings lexically and everything else
	// numerically. NaN on either side is false.
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch op {
			case ">":
				return as > bs
			case "<":
				return as < bs
			case ">=":
				return as >= bs
			case "<=":
				return as <= bs
			}
		}
	}

	x, y := toNumber(a), toNumber(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch op {
	case ">":
		return x > y
	case "<":
		return x < y
	case ">=":
		return x >= y
	case "<=":
		return x <= y
	}
	return false
}

func strictEquals(a, b interface{}) bool {
	switch av := a.(type) {
	case undefined:
		_, ok := b.(undefined)
		return ok
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}

	if x, ok := numeric(a); ok {
		y, ok := numeric(b)
		return ok && x == y
	}
	// Objects and arrays have identity semantics; two resolved values are
	// never the same reference.
	return false
}

func looseEquals(a, b interface{}) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if strictEquals(a, b) {
		return true
	}

	_, aNum := numeric(a)
	_, bNum := numeric(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	_, aBool := a.(bool)
	_, bBool := b.(bool)

	if (aNum || aStr || aBool) && (bNum || bStr || bBool) {
		x, y := toNumber(a), toNumber(b)
		return !math.IsNaN(x) && x == y
	}
	return false
}

func isNullish(v interface{}) bool {
	if v == nil {
		return true
	}
	_, ok := v.(undefined)
	return ok
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toNumber(v interface{}) float64 {
	if n, ok := numeric(v); ok {
		return n
	}
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil && numberLiteral.MatchString(s) {
			return n
		}
	}
	return math.NaN()
}
