// Package rules implements the closed predicate language used by alert
// rules and batch-optimization strategies. A condition is a tagged
// (field, operator, literal) triple evaluated by a small interpreter;
// caller-supplied code is never executed.
package rules

// Operator compares a field value against a literal.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNE  Operator = "ne"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE:
		return true
	}
	return false
}

// Condition is one field comparison. Value may be a numeric type or a
// string; ordering operators require a numeric value on both sides.
type Condition struct {
	Field string      `yaml:"field" json:"field"`
	Op    Operator    `yaml:"op" json:"op"`
	Value interface{} `yaml:"value" json:"value"`
}

// Eval evaluates the condition against a field map. A missing field or
// a type mismatch evaluates to false.
func (c Condition) Eval(fields map[string]interface{}) bool {
	got, ok := fields[c.Field]
	if !ok {
		return false
	}

	if gn, ok := toFloat(got); ok {
		wn, ok := toFloat(c.Value)
		if !ok {
			return false
		}
		return compareFloat(gn, c.Op, wn)
	}

	gs, ok := got.(string)
	if !ok {
		return false
	}
	ws, ok := c.Value.(string)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEQ:
		return gs == ws
	case OpNE:
		return gs != ws
	}
	return false
}

// Predicate is a conjunction of conditions; all must hold. An empty
// predicate matches everything.
type Predicate []Condition

// Eval reports whether every condition holds for the field map.
func (p Predicate) Eval(fields map[string]interface{}) bool {
	for _, c := range p {
		if !c.Eval(fields) {
			return false
		}
	}
	return true
}

func compareFloat(a float64, op Operator, b float64) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
