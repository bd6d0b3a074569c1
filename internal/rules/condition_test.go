package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCondition_Eval(t *testing.T) {
	fields := map[string]interface{}{
		"error_rate":  0.25,
		"queue_size":  42,
		"type":        "sync_note",
		"utilization": 0.9,
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{
			name: "gt holds",
			cond: Condition{Field: "error_rate", Op: OpGT, Value: 0.1},
			want: true,
		},
		{
			name: "gt does not hold",
			cond: Condition{Field: "error_rate", Op: OpGT, Value: 0.5},
			want: false,
		},
		{
			name: "gte on equal value",
			cond: Condition{Field: "utilization", Op: OpGTE, Value: 0.9},
			want: true,
		},
		{
			name: "lt with int field and float literal",
			cond: Condition{Field: "queue_size", Op: OpLT, Value: 100.0},
			want: true,
		},
		{
			name: "lte boundary",
			cond: Condition{Field: "queue_size", Op: OpLTE, Value: 42},
			want: true,
		},
		{
			name: "numeric eq",
			cond: Condition{Field: "queue_size", Op: OpEQ, Value: 42},
			want: true,
		},
		{
			name: "numeric ne",
			cond: Condition{Field: "queue_size", Op: OpNE, Value: 42},
			want: false,
		},
		{
			name: "string eq",
			cond: Condition{Field: "type", Op: OpEQ, Value: "sync_note"},
			want: true,
		},
		{
			name: "string ne",
			cond: Condition{Field: "type", Op: OpNE, Value: "sync_photo"},
			want: true,
		},
		{
			name: "string with ordering operator is false",
			cond: Condition{Field: "type", Op: OpGT, Value: "a"},
			want: false,
		},
		{
			name: "missing field is false",
			cond: Condition{Field: "missing", Op: OpEQ, Value: 1},
			want: false,
		},
		{
			name: "type mismatch is false",
			cond: Condition{Field: "queue_size", Op: OpEQ, Value: "42"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Eval(fields))
		})
	}
}

func TestPredicate_Eval(t *testing.T) {
	fields := map[string]interface{}{
		"type":     "sync_note",
		"attempts": 2,
	}

	all := Predicate{
		{Field: "type", Op: OpEQ, Value: "sync_note"},
		{Field: "attempts", Op: OpLT, Value: 5},
	}
	assert.True(t, all.Eval(fields))

	oneFails := Predicate{
		{Field: "type", Op: OpEQ, Value: "sync_note"},
		{Field: "attempts", Op: OpGT, Value: 5},
	}
	assert.False(t, oneFails.Eval(fields))

	assert.True(t, Predicate{}.Eval(fields), "empty predicate matches everything")
}

func TestOperator_Valid(t *testing.T) {
	for _, op := range []Operator{OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE} {
		assert.True(t, op.Valid())
	}
	assert.False(t, Operator("contains").Valid())
}
