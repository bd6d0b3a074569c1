// Package batch coalesces bursts of similar operations into single
// queue items before admission, reducing queue churn for identical
// workloads.
package batch

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/rules"
)

// Strategy describes one coalescing rule: operations matching the
// predicate, grouped by type, collapse into a single operation once a
// group reaches MinCount.
type Strategy struct {
	Name     string
	Match    rules.Predicate
	MinCount int
}

// Optimizer applies coalescing strategies to batches of operations.
type Optimizer struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New creates an optimizer. With no strategies it passes batches
// through untouched.
func New(strategies []Strategy, logger *slog.Logger) *Optimizer {
	return &Optimizer{strategies: strategies, logger: logger}
}

// coalescedPayload is the payload of a merged operation.
type coalescedPayload struct {
	Count    int               `json:"count"`
	Payloads []json.RawMessage `json:"payloads"`
}

// Apply returns the batch with matching groups replaced by coalesced
// operations. Order of untouched operations is preserved; a coalesced
// operation takes the position of the first member of its group.
func (o *Optimizer) Apply(ops []domain.Operation) []domain.Operation {
	if len(o.strategies) == 0 || len(ops) < 2 {
		return ops
	}

	type group struct {
		strategy *Strategy
		indices  []int
	}
	groups := make(map[string]*group)

	for i := range ops {
		if s := o.match(&ops[i]); s != nil {
			key := s.Name + "\x00" + ops[i].Type
			g, ok := groups[key]
			if !ok {
				g = &group{strategy: s}
				groups[key] = g
			}
			g.indices = append(g.indices, i)
		}
	}

	merged := make(map[int]domain.Operation) // first index -> coalesced op
	dropped := make(map[int]bool)

	for _, g := range groups {
		if len(g.indices) < g.strategy.MinCount {
			continue
		}

		payload := coalescedPayload{Count: len(g.indices)}
		for _, idx := range g.indices {
			payload.Payloads = append(payload.Payloads, ops[idx].Payload)
			dropped[idx] = true
		}
		data, err := json.Marshal(payload)
		if err != nil {
			o.logger.Error("Failed to encode coalesced payload",
				slog.String("strategy", g.strategy.Name),
				slog.String("error", err.Error()),
			)
			for _, idx := range g.indices {
				delete(dropped, idx)
			}
			continue
		}

		first := g.indices[0]
		merged[first] = domain.Operation{
			ID:      uuid.NewString(),
			Type:    ops[first].Type,
			Payload: data,
			Metadata: map[string]string{
				"coalesced":       "true",
				"coalesced_by":    g.strategy.Name,
				"coalesced_count": itoa(len(g.indices)),
			},
		}

		o.logger.Info("Coalesced operations",
			slog.String("strategy", g.strategy.Name),
			slog.String("type", ops[first].Type),
			slog.Int("count", len(g.indices)),
		)
	}

	if len(merged) == 0 {
		return ops
	}

	out := make([]domain.Operation, 0, len(ops))
	for i := range ops {
		if op, ok := merged[i]; ok {
			out = append(out, op)
			continue
		}
		if !dropped[i] {
			out = append(out, ops[i])
		}
	}
	return out
}

func (o *Optimizer) match(op *domain.Operation) *Strategy {
	fields := map[string]interface{}{
		"type": op.Type,
	}
	for k, v := range op.Metadata {
		fields["metadata."+k] = v
	}

	for i := range o.strategies {
		if o.strategies[i].Match.Eval(fields) {
			return &o.strategies[i]
		}
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
