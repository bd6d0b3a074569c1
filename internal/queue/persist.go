package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/offsync/opqueue/internal/domain"
)

// Store is the persistence collaborator. Absence of a key on Load is
// not an error; it means empty-queue startup.
type Store interface {
	Save(key string, value []byte) error
	Load(key string) ([]byte, bool, error)
}

// DefaultPersistKey is the snapshot key used when none is configured.
const DefaultPersistKey = "queue:snapshot"

type snapshot struct {
	Seq   uint64         `json:"seq"`
	Items []*domain.Item `json:"items"`
}

// persistLocked writes the current queue state to the store. Callers
// must hold q.mu. Persistence failures are logged, never fatal: the
// queue keeps serving from memory.
func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}

	snap := snapshot{Seq: q.seq, Items: make([]*domain.Item, 0, len(q.items))}
	for _, item := range q.items {
		snap.Items = append(snap.Items, item)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		q.logger.Error("Failed to marshal queue snapshot",
			slog.String("error", err.Error()),
		)
		return
	}

	if err := q.store.Save(q.persistKey, data); err != nil {
		q.logger.Warn("Failed to persist queue snapshot",
			slog.String("key", q.persistKey),
			slog.String("error", err.Error()),
		)
	}
}

// restore loads the persisted snapshot. Items that were mid-flight when
// the process died come back as pending so they dispatch again.
func (q *Queue) restore() error {
	if q.store == nil {
		return nil
	}

	data, ok, err := q.store.Load(q.persistKey)
	if err != nil {
		return fmt.Errorf("failed to load queue snapshot: %w", err)
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode queue snapshot: %w", err)
	}

	q.seq = snap.Seq
	restored := 0
	for _, item := range snap.Items {
		if item.Status == domain.StatusProcessing {
			item.Status = domain.StatusPending
		}
		q.items[item.ID] = item
		if item.Active() {
			q.active++
		}
		q.memBytes += itemBytes(item)
		restored++
	}

	q.logger.Info("Queue snapshot restored",
		slog.String("key", q.persistKey),
		slog.Int("items", restored),
	)
	return nil
}

func itemBytes(item *domain.Item) int64 {
	n := int64(len(item.ID) + len(item.Operation.Type) + len(item.Operation.Payload))
	for k, v := range item.Metadata {
		n += int64(len(k) + len(v))
	}
	return n
}
