package storage

import "github.com/loomnotes/oracle/internal/oracle"

// Recorder adapts a Store to the oracle's history write-through hook.
type Recorder struct {
	store *Store
}

// NewRecorder wraps store for use as an oracle.HistoryRecorder.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Record persists one completed query.
func (r *Recorder) Record(entry oracle.HistoryEntry) error {
	return r.store.SaveQuery(QueryRecord{
		ID:       entry.ID,
		Question: entry.Question,
		AskedAt:  entry.Timestamp,
		Success:  entry.Success,
	})
}
