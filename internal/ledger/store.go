package ledger

import (
	"context"
	"slices"
	"sync"
)

// RecordStore persists ledger records.
//
// Put stores rec when the stored version equals expected (zero meaning the
// key must not exist yet) and returns the record with its new version. A
// mismatch returns ErrVersionConflict.
type RecordStore interface {
	GetSubscription(ctx context.Context, key Key) (Record, bool, error)
	PutSubscription(ctx context.Context, rec Record, expected int64) (Record, error)
	ListSubscriptions(ctx context.Context, statuses ...Status) ([]Record, error)
	SubscriptionsForMedia(ctx context.Context, mediaIDs []int64) ([]Record, error)
	CountSubscriptions(ctx context.Context) (map[Status]int, error)
}

// MemoryStore is an in-process RecordStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) GetSubscription(_ context.Context, key Key) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key.String()]
	return cloneRecord(rec), ok, nil
}

func (m *MemoryStore) PutSubscription(_ context.Context, rec Record, expected int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[rec.Key.String()]
	switch {
	case !ok && expected != 0:
		return Record{}, ErrVersionConflict
	case ok && current.Version != expected:
		return Record{}, ErrVersionConflict
	}
	rec = cloneRecord(rec)
	rec.Version = expected + 1
	m.records[rec.Key.String()] = rec
	return cloneRecord(rec), nil
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, statuses ...Status) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if len(statuses) > 0 && !slices.Contains(statuses, rec.Status) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	SortRecords(out)
	return out, nil
}

func (m *MemoryStore) SubscriptionsForMedia(_ context.Context, mediaIDs []int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Record{}
	for _, rec := range m.records {
		if slices.Contains(mediaIDs, rec.MediaID) {
			out = append(out, cloneRecord(rec))
		}
	}
	SortRecords(out)
	return out, nil
}

func (m *MemoryStore) CountSubscriptions(context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int, len(allStatuses))
	for _, rec := range m.records {
		counts[rec.Status]++
	}
	return counts, nil
}

// SortRecords orders records by most recent transition, then key.
func SortRecords(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if c := b.LastTransitionAt.Compare(a.LastTransitionAt); c != 0 {
			return c
		}
		if a.ItemType != b.ItemType {
			if a.ItemType < b.ItemType {
				return -1
			}
			return 1
		}
		if a.MediaID != b.MediaID {
			if a.MediaID < b.MediaID {
				return -1
			}
			return 1
		}
		return a.SeasonNumber() - b.SeasonNumber()
	})
}

func cloneRecord(rec Record) Record {
	rec.Sources = slices.Clone(rec.Sources)
	if rec.Season != nil {
		season := *rec.Season
		rec.Season = &season
	}
	if rec.ReleaseDate != nil {
		date := *rec.ReleaseDate
		rec.ReleaseDate = &date
	}
	return rec
}
