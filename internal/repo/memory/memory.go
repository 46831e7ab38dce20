package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// maxResults bounds the verdict history in loop mode.
const maxResults = 4096

// Store keeps alert state, counters and results in process memory. Nothing
// survives a restart.
type Store struct {
	mu      sync.RWMutex
	alerts  map[string]repo.AlertRecord
	counts  map[domain.TargetID]domain.CountState
	results []domain.Verdict
}

func New() *Store {
	return &Store{
		alerts:  make(map[string]repo.AlertRecord),
		counts:  make(map[domain.TargetID]domain.CountState),
		results: make([]domain.Verdict, 0, 128),
	}
}

func (m *Store) Get(ctx context.Context, targetID string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[targetID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) Set(ctx context.Context, targetID, signature string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := repo.AlertRecord{TargetID: targetID, LastSignature: signature}
	if !sentAt.IsZero() {
		ts := sentAt
		rec.LastSentAt = &ts
	}
	m.alerts[targetID] = rec
	return nil
}

func (m *Store) GetCount(ctx context.Context, id domain.TargetID) (*domain.CountState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.counts[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Store) PutCount(ctx context.Context, st domain.CountState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	m.counts[st.TargetID] = st
	return nil
}

func (m *Store) Append(ctx context.Context, v domain.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, v)
	if len(m.results) > maxResults {
		m.results = append(m.results[:0:0], m.results[len(m.results)-maxResults/2:]...)
	}
	return nil
}

// Latest returns the newest verdict per target, ordered by target ID.
func (m *Store) Latest(ctx context.Context) ([]domain.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[domain.TargetID]domain.Verdict)
	for _, v := range m.results {
		cur, ok := latest[v.TargetID]
		if !ok || !v.CheckedAt.Before(cur.CheckedAt) {
			latest[v.TargetID] = v
		}
	}

	out := make([]domain.Verdict, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

var (
	_ repo.AlertStore  = (*Store)(nil)
	_ repo.CountStore  = (*Store)(nil)
	_ repo.ResultStore = (*Store)(nil)
)
