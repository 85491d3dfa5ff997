package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/repo"
	"github.com/gftdcojp/flowfile-queue/internal/scheduler"
	"github.com/gftdcojp/flowfile-queue/internal/swap"
)

// mockSwapManager is a thread-safe in-memory swap manager for testing.
type mockSwapManager struct {
	mu        sync.Mutex
	batches   map[string][]flowfile.Record
	order     []string
	nextSeq   int
	outErr    error
	inErr     error
	swapOuts  int
	swapIns   []string
	// swapInGate, when non-nil, is received from before each SwapIn
	// returns, letting tests pause a drop worker mid-run.
	swapInGate chan struct{}
}

func newMockSwapManager() *mockSwapManager {
	return &mockSwapManager{batches: make(map[string][]flowfile.Record)}
}

func (m *mockSwapManager) SwapOut(records []flowfile.Record, queueID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outErr != nil {
		return "", m.outErr
	}
	m.nextSeq++
	location := fmt.Sprintf("swap/%s/%06d", queueID, m.nextSeq)
	batch := make([]flowfile.Record, len(records))
	copy(batch, records)
	m.batches[location] = batch
	m.order = append(m.order, location)
	m.swapOuts++
	return location, nil
}

func (m *mockSwapManager) SwapIn(location string, queueID string) ([]flowfile.Record, error) {
	m.mu.Lock()
	gate := m.swapInGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.swapIns = append(m.swapIns, location)
	if m.inErr != nil {
		return nil, m.inErr
	}
	batch, ok := m.batches[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", swap.ErrNotFound, location)
	}
	delete(m.batches, location)
	for i, loc := range m.order {
		if loc == location {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return batch, nil
}

func (m *mockSwapManager) SwapSize(location string) (int, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[location]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", swap.ErrNotFound, location)
	}
	var bytes uint64
	for _, rec := range batch {
		bytes += rec.Size()
	}
	return len(batch), bytes, nil
}

func (m *mockSwapManager) MaxRecordID(location string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[location]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", swap.ErrNotFound, location)
	}
	var maxID uint64
	for _, rec := range batch {
		if rec.ID() > maxID {
			maxID = rec.ID()
		}
	}
	return maxID, len(batch) > 0, nil
}

func (m *mockSwapManager) RecoverLocations(queueID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	locations := make([]string, len(m.order))
	copy(locations, m.order)
	return locations, nil
}

func (m *mockSwapManager) Purge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = make(map[string][]flowfile.Record)
	m.order = nil
	return nil
}

func (m *mockSwapManager) swapOutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.swapOuts
}

func (m *mockSwapManager) swappedInLocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.swapIns))
	copy(out, m.swapIns)
	return out
}

// mockRepository records repository updates and provenance events.
type mockRepository struct {
	mu      sync.Mutex
	records []repo.RepositoryRecord
	events  []repo.ProvenanceEvent
	err     error
}

func newMockRepository() *mockRepository {
	return &mockRepository{}
}

func (r *mockRepository) UpdateRepository(records []repo.RepositoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, records...)
	return nil
}

func (r *mockRepository) EventBuilder() *repo.ProvenanceEventBuilder {
	return repo.NewEventBuilder()
}

func (r *mockRepository) RegisterEvents(events []repo.ProvenanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *mockRepository) eventsOfType(t repo.EventType) []repo.ProvenanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repo.ProvenanceEvent
	for _, event := range r.events {
		if event.EventType == t {
			out = append(out, event)
		}
	}
	return out
}

func (r *mockRepository) deleteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.Type == repo.RecordTypeDelete {
			count++
		}
	}
	return count
}

// mockScheduler records component wakeups.
type mockScheduler struct {
	mu     sync.Mutex
	events []string
}

func (s *mockScheduler) RegisterEvent(component scheduler.Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, component.Identifier())
}

func (s *mockScheduler) eventsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.events {
		if e == id {
			count++
		}
	}
	return count
}



// makeRecord builds a minimal test record.
func makeRecord(id uint64, size uint64) flowfile.Record {
	return flowfile.NewBuilder().
		ID(id).
		Size(size).
		EntryDate(time.Now()).
		Build()
}

func makeRecords(firstID uint64, count int, size uint64) []flowfile.Record {
	records := make([]flowfile.Record, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, makeRecord(firstID+uint64(i), size))
	}
	return records
}
