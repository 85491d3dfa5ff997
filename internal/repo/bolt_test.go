package repo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"go.uber.org/zap"
)

func newTestRepository(t *testing.T) *BoltRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.db")
	r, err := NewBoltRepository(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltRepository: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func makeRecord(id uint64) flowfile.Record {
	return flowfile.NewBuilder().
		ID(id).
		Size(100).
		EntryDate(time.Now()).
		Attribute("filename", "data.bin").
		Build()
}

func TestUpdateRepositoryCreateAndDelete(t *testing.T) {
	r := newTestRepository(t)

	if err := r.UpdateRepository([]RepositoryRecord{
		{Type: RecordTypeCreate, OriginalQueueID: "q1", Record: makeRecord(1)},
		{Type: RecordTypeCreate, OriginalQueueID: "q1", Record: makeRecord(2)},
	}); err != nil {
		t.Fatalf("UpdateRepository: %v", err)
	}

	maxID, err := r.MaxRecordID()
	if err != nil {
		t.Fatalf("MaxRecordID: %v", err)
	}
	if maxID != 2 {
		t.Fatalf("expected max id 2, got %d", maxID)
	}

	if err := r.UpdateRepository([]RepositoryRecord{
		{Type: RecordTypeDelete, OriginalQueueID: "q1", Record: makeRecord(1)},
	}); err != nil {
		t.Fatalf("UpdateRepository delete: %v", err)
	}

	// Max id is monotonic across deletes; it seeds the id generator.
	maxID, _ = r.MaxRecordID()
	if maxID != 2 {
		t.Fatalf("expected max id still 2 after delete, got %d", maxID)
	}
}

func TestMaxRecordIDSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo.db")

	r, err := NewBoltRepository(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltRepository: %v", err)
	}
	if err := r.UpdateRepository([]RepositoryRecord{
		{Type: RecordTypeCreate, OriginalQueueID: "q1", Record: makeRecord(42)},
	}); err != nil {
		t.Fatalf("UpdateRepository: %v", err)
	}
	r.Close()

	r2, err := NewBoltRepository(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("reopening repository: %v", err)
	}
	defer r2.Close()

	maxID, err := r2.MaxRecordID()
	if err != nil {
		t.Fatalf("MaxRecordID: %v", err)
	}
	if maxID != 42 {
		t.Fatalf("expected max id 42 after reopen, got %d", maxID)
	}
}

func TestRegisterAndReadEvents(t *testing.T) {
	r := newTestRepository(t)

	rec := makeRecord(7)
	event := r.EventBuilder().
		FromRecord(rec).
		EventType(EventTypeDrop).
		ComponentID("q1").
		ComponentType("Connection").
		SourceQueueID("q1").
		Details("FlowFile Queue emptied by tester").
		PreviousContentClaim("default", "1", "claim-1", 0, 100).
		Build()

	if err := r.RegisterEvents([]ProvenanceEvent{event}); err != nil {
		t.Fatalf("RegisterEvents: %v", err)
	}

	events, lastSeq, err := r.EventsSince(0, 10)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.EventType != EventTypeDrop || got.FlowFileID != 7 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.PreviousClaim == nil || got.PreviousClaim.ID != "claim-1" {
		t.Fatalf("expected previous claim, got %+v", got.PreviousClaim)
	}
	if got.Attributes["filename"] != "data.bin" {
		t.Fatal("expected attribute snapshot on event")
	}

	// Nothing newer than the last sequence.
	more, _, err := r.EventsSince(lastSeq, 10)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(more) != 0 {
		t.Fatalf("expected no newer events, got %d", len(more))
	}
}

func TestEventsSinceRespectsLimit(t *testing.T) {
	r := newTestRepository(t)

	var batch []ProvenanceEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, r.EventBuilder().
			FromRecord(makeRecord(uint64(i+1))).
			EventType(EventTypeExpire).
			Build())
	}
	if err := r.RegisterEvents(batch); err != nil {
		t.Fatalf("RegisterEvents: %v", err)
	}

	events, lastSeq, err := r.EventsSince(0, 3)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	rest, _, err := r.EventsSince(lastSeq, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining events, got %d", len(rest))
	}
}

func TestPing(t *testing.T) {
	r := newTestRepository(t)
	if err := r.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
