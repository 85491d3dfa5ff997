package queue

import (
	"testing"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/scheduler"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T, swapMgr *mockSwapManager) (*Queue, *mockRepository, *mockScheduler) {
	t.Helper()
	if swapMgr == nil {
		swapMgr = newMockSwapManager()
	}
	repository := newMockRepository()
	sched := &mockScheduler{}

	q := New(Config{
		Identifier: "test-queue",
		Connection: scheduler.StandardConnection{
			Src: scheduler.StandardComponent{ID: "source", Strategy: scheduler.EventDriven},
			Dst: scheduler.StandardComponent{ID: "destination", Strategy: scheduler.EventDriven},
		},
		Scheduler:            sched,
		SwapManager:          swapMgr,
		FlowFileRepository:   repository,
		ProvenanceRepository: repository,
		ClaimManager:         flowfile.NewClaimManager(),
		DiscardCorruptSwap:   true,
		Logger:               zap.NewNop(),
	})
	return q, repository, sched
}

func TestBasicFIFOSinglePriority(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)

	sizes := []uint64{10, 20, 30}
	for i, size := range sizes {
		q.Put(makeRecord(uint64(i+1), size))
	}

	if got := q.Size(); got.ObjectCount != 3 || got.ByteCount != 60 {
		t.Fatalf("expected size (3, 60), got %v", got)
	}

	expect := []struct {
		id    uint64
		count int
		bytes int64
	}{
		{1, 2, 50},
		{2, 1, 30},
		{3, 0, 0},
	}
	for _, want := range expect {
		rec, expired := q.Poll()
		if len(expired) != 0 {
			t.Fatalf("unexpected expired records: %d", len(expired))
		}
		if rec == nil || rec.ID() != want.id {
			t.Fatalf("expected record %d, got %v", want.id, rec)
		}
		q.Acknowledge(rec)
		if got := q.Size(); got.ObjectCount != want.count || got.ByteCount != want.bytes {
			t.Fatalf("after acknowledging %d: expected size (%d, %d), got %v",
				want.id, want.count, want.bytes, got)
		}
	}
}

func TestBackpressureToggle(t *testing.T) {
	q, _, sched := newTestQueue(t, nil)
	q.SetBackPressureObjectThreshold(2)

	q.Put(makeRecord(1, 10))
	q.Put(makeRecord(2, 10))
	if !q.IsFull() {
		t.Fatal("queue should be full at threshold")
	}

	// Puts are never rejected, even while full.
	q.Put(makeRecord(3, 10))
	if !q.IsFull() {
		t.Fatal("queue should remain full")
	}
	if got := q.Size().ObjectCount; got != 3 {
		t.Fatalf("expected 3 records, got %d", got)
	}

	rec, _ := q.Poll()
	if rec == nil {
		t.Fatal("expected a record")
	}
	// Polling alone does not relieve backpressure; the record is still
	// unacknowledged.
	if !q.IsFull() {
		t.Fatal("queue should still be full before acknowledge")
	}

	sourceEventsBefore := sched.eventsFor("source")

	// Two of three records remain visible after this acknowledgement, so
	// the count threshold of two is still met.
	q.Acknowledge(rec)
	if !q.IsFull() {
		t.Fatal("queue should still be full with two visible records")
	}
	if got := sched.eventsFor("source") - sourceEventsBefore; got != 0 {
		t.Fatalf("expected no source wakeup while still full, got %d", got)
	}

	// Dropping below the threshold relieves backpressure and wakes the
	// source exactly once.
	rec, _ = q.Poll()
	q.Acknowledge(rec)
	if q.IsFull() {
		t.Fatal("queue should no longer be full with one visible record")
	}
	if got := sched.eventsFor("source") - sourceEventsBefore; got != 1 {
		t.Fatalf("expected exactly one source wakeup, got %d", got)
	}
}

func TestBackpressureByteThreshold(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	if err := q.SetBackPressureDataSizeThreshold("1 KB"); err != nil {
		t.Fatalf("SetBackPressureDataSizeThreshold: %v", err)
	}

	q.Put(makeRecord(1, 512))
	if q.IsFull() {
		t.Fatal("queue should not be full at 512 bytes")
	}
	q.Put(makeRecord(2, 512))
	if !q.IsFull() {
		t.Fatal("queue should be full at 1024 bytes")
	}
}

func TestDestinationNotifiedOnPut(t *testing.T) {
	q, _, sched := newTestQueue(t, nil)
	q.Put(makeRecord(1, 1))
	if got := sched.eventsFor("destination"); got != 1 {
		t.Fatalf("expected one destination wakeup, got %d", got)
	}
}

func TestSwapOutThreshold(t *testing.T) {
	swapMgr := newMockSwapManager()
	repository := newMockRepository()
	q := New(Config{
		Identifier:           "swap-queue",
		SwapManager:          swapMgr,
		FlowFileRepository:   repository,
		ProvenanceRepository: repository,
		ClaimManager:         flowfile.NewClaimManager(),
		SwapThreshold:        10_000,
		DiscardCorruptSwap:   true,
		Logger:               zap.NewNop(),
	})

	for _, rec := range makeRecords(1, 10_005, 1) {
		q.Put(rec)
	}

	if got := q.ActiveQueueSize().ObjectCount; got != 10_000 {
		t.Fatalf("expected 10000 active records, got %d", got)
	}
	if got := swapMgr.swapOutCount(); got != 0 {
		t.Fatalf("expected no swap-out yet, got %d", got)
	}

	for _, rec := range makeRecords(10_006, 10_000, 1) {
		q.Put(rec)
	}

	if got := swapMgr.swapOutCount(); got != 1 {
		t.Fatalf("expected exactly one swap-out, got %d", got)
	}
	if got := q.Size(); got.ObjectCount != 20_005 || got.ByteCount != 20_005 {
		t.Fatalf("expected size (20005, 20005), got %v", got)
	}
}

func TestSwapInFIFOOnPoll(t *testing.T) {
	swapMgr := newMockSwapManager()

	loc1, err := swapMgr.SwapOut(makeRecords(1, 100, 1), "test-queue")
	if err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	loc2, err := swapMgr.SwapOut(makeRecords(101, 100, 1), "test-queue")
	if err != nil {
		t.Fatalf("SwapOut: %v", err)
	}

	q, _, _ := newTestQueue(t, swapMgr)
	if _, ok := q.RecoverSwappedFlowFiles(); !ok {
		t.Fatal("expected a max record id from recovery")
	}
	if got := q.Size().ObjectCount; got != 200 {
		t.Fatalf("expected 200 recovered records, got %d", got)
	}

	var polled []uint64
	for {
		rec, _ := q.Poll()
		if rec == nil {
			break
		}
		polled = append(polled, rec.ID())
		q.Acknowledge(rec)
	}

	if len(polled) != 200 {
		t.Fatalf("expected 200 polled records, got %d", len(polled))
	}
	for i, id := range polled {
		if id != uint64(i+1) {
			t.Fatalf("expected record %d at position %d, got %d", i+1, i, id)
		}
	}

	ins := swapMgr.swappedInLocations()
	if len(ins) != 2 || ins[0] != loc1 || ins[1] != loc2 {
		t.Fatalf("expected swap-in order [%s %s], got %v", loc1, loc2, ins)
	}
}

func TestRecoverSeedsMaxID(t *testing.T) {
	swapMgr := newMockSwapManager()
	if _, err := swapMgr.SwapOut(makeRecords(500, 10, 1), "test-queue"); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}

	q, _, _ := newTestQueue(t, swapMgr)
	maxID, ok := q.RecoverSwappedFlowFiles()
	if !ok || maxID != 509 {
		t.Fatalf("expected max id 509, got %d (ok=%v)", maxID, ok)
	}
}

func TestExpiration(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	if err := q.SetFlowFileExpiration("100 ms"); err != nil {
		t.Fatalf("SetFlowFileExpiration: %v", err)
	}

	q.Put(makeRecord(1, 42))
	time.Sleep(150 * time.Millisecond)

	rec, expired := q.Poll()
	if rec != nil {
		t.Fatalf("expected no record, got %d", rec.ID())
	}
	if len(expired) != 1 || expired[0].ID() != 1 {
		t.Fatalf("expected record 1 expired, got %v", expired)
	}
	if got := q.Size(); got.ObjectCount != 0 || got.ByteCount != 0 {
		t.Fatalf("expected empty queue, got %v", got)
	}
}

func TestExpirationDisabledByZero(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	if err := q.SetFlowFileExpiration("0 mins"); err != nil {
		t.Fatalf("SetFlowFileExpiration: %v", err)
	}

	q.Put(flowfile.NewBuilder().
		ID(1).Size(1).
		EntryDate(time.Now().Add(-24 * time.Hour)).
		Build())

	rec, expired := q.Poll()
	if rec == nil || len(expired) != 0 {
		t.Fatalf("expected record despite age, got rec=%v expired=%d", rec, len(expired))
	}
}

func TestNegativeExpirationRejected(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	if err := q.SetFlowFileExpiration("-5 mins"); err == nil {
		t.Fatal("expected error for negative expiration")
	}
}

func TestPenalizedHeadStopsPoll(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)

	q.Put(flowfile.NewBuilder().
		ID(1).Size(10).
		PenaltyExpiration(time.Now().Add(time.Hour)).
		Build())
	q.Put(makeRecord(2, 10))

	// The penalized record sorts after the clean one, so record 2 is
	// deliverable first.
	rec, _ := q.Poll()
	if rec == nil || rec.ID() != 2 {
		t.Fatalf("expected record 2 first, got %v", rec)
	}
	q.Acknowledge(rec)

	// Now the penalized record is at the head: poll returns nothing but
	// the record stays.
	rec, _ = q.Poll()
	if rec != nil {
		t.Fatalf("expected nil while head is penalized, got %d", rec.ID())
	}
	if got := q.Size().ObjectCount; got != 1 {
		t.Fatalf("penalized record should remain queued, got size %d", got)
	}
}

func TestPenaltyExpiresAndDelivers(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)

	q.Put(flowfile.NewBuilder().
		ID(1).Size(10).
		PenaltyExpiration(time.Now().Add(50 * time.Millisecond)).
		Build())

	if rec, _ := q.Poll(); rec != nil {
		t.Fatalf("expected nil while penalized, got %d", rec.ID())
	}

	time.Sleep(80 * time.Millisecond)
	rec, _ := q.Poll()
	if rec == nil || rec.ID() != 1 {
		t.Fatalf("expected record 1 after penalty lapsed, got %v", rec)
	}
}

func TestPollBatch(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	q.PutAll(makeRecords(1, 10, 5))

	selected, expired := q.PollBatch(4)
	if len(selected) != 4 || len(expired) != 0 {
		t.Fatalf("expected 4 selected, got %d (expired %d)", len(selected), len(expired))
	}
	for i, rec := range selected {
		if rec.ID() != uint64(i+1) {
			t.Fatalf("expected record %d at position %d, got %d", i+1, i, rec.ID())
		}
	}

	if got := q.UnacknowledgedQueueSize().ObjectCount; got != 4 {
		t.Fatalf("expected 4 unacknowledged, got %d", got)
	}
	q.AcknowledgeAll(selected)
	if got := q.Size().ObjectCount; got != 6 {
		t.Fatalf("expected 6 remaining, got %d", got)
	}
}

func TestPollBatchStopsAtPenalizedHead(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	q.PutAll(makeRecords(1, 3, 1))
	q.Put(flowfile.NewBuilder().
		ID(4).Size(1).
		PenaltyExpiration(time.Now().Add(time.Hour)).
		Build())

	selected, _ := q.PollBatch(10)
	if len(selected) != 3 {
		t.Fatalf("expected 3 selected before penalized head, got %d", len(selected))
	}
	if got := q.ActiveQueueSize().ObjectCount; got != 1 {
		t.Fatalf("penalized record should remain active, got %d", got)
	}
}

func TestPollFilter(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	q.PutAll(makeRecords(1, 6, 1))

	// Accept even ids, stop after the second acceptance.
	accepted := 0
	selected, _ := q.PollFilter(func(rec flowfile.Record) FilterResult {
		if rec.ID()%2 == 0 {
			accepted++
			return FilterResult{Accept: true, Continue: accepted < 2}
		}
		return FilterResult{Accept: false, Continue: true}
	})

	if len(selected) != 2 || selected[0].ID() != 2 || selected[1].ID() != 4 {
		t.Fatalf("expected records [2 4], got %v", recordIDs(selected))
	}

	// Rejected records went back with their order preserved.
	q.AcknowledgeAll(selected)
	rec, _ := q.Poll()
	if rec == nil || rec.ID() != 1 {
		t.Fatalf("expected record 1 back at head, got %v", rec)
	}
}

func TestSizeInvariantAcrossStates(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	q.PutAll(makeRecords(1, 20, 3))

	selected, _ := q.PollBatch(7)
	size := q.Size()
	active := q.ActiveQueueSize()
	unacked := q.UnacknowledgedQueueSize()
	if size.ObjectCount != active.ObjectCount+unacked.ObjectCount {
		t.Fatalf("size %d != active %d + unacked %d",
			size.ObjectCount, active.ObjectCount, unacked.ObjectCount)
	}
	if size.ByteCount != active.ByteCount+unacked.ByteCount {
		t.Fatalf("bytes %d != active %d + unacked %d",
			size.ByteCount, active.ByteCount, unacked.ByteCount)
	}

	q.AcknowledgeAll(selected)
	if got := q.Size().ObjectCount; got != 13 {
		t.Fatalf("expected 13 after acknowledging 7 of 20, got %d", got)
	}
}

func TestSetPrioritiesReordersActiveQueue(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)

	base := time.Now()
	for i := 0; i < 3; i++ {
		q.Put(flowfile.NewBuilder().
			ID(uint64(i + 1)).Size(1).
			EntryDate(base.Add(time.Duration(i) * time.Second)).
			Build())
	}

	q.SetPriorities([]flowfile.Prioritizer{flowfile.NewestFirstPrioritizer{}})

	rec, _ := q.Poll()
	if rec == nil || rec.ID() != 3 {
		t.Fatalf("expected newest record 3 first, got %v", rec)
	}
}

func TestSwapOutFailureKeepsRecords(t *testing.T) {
	swapMgr := newMockSwapManager()
	swapMgr.outErr = errTestIO
	repository := newMockRepository()
	q := New(Config{
		Identifier:           "swap-fail",
		SwapManager:          swapMgr,
		FlowFileRepository:   repository,
		ProvenanceRepository: repository,
		ClaimManager:         flowfile.NewClaimManager(),
		SwapThreshold:        10_000,
		DiscardCorruptSwap:   true,
		Logger:               zap.NewNop(),
	})

	// Push far enough past the threshold that a swap-out is attempted.
	q.PutAll(makeRecords(1, 20_100, 1))

	// The write failed, but nothing is lost.
	if got := q.Size().ObjectCount; got != 20_100 {
		t.Fatalf("expected all 20100 records still accounted, got %d", got)
	}

	// Every record is still deliverable.
	total := 0
	for {
		selected, _ := q.PollBatch(1000)
		if len(selected) == 0 {
			break
		}
		total += len(selected)
		q.AcknowledgeAll(selected)
	}
	if total != 20_100 {
		t.Fatalf("expected to drain 20100 records, got %d", total)
	}
}

func TestSwapInNotFoundDropsLocation(t *testing.T) {
	swapMgr := newMockSwapManager()
	loc, err := swapMgr.SwapOut(makeRecords(1, 10, 1), "test-queue")
	if err != nil {
		t.Fatalf("SwapOut: %v", err)
	}

	q, _, _ := newTestQueue(t, swapMgr)
	if _, ok := q.RecoverSwappedFlowFiles(); !ok {
		t.Fatal("expected recovery to find the location")
	}

	// Remove the batch behind the queue's back.
	swapMgr.mu.Lock()
	delete(swapMgr.batches, loc)
	swapMgr.mu.Unlock()

	// The poll surfaces nothing, but the queue keeps operating.
	if rec, _ := q.Poll(); rec != nil {
		t.Fatalf("expected no record, got %d", rec.ID())
	}
	q.Put(makeRecord(100, 1))
}

func TestPurgeSwapFiles(t *testing.T) {
	swapMgr := newMockSwapManager()
	if _, err := swapMgr.SwapOut(makeRecords(1, 5, 1), "test-queue"); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}

	q, _, _ := newTestQueue(t, swapMgr)
	if err := q.PurgeSwapFiles(); err != nil {
		t.Fatalf("PurgeSwapFiles: %v", err)
	}

	locations, _ := swapMgr.RecoverLocations("test-queue")
	if len(locations) != 0 {
		t.Fatalf("expected no locations after purge, got %d", len(locations))
	}
}

func recordIDs(records []flowfile.Record) []uint64 {
	ids := make([]uint64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID()
	}
	return ids
}

var errTestIO = &testIOError{}

type testIOError struct{}

func (*testIOError) Error() string { return "disk unavailable" }
