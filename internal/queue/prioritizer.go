package queue

import (
	"container/heap"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
)

// compareRecords is the total order the active queue serves in. Stages, in
// strict sequence: penalty precedence, penalty expiry, user prioritizers,
// content-claim locality, id.
func compareRecords(prioritizers []flowfile.Prioritizer, a, b flowfile.Record) int {
	aPenalized := a.Penalized()
	bPenalized := b.Penalized()

	if aPenalized && !bPenalized {
		return 1
	}
	if !aPenalized && bPenalized {
		return -1
	}

	if aPenalized && bPenalized {
		if c := a.PenaltyExpiration().Compare(b.PenaltyExpiration()); c != 0 {
			return c
		}
	}

	for _, p := range prioritizers {
		if c := p.Compare(a, b); c != 0 {
			return c
		}
	}

	// Claimless records sort first; otherwise group by claim and offset so
	// consumers read content sequentially.
	aClaim := a.ContentClaim()
	bClaim := b.ContentClaim()
	switch {
	case aClaim == nil && bClaim != nil:
		return -1
	case aClaim != nil && bClaim == nil:
		return 1
	case aClaim != nil && bClaim != nil:
		if c := aClaim.Compare(bClaim); c != 0 {
			return c
		}
		aOff := a.ContentClaimOffset()
		bOff := b.ContentClaimOffset()
		if aOff < bOff {
			return -1
		}
		if aOff > bOff {
			return 1
		}
	}

	switch {
	case a.ID() < b.ID():
		return -1
	case a.ID() > b.ID():
		return 1
	}
	return 0
}

// comparator binds a prioritizer list into a two-record compare func.
type comparator func(a, b flowfile.Record) int

func newComparator(prioritizers []flowfile.Prioritizer) comparator {
	return func(a, b flowfile.Record) int {
		return compareRecords(prioritizers, a, b)
	}
}

// reversed adapts a comparator so the lowest-priority record surfaces
// first. Swap-out uses it to pick victims.
func (c comparator) reversed() comparator {
	return func(a, b flowfile.Record) int {
		return c(b, a)
	}
}

// recordHeap is a priority queue of flowfile records ordered by a
// comparator. Not safe for concurrent use; callers hold the queue lock.
type recordHeap struct {
	records []flowfile.Record
	compare comparator
}

func newRecordHeap(compare comparator) *recordHeap {
	return &recordHeap{compare: compare}
}

func (h *recordHeap) Len() int            { return len(h.records) }
func (h *recordHeap) Less(i, j int) bool  { return h.compare(h.records[i], h.records[j]) < 0 }
func (h *recordHeap) Swap(i, j int)       { h.records[i], h.records[j] = h.records[j], h.records[i] }
func (h *recordHeap) Push(x any)          { h.records = append(h.records, x.(flowfile.Record)) }
func (h *recordHeap) Pop() any {
	old := h.records
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	h.records = old[:n-1]
	return rec
}

func (h *recordHeap) push(rec flowfile.Record) {
	heap.Push(h, rec)
}

// pop removes and returns the highest-priority record, or nil when empty.
func (h *recordHeap) pop() flowfile.Record {
	if len(h.records) == 0 {
		return nil
	}
	return heap.Pop(h).(flowfile.Record)
}

// drainTo moves every record out of the heap, leaving it empty. The
// returned slice is unordered.
func (h *recordHeap) drainTo() []flowfile.Record {
	records := h.records
	h.records = nil
	return records
}

func (h *recordHeap) pushAll(records []flowfile.Record) {
	if len(records) == 0 {
		return
	}
	h.records = append(h.records, records...)
	heap.Init(h)
}
