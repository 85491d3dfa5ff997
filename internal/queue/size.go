package queue

import "fmt"

// QueueSize is an object count plus content byte count.
type QueueSize struct {
	ObjectCount int
	ByteCount   int64
}

func (s QueueSize) Add(other QueueSize) QueueSize {
	return QueueSize{
		ObjectCount: s.ObjectCount + other.ObjectCount,
		ByteCount:   s.ByteCount + other.ByteCount,
	}
}

func (s QueueSize) String() string {
	return fmt.Sprintf("%d FlowFiles (%d bytes)", s.ObjectCount, s.ByteCount)
}

// queueSize is the six-counter accounting tuple. It is immutable; every
// mutation builds a new tuple and commits it with compare-and-swap so that
// readers always observe the six fields advancing together.
type queueSize struct {
	activeCount  int
	activeBytes  int64
	swappedCount int
	swappedBytes int64
	unackedCount int
	unackedBytes int64
}

func (s queueSize) isEmpty() bool {
	return s.activeCount == 0 && s.swappedCount == 0 && s.unackedCount == 0
}

func (s queueSize) toQueueSize() QueueSize {
	return QueueSize{
		ObjectCount: s.activeCount + s.swappedCount + s.unackedCount,
		ByteCount:   s.activeBytes + s.swappedBytes + s.unackedBytes,
	}
}

func (s queueSize) activeSize() QueueSize {
	return QueueSize{ObjectCount: s.activeCount, ByteCount: s.activeBytes}
}

func (s queueSize) swapSize() QueueSize {
	return QueueSize{ObjectCount: s.swappedCount, ByteCount: s.swappedBytes}
}

func (s queueSize) unackedSize() QueueSize {
	return QueueSize{ObjectCount: s.unackedCount, ByteCount: s.unackedBytes}
}

// updateSize applies deltas to the tuple with a CAS retry loop.
func (q *Queue) updateSize(activeCount int, activeBytes int64, swappedCount int, swappedBytes int64, unackedCount int, unackedBytes int64) {
	for {
		original := q.size.Load()
		updated := queueSize{
			activeCount:  original.activeCount + activeCount,
			activeBytes:  original.activeBytes + activeBytes,
			swappedCount: original.swappedCount + swappedCount,
			swappedBytes: original.swappedBytes + swappedBytes,
			unackedCount: original.unackedCount + unackedCount,
			unackedBytes: original.unackedBytes + unackedBytes,
		}
		if q.size.CompareAndSwap(original, &updated) {
			break
		}
	}
	q.publishSizeMetrics()
}

func (q *Queue) incrementActiveQueueSize(count int, bytes int64) {
	q.updateSize(count, bytes, 0, 0, 0, 0)
}

func (q *Queue) incrementSwapQueueSize(count int, bytes int64) {
	q.updateSize(0, 0, count, bytes, 0, 0)
}

func (q *Queue) incrementUnacknowledgedQueueSize(count int, bytes int64) {
	q.updateSize(0, 0, 0, 0, count, bytes)
}
