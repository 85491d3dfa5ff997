// Package queue implements a concurrent, prioritized, expirable FIFO that
// buffers flowfile records between two processing stages, spilling overflow
// to a swap manager under memory pressure and applying backpressure to the
// upstream stage when configured thresholds are reached.
package queue

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/config"
	"github.com/gftdcojp/flowfile-queue/internal/events"
	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/metrics"
	"github.com/gftdcojp/flowfile-queue/internal/repo"
	"github.com/gftdcojp/flowfile-queue/internal/scheduler"
	"github.com/gftdcojp/flowfile-queue/internal/swap"
	"go.uber.org/zap"
)

const (
	// maxExpiredRecordsPerIteration caps how many expired records a single
	// poll call may surface; any remainder stays at the head.
	maxExpiredRecordsPerIteration = 100_000

	// swapRecordPollSize is the batch size for swap files and the headroom
	// the active queue keeps for swapping batches back in.
	swapRecordPollSize = 10_000

	// defaultSwapThreshold is how many records the active queue holds
	// before new arrivals stage into the swap buffer.
	defaultSwapThreshold = 20_000
)

// FilterResult tells PollFilter what to do with one record and whether to
// keep scanning.
type FilterResult struct {
	Accept   bool
	Continue bool
}

// Filter selects records during PollFilter.
type Filter func(rec flowfile.Record) FilterResult

// Config carries the queue's identity and injected collaborators.
type Config struct {
	Identifier           string
	Connection           scheduler.Connection
	Scheduler            scheduler.EventScheduler
	SwapManager          swap.Manager
	FlowFileRepository   repo.FlowFileRepository
	ProvenanceRepository repo.ProvenanceRepository
	ClaimManager         flowfile.ClaimManager
	EventReporter        events.Reporter
	SwapThreshold        int
	DiscardCorruptSwap   bool
	Logger               *zap.Logger
}

// Queue buffers flowfile records between an upstream source and a
// downstream destination. All mutating operations serialize on a single
// write lock; Size, IsEmpty, and IsFull consult only atomics.
type Queue struct {
	identifier    string
	connection    scheduler.Connection
	scheduler     scheduler.EventScheduler
	swapManager   swap.Manager
	flowFileRepo  repo.FlowFileRepository
	provRepo      repo.ProvenanceRepository
	claimManager  flowfile.ClaimManager
	eventReporter events.Reporter
	logger        *zap.Logger

	swapThreshold      int
	discardCorruptSwap bool

	lock        timedLock
	activeQueue *recordHeap
	swapQueue   []flowfile.Record
	// swapLocations lists persisted batches in the order they were swapped
	// out; migration always consumes the head.
	swapLocations []string
	swapMode      bool

	// prioritizers is replaced wholesale by SetPriorities so Priorities
	// can read it without the lock.
	prioritizers atomic.Pointer[[]flowfile.Prioritizer]

	maxQueueObjectCount int64
	maxQueueByteCount   int64
	maxQueueDataSize    string

	expirationPeriod atomic.Pointer[string]
	expiration       atomic.Int64 // nanoseconds; 0 disables

	queueFull atomic.Bool
	size      atomic.Pointer[queueSize]

	drops dropRequestMap
}

// New creates a queue. The swap manager, repositories, and claim manager
// are required; the scheduler and connection may be nil for queues whose
// endpoints are not event-driven.
func New(cfg Config) *Queue {
	threshold := cfg.SwapThreshold
	if threshold <= 0 {
		threshold = defaultSwapThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reporter := cfg.EventReporter
	if reporter == nil {
		reporter = events.NewLogReporter(logger)
	}

	q := &Queue{
		identifier:         cfg.Identifier,
		connection:         cfg.Connection,
		scheduler:          cfg.Scheduler,
		swapManager:        cfg.SwapManager,
		flowFileRepo:       cfg.FlowFileRepository,
		provRepo:           cfg.ProvenanceRepository,
		claimManager:       cfg.ClaimManager,
		eventReporter:      reporter,
		logger:             logger,
		swapThreshold:      threshold,
		discardCorruptSwap: cfg.DiscardCorruptSwap,
		maxQueueDataSize:   "0 B",
	}
	q.lock.queueID = cfg.Identifier
	q.lock.logger = logger

	empty := []flowfile.Prioritizer{}
	q.prioritizers.Store(&empty)
	q.activeQueue = newRecordHeap(newComparator(empty))
	q.size.Store(&queueSize{})
	period := "0 mins"
	q.expirationPeriod.Store(&period)
	q.drops.requests = make(map[string]*DropRequest)

	return q
}

func (q *Queue) Identifier() string {
	return q.identifier
}

func (q *Queue) String() string {
	return fmt.Sprintf("FlowFileQueue[id=%s]", q.identifier)
}

// Priorities returns the configured prioritizer list.
func (q *Queue) Priorities() []flowfile.Prioritizer {
	current := *q.prioritizers.Load()
	out := make([]flowfile.Prioritizer, len(current))
	copy(out, current)
	return out
}

// SetPriorities replaces the prioritizer list and rebuilds the active
// queue under the new order.
func (q *Queue) SetPriorities(prioritizers []flowfile.Prioritizer) {
	newList := make([]flowfile.Prioritizer, len(prioritizers))
	copy(newList, prioritizers)

	q.lock.lock()
	defer q.lock.unlock()

	rebuilt := newRecordHeap(newComparator(newList))
	rebuilt.pushAll(q.activeQueue.drainTo())
	q.activeQueue = rebuilt
	q.prioritizers.Store(&newList)
}

// SetBackPressureObjectThreshold sets the object-count threshold; 0
// disables it.
func (q *Queue) SetBackPressureObjectThreshold(maxQueueSize int64) {
	q.lock.lock()
	defer q.lock.unlock()
	q.maxQueueObjectCount = maxQueueSize
	q.setQueueFull(q.determineIfFull())
}

func (q *Queue) BackPressureObjectThreshold() int64 {
	q.lock.rlock()
	defer q.lock.runlock()
	return q.maxQueueObjectCount
}

// SetBackPressureDataSizeThreshold sets the byte threshold from a data
// size expression such as "1 GB"; "0 B" disables it.
func (q *Queue) SetBackPressureDataSizeThreshold(maxDataSize string) error {
	bytes, err := config.ParseDataSize(maxDataSize)
	if err != nil {
		return err
	}

	q.lock.lock()
	defer q.lock.unlock()
	q.maxQueueByteCount = bytes
	q.maxQueueDataSize = maxDataSize
	q.setQueueFull(q.determineIfFull())
	return nil
}

func (q *Queue) BackPressureDataSizeThreshold() string {
	q.lock.rlock()
	defer q.lock.runlock()
	return q.maxQueueDataSize
}

// SetFlowFileExpiration sets the queue's record expiration from a time
// period expression such as "5 mins"; "0 mins" disables expiration.
func (q *Queue) SetFlowFileExpiration(period string) error {
	d, err := config.ParseTimePeriod(period)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("flowfile expiration period must not be negative: %q", period)
	}
	q.expirationPeriod.Store(&period)
	q.expiration.Store(int64(d))
	return nil
}

func (q *Queue) FlowFileExpiration() string {
	return *q.expirationPeriod.Load()
}

// Size reports the total visible size: active + swapped + unacknowledged.
func (q *Queue) Size() QueueSize {
	return q.size.Load().toQueueSize()
}

// ActiveQueueSize reports only the in-memory active queue.
func (q *Queue) ActiveQueueSize() QueueSize {
	return q.size.Load().activeSize()
}

// UnacknowledgedQueueSize reports records polled but not yet acknowledged.
func (q *Queue) UnacknowledgedQueueSize() QueueSize {
	return q.size.Load().unackedSize()
}

func (q *Queue) IsEmpty() bool {
	return q.size.Load().isEmpty()
}

func (q *Queue) IsActiveQueueEmpty() bool {
	return q.size.Load().activeCount == 0
}

// IsFull reports the cached backpressure flag.
func (q *Queue) IsFull() bool {
	return q.queueFull.Load()
}

// determineIfFull must be called with the read or write lock held.
func (q *Queue) determineIfFull() bool {
	maxCount := q.maxQueueObjectCount
	maxBytes := q.maxQueueByteCount
	if maxCount <= 0 && maxBytes <= 0 {
		return false
	}

	size := q.Size()
	if maxCount > 0 && int64(size.ObjectCount) >= maxCount {
		return true
	}
	if maxBytes > 0 && size.ByteCount >= maxBytes {
		return true
	}
	return false
}

func (q *Queue) setQueueFull(full bool) {
	q.queueFull.Store(full)
	if full {
		metrics.QueueFull.WithLabelValues(q.identifier).Set(1)
	} else {
		metrics.QueueFull.WithLabelValues(q.identifier).Set(0)
	}
}

// Put adds one record. Never fails; under memory pressure the record
// stages into the swap buffer and may trigger a swap-out.
func (q *Queue) Put(rec flowfile.Record) {
	q.lock.lock()
	if q.swapMode || q.activeQueue.Len() >= q.swapThreshold {
		q.swapQueue = append(q.swapQueue, rec)
		q.incrementSwapQueueSize(1, int64(rec.Size()))
		q.swapMode = true
		q.writeSwapFilesIfNecessary()
	} else {
		q.incrementActiveQueueSize(1, int64(rec.Size()))
		q.activeQueue.push(rec)
	}
	q.setQueueFull(q.determineIfFull())
	q.lock.unlock()

	q.notifyDestination()
}

// PutAll adds a batch of records, atomic in accounting.
func (q *Queue) PutAll(records []flowfile.Record) {
	if len(records) == 0 {
		return
	}
	numRecords := len(records)
	var bytes int64
	for _, rec := range records {
		bytes += int64(rec.Size())
	}

	q.lock.lock()
	if q.swapMode || q.activeQueue.Len() >= q.swapThreshold-numRecords {
		q.swapQueue = append(q.swapQueue, records...)
		q.incrementSwapQueueSize(numRecords, bytes)
		q.swapMode = true
		q.writeSwapFilesIfNecessary()
	} else {
		q.incrementActiveQueueSize(numRecords, bytes)
		q.activeQueue.pushAll(records)
	}
	q.setQueueFull(q.determineIfFull())
	q.lock.unlock()

	q.notifyDestination()
}

// expirationDeadline returns the record's absolute expiry, or a zero time
// if expiration is disabled.
func expirationDeadline(rec flowfile.Record, expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return rec.EntryDate().Add(expiration)
}

func isExpired(rec flowfile.Record, expiration time.Duration, now time.Time) bool {
	deadline := expirationDeadline(rec, expiration)
	if deadline.IsZero() {
		return false
	}
	return !now.Before(deadline)
}

// Poll returns the highest-priority deliverable record, or nil when the
// queue is empty or its head is penalized. Records whose age exceeded the
// queue expiration are returned in expired for the caller to finalize.
func (q *Queue) Poll() (rec flowfile.Record, expired []flowfile.Record) {
	expiration := time.Duration(q.expiration.Load())

	q.lock.lock()
	rec, expired = q.doPoll(expiration)
	q.lock.unlock()

	if rec != nil {
		q.incrementUnacknowledgedQueueSize(1, int64(rec.Size()))
	}
	return rec, expired
}

func (q *Queue) doPoll(expiration time.Duration) (flowfile.Record, []flowfile.Record) {
	q.migrateSwapToActive()
	queueFullAtStart := q.queueFull.Load()

	var expired []flowfile.Record
	var expiredBytes int64
	var out flowfile.Record
	now := time.Now()

	for {
		rec := q.activeQueue.pop()
		if rec == nil {
			break
		}

		if isExpired(rec, expiration, now) {
			expired = append(expired, rec)
			expiredBytes += int64(rec.Size())
			if len(expired) >= maxExpiredRecordsPerIteration {
				break
			}
			continue
		}

		if rec.Penalized() {
			// The head is the earliest to come off penalty; everything
			// behind it is no sooner.
			q.activeQueue.push(rec)
			break
		}

		out = rec
		break
	}

	if out != nil {
		q.incrementActiveQueueSize(-1, -int64(out.Size()))
	}
	if len(expired) > 0 {
		q.incrementActiveQueueSize(-len(expired), -expiredBytes)
		metrics.ExpiredFlowFiles.WithLabelValues(q.identifier).Add(float64(len(expired)))
		if queueFullAtStart {
			q.setQueueFull(q.determineIfFull())
		}
	}

	return out, expired
}

// PollBatch returns up to maxResults deliverable records. The scan stops
// at the first penalized head, which is pushed back.
func (q *Queue) PollBatch(maxResults int) (selected, expired []flowfile.Record) {
	expiration := time.Duration(q.expiration.Load())

	q.lock.lock()
	defer q.lock.unlock()

	q.migrateSwapToActive()
	queueFullAtStart := q.queueFull.Load()
	now := time.Now()

	var drainedBytes int64
	for len(selected) < maxResults {
		rec := q.activeQueue.pop()
		if rec == nil {
			break
		}

		if isExpired(rec, expiration, now) {
			expired = append(expired, rec)
			drainedBytes += int64(rec.Size())
			if len(expired) >= maxExpiredRecordsPerIteration {
				break
			}
			continue
		}

		if rec.Penalized() {
			q.activeQueue.push(rec)
			break
		}

		selected = append(selected, rec)
		drainedBytes += int64(rec.Size())
	}

	var expiredBytes int64
	for _, rec := range expired {
		expiredBytes += int64(rec.Size())
	}

	// Active and unacknowledged move in one tuple update so readers never
	// observe the batch half-applied.
	q.updateSize(
		-(len(selected) + len(expired)), -drainedBytes,
		0, 0,
		len(selected), drainedBytes-expiredBytes,
	)

	if len(expired) > 0 {
		metrics.ExpiredFlowFiles.WithLabelValues(q.identifier).Add(float64(len(expired)))
		if queueFullAtStart {
			q.setQueueFull(q.determineIfFull())
		}
	}

	return selected, expired
}

// PollFilter scans the queue head in priority order, handing each
// deliverable record to the filter. Rejected records are re-added with
// their order preserved; the scan stops when the filter says so or the
// head is penalized.
func (q *Queue) PollFilter(filter Filter) (selected, expired []flowfile.Record) {
	expiration := time.Duration(q.expiration.Load())

	var pulledCount int
	var pulledBytes int64

	q.lock.lock()
	defer func() {
		q.incrementActiveQueueSize(-pulledCount, -pulledBytes)
		q.lock.unlock()
	}()

	q.migrateSwapToActive()
	queueFullAtStart := q.queueFull.Load()
	now := time.Now()

	var unselected []flowfile.Record
	for {
		rec := q.activeQueue.pop()
		if rec == nil {
			break
		}

		if isExpired(rec, expiration, now) {
			expired = append(expired, rec)
			pulledCount++
			pulledBytes += int64(rec.Size())
			if len(expired) >= maxExpiredRecordsPerIteration {
				break
			}
			continue
		}

		if rec.Penalized() {
			q.activeQueue.push(rec)
			break
		}

		result := filter(rec)
		if result.Accept {
			pulledCount++
			pulledBytes += int64(rec.Size())
			q.incrementUnacknowledgedQueueSize(1, int64(rec.Size()))
			selected = append(selected, rec)
		} else {
			unselected = append(unselected, rec)
		}

		if !result.Continue {
			break
		}
	}

	q.activeQueue.pushAll(unselected)

	if len(expired) > 0 {
		metrics.ExpiredFlowFiles.WithLabelValues(q.identifier).Add(float64(len(expired)))
		if queueFullAtStart {
			q.setQueueFull(q.determineIfFull())
		}
	}

	return selected, expired
}

// Acknowledge finalizes one previously polled record. If the queue was
// applying backpressure and this acknowledgement relieves it, the upstream
// source gets one wakeup event.
func (q *Queue) Acknowledge(rec flowfile.Record) {
	q.acknowledge(1, int64(rec.Size()))
}

// AcknowledgeAll finalizes a batch of previously polled records.
func (q *Queue) AcknowledgeAll(records []flowfile.Record) {
	if len(records) == 0 {
		return
	}
	var bytes int64
	for _, rec := range records {
		bytes += int64(rec.Size())
	}
	q.acknowledge(len(records), bytes)
}

func (q *Queue) acknowledge(count int, bytes int64) {
	unblocked := false
	if q.queueFull.Load() {
		q.lock.lock()
		q.incrementUnacknowledgedQueueSize(-count, -bytes)
		full := q.determineIfFull()
		q.setQueueFull(full)
		unblocked = !full
		q.lock.unlock()
	} else {
		q.incrementUnacknowledgedQueueSize(-count, -bytes)
	}

	if unblocked {
		q.notifySource()
	}
}

// notifyDestination wakes the downstream component. Never call with the
// lock held.
func (q *Queue) notifyDestination() {
	if q.scheduler == nil || q.connection == nil {
		return
	}
	dst := q.connection.Destination()
	if dst != nil && dst.SchedulingStrategy() == scheduler.EventDriven {
		q.scheduler.RegisterEvent(dst)
	}
}

// notifySource wakes the upstream component. Never call with the lock held.
func (q *Queue) notifySource() {
	if q.scheduler == nil || q.connection == nil {
		return
	}
	src := q.connection.Source()
	if src != nil && src.SchedulingStrategy() == scheduler.EventDriven {
		q.scheduler.RegisterEvent(src)
	}
}

// migrateSwapToActive refills the active queue from persisted swap files
// and the swap buffer, preserving the order batches were swapped out.
// Must be called with the write lock held.
func (q *Queue) migrateSwapToActive() {
	if q.activeQueue.Len() > q.swapThreshold-swapRecordPollSize {
		return
	}

	// Persisted batches swap back in before the buffer migrates, so that
	// records return in the order they left memory.
	if len(q.swapLocations) > 0 {
		location := q.swapLocations[0]
		q.swapLocations = q.swapLocations[1:]

		records, err := q.swapManager.SwapIn(location, q.identifier)
		if err != nil {
			q.handleSwapInError(location, err)
			return
		}

		var swapBytes int64
		for _, rec := range records {
			swapBytes += int64(rec.Size())
		}
		q.updateSize(len(records), swapBytes, -len(records), -swapBytes, 0, 0)
		q.activeQueue.pushAll(records)
		metrics.SwapInOps.WithLabelValues(q.identifier).Inc()
		return
	}

	size := q.size.Load()
	if size.swappedCount == 0 && len(q.swapQueue) == 0 {
		return
	}

	if size.swappedCount > len(q.swapQueue) {
		// Records are persisted that we have not yet seen via the
		// locations list (recovery in progress); wait for them.
		return
	}

	migrated := 0
	var migratedBytes int64
	for q.activeQueue.Len() < q.swapThreshold && migrated < len(q.swapQueue) {
		rec := q.swapQueue[migrated]
		q.activeQueue.push(rec)
		migratedBytes += int64(rec.Size())
		migrated++
	}
	if migrated > 0 {
		q.swapQueue = q.swapQueue[migrated:]
		q.updateSize(migrated, migratedBytes, -migrated, -migratedBytes, 0, 0)
	}

	if q.size.Load().swappedCount == 0 {
		q.swapMode = false
	}
}

func (q *Queue) handleSwapInError(location string, err error) {
	metrics.SwapErrors.WithLabelValues(q.identifier, "swap_in").Inc()

	if errors.Is(err, swap.ErrNotFound) {
		q.logger.Error("swap file can no longer be found",
			zap.String("location", location))
		q.eventReporter.ReportEvent(events.SeverityError, "Swap File",
			fmt.Sprintf("Failed to swap in FlowFiles from swap location %s because it can no longer be found", location))
		return
	}

	if !q.discardCorruptSwap {
		// Keep the location for retry; swap-in stalls until it recovers
		// or an operator purges it.
		q.swapLocations = append([]string{location}, q.swapLocations...)
	}

	q.logger.Error("swap file appears to be corrupt",
		zap.String("location", location), zap.Error(err))
	q.eventReporter.ReportEvent(events.SeverityError, "Swap File",
		fmt.Sprintf("Failed to swap in FlowFiles from swap location %s; it appears to be corrupt. Some FlowFiles in the queue may not be accessible. See logs for more information.", location))
}

// writeSwapFilesIfNecessary persists full batches of the lowest-priority
// records once the swap buffer is large enough. Must be called with the
// write lock held.
func (q *Queue) writeSwapFilesIfNecessary() {
	if len(q.swapQueue) < swapRecordPollSize {
		return
	}

	numSwapFiles := len(q.swapQueue) / swapRecordPollSize

	originalSwapQueueCount := len(q.swapQueue)
	var originalSwapQueueBytes int64
	for _, rec := range q.swapQueue {
		originalSwapQueueBytes += int64(rec.Size())
	}

	// Merge everything into a reverse-priority heap so the lowest-priority
	// records are persisted and the high-priority ones stay in memory.
	tempQueue := newRecordHeap(newComparator(*q.prioritizers.Load()).reversed())
	tempQueue.pushAll(q.activeQueue.drainTo())
	tempQueue.pushAll(q.swapQueue)

	var bytesSwappedOut int64
	recordsSwappedOut := 0
	var newLocations []string
	for i := 0; i < numSwapFiles; i++ {
		toSwap := make([]flowfile.Record, 0, swapRecordPollSize)
		for j := 0; j < swapRecordPollSize; j++ {
			rec := tempQueue.pop()
			toSwap = append(toSwap, rec)
			bytesSwappedOut += int64(rec.Size())
			recordsSwappedOut++
		}

		// The temp heap yielded reverse priority order; restore priority
		// order within the batch before persisting.
		reverseRecords(toSwap)

		start := time.Now()
		location, err := q.swapManager.SwapOut(toSwap, q.identifier)
		if err != nil {
			tempQueue.pushAll(toSwap)
			bytesSwappedOut -= batchBytes(toSwap)
			recordsSwappedOut -= len(toSwap)

			metrics.SwapErrors.WithLabelValues(q.identifier, "swap_out").Inc()
			q.logger.Error("failed to write swap file",
				zap.Int("queued", q.Size().ObjectCount), zap.Error(err))
			q.eventReporter.ReportEvent(events.SeverityError, "Failed to Overflow to Disk",
				fmt.Sprintf("FlowFile Queue with identifier %s has %d FlowFiles queued up. Attempted to spill FlowFile information over to disk in order to avoid exhausting memory but failed to write the information to disk. See logs for more information.",
					q.identifier, q.Size().ObjectCount))
			break
		}
		metrics.SwapOutOps.WithLabelValues(q.identifier).Inc()
		metrics.SwapOutDuration.WithLabelValues(q.identifier).Observe(time.Since(start).Seconds())
		newLocations = append(newLocations, location)
	}

	// Whatever does not fit back in the active queue stays buffered.
	q.swapQueue = q.swapQueue[:0]
	var updatedSwapQueueBytes int64
	for tempQueue.Len() > q.swapThreshold {
		rec := tempQueue.pop()
		q.swapQueue = append(q.swapQueue, rec)
		updatedSwapQueueBytes += int64(rec.Size())
	}
	reverseRecords(q.swapQueue)

	rebuilt := newRecordHeap(newComparator(*q.prioritizers.Load()))
	var activeQueueBytes int64
	remaining := tempQueue.drainTo()
	for _, rec := range remaining {
		activeQueueBytes += int64(rec.Size())
	}
	rebuilt.pushAll(remaining)
	q.activeQueue = rebuilt

	// One tuple commit: active counters become absolute, swapped counters
	// absorb the buffered delta plus the persisted batches.
	for {
		original := q.size.Load()
		addedSwapRecords := len(q.swapQueue) - originalSwapQueueCount
		addedSwapBytes := updatedSwapQueueBytes - originalSwapQueueBytes
		updated := queueSize{
			activeCount:  q.activeQueue.Len(),
			activeBytes:  activeQueueBytes,
			swappedCount: original.swappedCount + addedSwapRecords + recordsSwappedOut,
			swappedBytes: original.swappedBytes + addedSwapBytes + bytesSwappedOut,
			unackedCount: original.unackedCount,
			unackedBytes: original.unackedBytes,
		}
		if q.size.CompareAndSwap(original, &updated) {
			break
		}
	}
	q.publishSizeMetrics()

	q.swapLocations = append(q.swapLocations, newLocations...)
}

// RecoverSwappedFlowFiles re-registers swap files persisted by a previous
// process. Returns the greatest record id found across them, for seeding
// the id generator. Must be invoked once, before the queue serves traffic.
func (q *Queue) RecoverSwappedFlowFiles() (maxID uint64, ok bool) {
	var recordCount int
	var byteCount int64

	q.lock.lock()
	defer q.lock.unlock()

	locations, err := q.swapManager.RecoverLocations(q.identifier)
	if err != nil {
		q.logger.Error("failed to determine whether any swap files exist", zap.Error(err))
		q.eventReporter.ReportEvent(events.SeverityError, "FlowFile Swapping",
			fmt.Sprintf("Failed to determine whether or not any swap files exist for FlowFile Queue %s; see logs for more details", q.identifier))
		return 0, false
	}

	for _, location := range locations {
		count, bytes, err := q.swapManager.SwapSize(location)
		if err != nil {
			q.logger.Error("failed to read swap file summary; file appears to be corrupt",
				zap.String("location", location), zap.Error(err))
			q.eventReporter.ReportEvent(events.SeverityError, "FlowFile Swapping",
				fmt.Sprintf("Failed to recover FlowFiles from swap location %s; the file appears to be corrupt. See logs for more details", location))
			continue
		}

		if id, found, err := q.swapManager.MaxRecordID(location); err == nil && found {
			if !ok || id > maxID {
				maxID = id
				ok = true
			}
		}

		recordCount += count
		byteCount += int64(bytes)
	}

	q.incrementSwapQueueSize(recordCount, byteCount)
	q.swapLocations = append(q.swapLocations, locations...)
	if len(q.swapLocations) > 0 {
		q.swapMode = true
	}

	q.logger.Info("recovered swapped flowfiles",
		zap.Int("locations", len(locations)),
		zap.Int("records", recordCount),
	)
	return maxID, ok
}

// PurgeSwapFiles discards all persisted swap state. Administrative; any
// swapped-out records are lost.
func (q *Queue) PurgeSwapFiles() error {
	return q.swapManager.Purge()
}

func (q *Queue) publishSizeMetrics() {
	size := q.size.Load()
	metrics.QueueActiveCount.WithLabelValues(q.identifier).Set(float64(size.activeCount))
	metrics.QueueActiveBytes.WithLabelValues(q.identifier).Set(float64(size.activeBytes))
	metrics.QueueSwappedCount.WithLabelValues(q.identifier).Set(float64(size.swappedCount))
	metrics.QueueSwappedBytes.WithLabelValues(q.identifier).Set(float64(size.swappedBytes))
	metrics.QueueUnackedCount.WithLabelValues(q.identifier).Set(float64(size.unackedCount))
	metrics.QueueUnackedBytes.WithLabelValues(q.identifier).Set(float64(size.unackedBytes))
}

func reverseRecords(records []flowfile.Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

func batchBytes(records []flowfile.Record) int64 {
	var total int64
	for _, rec := range records {
		total += int64(rec.Size())
	}
	return total
}
