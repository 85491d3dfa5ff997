package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/events"
	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/metrics"
	"github.com/gftdcojp/flowfile-queue/internal/repo"
	"go.uber.org/zap"
)

// DropRequestState is the lifecycle state of a drop request.
type DropRequestState string

const (
	DropStateWaiting  DropRequestState = "WAITING"
	DropStateDropping DropRequestState = "DROPPING"
	DropStateComplete DropRequestState = "COMPLETE"
	DropStateCanceled DropRequestState = "CANCELED"
	DropStateFailure  DropRequestState = "FAILURE"
)

func (s DropRequestState) terminal() bool {
	return s == DropStateComplete || s == DropStateCanceled || s == DropStateFailure
}

// DropRequest tracks one background drop operation. Fields are mutated by
// the owning worker; Cancel may be called from any goroutine.
type DropRequest struct {
	id string

	mu            sync.Mutex
	state         DropRequestState
	failureReason string
	originalSize  QueueSize
	currentSize   QueueSize
	droppedSize   QueueSize
	lastUpdated   time.Time
}

func newDropRequest(id string) *DropRequest {
	return &DropRequest{
		id:          id,
		state:       DropStateWaiting,
		lastUpdated: time.Now(),
	}
}

func (r *DropRequest) ID() string {
	return r.id
}

// State returns the current state and, for FAILURE, the reason.
func (r *DropRequest) State() (DropRequestState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.failureReason
}

func (r *DropRequest) OriginalSize() QueueSize {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.originalSize
}

func (r *DropRequest) CurrentSize() QueueSize {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSize
}

func (r *DropRequest) DroppedSize() QueueSize {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.droppedSize
}

func (r *DropRequest) LastUpdated() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdated
}

// Cancel asks the worker to stop. Progress made so far is kept. Has no
// effect once the request is in a terminal state.
func (r *DropRequest) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return
	}
	r.state = DropStateCanceled
	r.lastUpdated = time.Now()
}

func (r *DropRequest) canceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == DropStateCanceled
}

func (r *DropRequest) setState(state DropRequestState, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return
	}
	r.state = state
	r.failureReason = reason
	r.lastUpdated = time.Now()
}

func (r *DropRequest) setOriginalSize(size QueueSize) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.originalSize = size
	r.lastUpdated = time.Now()
}

func (r *DropRequest) setCurrentSize(size QueueSize) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentSize = size
	r.lastUpdated = time.Now()
}

func (r *DropRequest) addDroppedSize(size QueueSize) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.droppedSize = r.droppedSize.Add(size)
	r.lastUpdated = time.Now()
}

// dropRequestMap holds recent requests so callers can poll status.
type dropRequestMap struct {
	mu       sync.Mutex
	requests map[string]*DropRequest
}

func (m *dropRequestMap) put(req *DropRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.id] = req
}

func (m *dropRequestMap) get(id string) *DropRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id]
}

func (m *dropRequestMap) remove(id string) *DropRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.requests[id]
	delete(m.requests, id)
	return req
}

// evictStale removes terminal requests that have not been updated for five
// minutes, once the map grows past ten entries.
func (m *dropRequestMap) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) <= 10 {
		return
	}
	cutoff := time.Now().Add(-5 * time.Minute)
	for id, req := range m.requests {
		state, _ := req.State()
		if state.terminal() && req.LastUpdated().Before(cutoff) {
			delete(m.requests, id)
		}
	}
}

// DropFlowFiles starts a background worker that removes every record from
// the queue: active, buffered, and persisted. The returned request tracks
// progress and accepts cancellation. The worker holds the queue's write
// lock for its entire run, so no record can enter or leave while a drop is
// underway.
func (q *Queue) DropFlowFiles(requestID, requestor string) *DropRequest {
	q.logger.Info("initiating drop of flowfiles",
		zap.String("request_id", requestID),
		zap.String("requestor", requestor),
	)

	q.drops.evictStale()

	request := newDropRequest(requestID)
	request.setCurrentSize(q.Size())
	q.drops.put(request)

	go q.runDropWorker(request, requestor)

	return request
}

// CancelDropRequest cancels and removes a pending request. Returns nil if
// no request with the id exists.
func (q *Queue) CancelDropRequest(requestID string) *DropRequest {
	request := q.drops.remove(requestID)
	if request == nil {
		return nil
	}
	request.Cancel()
	return request
}

// DropRequestStatus returns the request with the given id, or nil.
func (q *Queue) DropRequestStatus(requestID string) *DropRequest {
	return q.drops.get(requestID)
}

func (q *Queue) runDropWorker(request *DropRequest, requestor string) {
	start := time.Now()
	defer func() {
		state, _ := request.State()
		metrics.DropRequestDuration.WithLabelValues(q.identifier, string(state)).Observe(time.Since(start).Seconds())
	}()

	q.lock.lock()
	defer q.lock.unlock()

	request.setState(DropStateDropping, "")
	request.setOriginalSize(q.Size())

	// Phase 1: the active queue.
	if request.canceled() {
		return
	}
	activeRecords := append([]flowfile.Record(nil), q.activeQueue.records...)
	droppedSize, err := q.drop(activeRecords, requestor)
	if err != nil {
		q.logger.Error("failed to drop flowfiles from active queue", zap.Error(err))
		request.setState(DropStateFailure, fmt.Sprintf("Failed to drop FlowFiles due to %s", err))
		return
	}
	q.activeQueue = newRecordHeap(newComparator(*q.prioritizers.Load()))
	q.incrementActiveQueueSize(-droppedSize.ObjectCount, -droppedSize.ByteCount)
	request.setCurrentSize(q.Size())
	request.addDroppedSize(droppedSize)
	metrics.DroppedFlowFiles.WithLabelValues(q.identifier).Add(float64(droppedSize.ObjectCount))

	// Phase 2: the swap buffer.
	if request.canceled() {
		return
	}
	droppedSize, err = q.drop(q.swapQueue, requestor)
	if err != nil {
		q.logger.Error("failed to drop flowfiles from swap buffer", zap.Error(err))
		request.setState(DropStateFailure, fmt.Sprintf("Failed to drop FlowFiles due to %s", err))
		return
	}
	q.swapQueue = nil
	q.swapMode = false
	q.incrementSwapQueueSize(-droppedSize.ObjectCount, -droppedSize.ByteCount)
	request.setCurrentSize(q.Size())
	request.addDroppedSize(droppedSize)
	metrics.DroppedFlowFiles.WithLabelValues(q.identifier).Add(float64(droppedSize.ObjectCount))

	// Phase 3: persisted swap files, oldest first.
	for len(q.swapLocations) > 0 {
		if request.canceled() {
			return
		}

		location := q.swapLocations[0]
		swappedIn, err := q.swapManager.SwapIn(location, q.identifier)
		if err != nil {
			q.logger.Error("failed to swap in flowfiles to drop them",
				zap.String("location", location), zap.Error(err))
			request.setState(DropStateFailure,
				fmt.Sprintf("Failed to swap in FlowFiles from swap location %s due to %s", location, err))
			return
		}

		droppedSize, err = q.drop(swappedIn, requestor)
		if err != nil {
			q.logger.Error("failed to drop swapped-in flowfiles",
				zap.String("location", location), zap.Error(err))
			request.setState(DropStateFailure, fmt.Sprintf("Failed to drop FlowFiles due to %s", err))
			// The batch is already off disk; keep the records in memory
			// rather than losing them.
			q.activeQueue.pushAll(swappedIn)
			q.updateSize(len(swappedIn), batchBytes(swappedIn), -len(swappedIn), -batchBytes(swappedIn), 0, 0)
			q.swapLocations = q.swapLocations[1:]
			return
		}

		q.swapLocations = q.swapLocations[1:]
		q.incrementSwapQueueSize(-droppedSize.ObjectCount, -droppedSize.ByteCount)
		request.setCurrentSize(q.Size())
		request.addDroppedSize(droppedSize)
		metrics.DroppedFlowFiles.WithLabelValues(q.identifier).Add(float64(droppedSize.ObjectCount))
	}

	dropped := request.DroppedSize()
	q.logger.Info("successfully dropped flowfiles",
		zap.Int("count", dropped.ObjectCount),
		zap.Int64("bytes", dropped.ByteCount),
		zap.String("requestor", requestor),
	)
	request.setState(DropStateComplete, "")
}

// drop finalizes a batch of records: one DROP provenance event and one
// DELETE repository record per flowfile, and one claimant-count decrement
// per content claim.
func (q *Queue) drop(records []flowfile.Record, requestor string) (QueueSize, error) {
	if len(records) == 0 {
		return QueueSize{}, nil
	}

	provenanceEvents := make([]repo.ProvenanceEvent, 0, len(records))
	repoRecords := make([]repo.RepositoryRecord, 0, len(records))
	for _, rec := range records {
		provenanceEvents = append(provenanceEvents, q.createDropEvent(rec, requestor))
		repoRecords = append(repoRecords, repo.RepositoryRecord{
			Type:            repo.RecordTypeDelete,
			OriginalQueueID: q.identifier,
			Record:          rec,
		})
	}

	var dropContentSize int64
	for _, rec := range records {
		dropContentSize += int64(rec.Size())
		if claim := rec.ContentClaim(); claim != nil {
			q.claimManager.DecrementClaimantCount(claim.Resource)
		}
	}

	if err := q.provRepo.RegisterEvents(provenanceEvents); err != nil {
		return QueueSize{}, err
	}
	if err := q.flowFileRepo.UpdateRepository(repoRecords); err != nil {
		return QueueSize{}, err
	}
	return QueueSize{ObjectCount: len(records), ByteCount: dropContentSize}, nil
}

func (q *Queue) createDropEvent(rec flowfile.Record, requestor string) repo.ProvenanceEvent {
	builder := q.provRepo.EventBuilder().
		FromRecord(rec).
		EventType(repo.EventTypeDrop).
		ComponentID(q.identifier).
		ComponentType("Connection").
		SourceQueueID(q.identifier).
		Details(fmt.Sprintf("FlowFile Queue emptied by %s", requestor))

	if claim := rec.ContentClaim(); claim != nil {
		builder.PreviousContentClaim(
			claim.Resource.Container, claim.Resource.Section, claim.Resource.ID,
			claim.Offset, rec.Size(),
		)
	}

	return builder.Build()
}

// ReportExpired emits one EXPIRE provenance event per expired record and
// releases their content claims. Callers that receive expired records from
// a poll use this to finalize them.
func (q *Queue) ReportExpired(records []flowfile.Record) {
	if len(records) == 0 {
		return
	}

	provenanceEvents := make([]repo.ProvenanceEvent, 0, len(records))
	repoRecords := make([]repo.RepositoryRecord, 0, len(records))
	for _, rec := range records {
		builder := q.provRepo.EventBuilder().
			FromRecord(rec).
			EventType(repo.EventTypeExpire).
			ComponentID(q.identifier).
			ComponentType("Connection").
			SourceQueueID(q.identifier).
			Details(fmt.Sprintf("Expiration threshold of %s exceeded", q.FlowFileExpiration()))
		if claim := rec.ContentClaim(); claim != nil {
			builder.PreviousContentClaim(
				claim.Resource.Container, claim.Resource.Section, claim.Resource.ID,
				claim.Offset, rec.Size(),
			)
			q.claimManager.DecrementClaimantCount(claim.Resource)
		}
		provenanceEvents = append(provenanceEvents, builder.Build())
		repoRecords = append(repoRecords, repo.RepositoryRecord{
			Type:            repo.RecordTypeDelete,
			OriginalQueueID: q.identifier,
			Record:          rec,
		})
	}

	if err := q.provRepo.RegisterEvents(provenanceEvents); err != nil {
		q.logger.Error("failed to register expiration events", zap.Error(err))
		q.eventReporter.ReportEvent(events.SeverityError, "FlowFile Expiration",
			fmt.Sprintf("Failed to register EXPIRE provenance events for queue %s; see logs for more details", q.identifier))
	}
	if err := q.flowFileRepo.UpdateRepository(repoRecords); err != nil {
		q.logger.Error("failed to persist expiration deletes", zap.Error(err))
		q.eventReporter.ReportEvent(events.SeverityError, "FlowFile Expiration",
			fmt.Sprintf("Failed to persist deletion of expired FlowFiles for queue %s; see logs for more details", q.identifier))
	}
}
