// Package ingest connects a flowfile queue to NATS: inbound messages
// become flowfile records, and polled records are delivered to an outbound
// subject.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/config"
	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/metrics"
	"github.com/gftdcojp/flowfile-queue/internal/queue"
	"github.com/gftdcojp/flowfile-queue/internal/repo"
	"github.com/gftdcojp/flowfile-queue/internal/scheduler"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	contentContainer = "memory"
	contentSection   = "default"

	// deliveryInterval is the fallback cadence of the delivery loop when
	// no event-driven wakeups arrive.
	deliveryInterval = time.Second

	// backpressurePoll bounds how long the consumer sleeps while the
	// queue is full before rechecking, in case the wakeup was missed.
	backpressurePoll = 500 * time.Millisecond
)

// PipelineConfig holds dependencies for one queue's pipeline.
type PipelineConfig struct {
	NC           *nats.Conn
	Queue        *queue.Queue
	QueueCfg     config.QueueConfig
	Repository   repo.FlowFileRepository
	Provenance   repo.ProvenanceRepository
	ClaimManager flowfile.ClaimManager
	Scheduler    *scheduler.ChannelScheduler
	Source       scheduler.Component
	Destination  scheduler.Component
	NextID       *atomic.Uint64
	Logger       *zap.Logger
}

// Pipeline moves messages from the inbound subject through the queue to
// the outbound subject.
type Pipeline struct {
	nc         *nats.Conn
	queue      *queue.Queue
	queueCfg   config.QueueConfig
	repository repo.FlowFileRepository
	provenance repo.ProvenanceRepository
	content    *contentStore
	sched      *scheduler.ChannelScheduler
	source     scheduler.Component
	dest       scheduler.Component
	nextID     *atomic.Uint64
	logger     *zap.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		nc:         cfg.NC,
		queue:      cfg.Queue,
		queueCfg:   cfg.QueueCfg,
		repository: cfg.Repository,
		provenance: cfg.Provenance,
		content:    newContentStore(cfg.ClaimManager),
		sched:      cfg.Scheduler,
		source:     cfg.Source,
		dest:       cfg.Destination,
		nextID:     cfg.NextID,
		logger:     cfg.Logger,
	}
}

// QueueID returns the identifier of the queue this pipeline feeds.
func (p *Pipeline) QueueID() string {
	return p.queue.Identifier()
}

// Run consumes and delivers until the context is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runConsumer(gctx) })
	g.Go(func() error { return p.runDelivery(gctx) })
	return g.Wait()
}

// runConsumer turns inbound NATS messages into queued flowfile records.
// While the queue is full it stops pulling, which leaves messages pending
// in the subscription's buffer and, past that, in the NATS server.
func (p *Pipeline) runConsumer(ctx context.Context) error {
	msgCh := make(chan *nats.Msg, 256)
	sub, err := p.nc.ChanSubscribe(p.queueCfg.InSubject, msgCh)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", p.queueCfg.InSubject, err)
	}
	defer sub.Unsubscribe()

	sourceWakeup := p.sched.Subscribe(p.source)

	p.logger.Info("consumer started",
		zap.String("subject", p.queueCfg.InSubject),
		zap.String("queue", p.queue.Identifier()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgCh:
			if err := p.waitForCapacity(ctx, sourceWakeup); err != nil {
				return err
			}
			if err := p.ingestMessage(msg); err != nil {
				p.logger.Error("failed to ingest message", zap.Error(err))
			}
		}
	}
}

// waitForCapacity blocks while the queue applies backpressure. The queue
// wakes the source component on the acknowledgement that relieves it.
func (p *Pipeline) waitForCapacity(ctx context.Context, wakeup <-chan struct{}) error {
	for p.queue.IsFull() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wakeup:
		case <-time.After(backpressurePoll):
		}
	}
	return nil
}

func (p *Pipeline) ingestMessage(msg *nats.Msg) error {
	id := p.nextID.Add(1)
	claim := flowfile.ResourceClaim{
		Container: contentContainer,
		Section:   contentSection,
		ID:        strconv.FormatUint(id, 10),
	}
	p.content.put(claim, msg.Data)

	builder := flowfile.NewBuilder().
		ID(id).
		Size(uint64(len(msg.Data))).
		ContentClaim(&flowfile.ContentClaim{Resource: claim}, 0).
		Attribute("nats.subject", msg.Subject)
	for key, values := range msg.Header {
		if len(values) > 0 {
			builder.Attribute("nats.header."+key, values[0])
		}
	}
	rec := builder.Build()

	if err := p.repository.UpdateRepository([]repo.RepositoryRecord{{
		Type:            repo.RecordTypeCreate,
		OriginalQueueID: p.queue.Identifier(),
		Record:          rec,
	}}); err != nil {
		p.content.release(claim)
		return fmt.Errorf("recording flowfile %d: %w", id, err)
	}

	event := p.provenance.EventBuilder().
		FromRecord(rec).
		EventType(repo.EventTypeCreate).
		ComponentID(p.source.Identifier()).
		ComponentType("Processor").
		Build()
	if err := p.provenance.RegisterEvents([]repo.ProvenanceEvent{event}); err != nil {
		p.logger.Warn("failed to register CREATE event", zap.Error(err), zap.Uint64("id", id))
	}

	p.queue.Put(rec)
	metrics.FlowFilesIn.WithLabelValues(p.queue.Identifier()).Inc()
	return nil
}

// runDelivery polls batches off the queue and publishes them outbound.
// It wakes on destination events (each Put fires one) with a ticker as a
// safety net for penalized or recovered records.
func (p *Pipeline) runDelivery(ctx context.Context) error {
	destWakeup := p.sched.Subscribe(p.dest)
	ticker := time.NewTicker(deliveryInterval)
	defer ticker.Stop()

	p.logger.Info("delivery started",
		zap.String("subject", p.queueCfg.OutSubject),
		zap.String("queue", p.queue.Identifier()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-destWakeup:
		case <-ticker.C:
		}

		for {
			selected, expired := p.queue.PollBatch(p.queueCfg.DeliveryBatch)
			p.finalizeExpired(expired)
			if len(selected) == 0 {
				break
			}
			p.deliver(selected)
		}
	}
}

func (p *Pipeline) deliver(records []flowfile.Record) {
	delivered := make([]flowfile.Record, 0, len(records))
	provenanceEvents := make([]repo.ProvenanceEvent, 0, len(records))
	repoRecords := make([]repo.RepositoryRecord, 0, len(records))

	for _, rec := range records {
		payload, err := p.contentFor(rec)
		if err != nil {
			p.logger.Error("content missing for flowfile; dropping",
				zap.Uint64("id", rec.ID()), zap.Error(err))
			delivered = append(delivered, rec)
			continue
		}

		msg := nats.NewMsg(p.queueCfg.OutSubject)
		msg.Data = payload
		msg.Header.Set("FFQ-Id", strconv.FormatUint(rec.ID(), 10))
		for k, v := range rec.Attributes() {
			msg.Header.Set("FFQ-Attr-"+k, v)
		}
		if err := p.nc.PublishMsg(msg); err != nil {
			p.logger.Error("failed to publish flowfile; requeueing",
				zap.Uint64("id", rec.ID()), zap.Error(err))
			// Put it back rather than acknowledging it away.
			p.queue.Acknowledge(rec)
			p.queue.Put(rec)
			continue
		}

		delivered = append(delivered, rec)
		metrics.FlowFilesOut.WithLabelValues(p.queue.Identifier()).Inc()

		provenanceEvents = append(provenanceEvents, p.provenance.EventBuilder().
			FromRecord(rec).
			EventType(repo.EventTypeSend).
			ComponentID(p.dest.Identifier()).
			ComponentType("Processor").
			Details(fmt.Sprintf("Delivered to %s", p.queueCfg.OutSubject)).
			Build())
		repoRecords = append(repoRecords, repo.RepositoryRecord{
			Type:            repo.RecordTypeDelete,
			OriginalQueueID: p.queue.Identifier(),
			Record:          rec,
		})
	}

	p.queue.AcknowledgeAll(delivered)
	for _, rec := range delivered {
		if claim := rec.ContentClaim(); claim != nil {
			p.content.release(claim.Resource)
		}
	}

	if err := p.provenance.RegisterEvents(provenanceEvents); err != nil {
		p.logger.Warn("failed to register SEND events", zap.Error(err))
	}
	if err := p.repository.UpdateRepository(repoRecords); err != nil {
		p.logger.Warn("failed to persist delivery deletes", zap.Error(err))
	}
}

func (p *Pipeline) contentFor(rec flowfile.Record) ([]byte, error) {
	claim := rec.ContentClaim()
	if claim == nil {
		return nil, nil
	}
	return p.content.get(claim.Resource)
}

// finalizeExpired finishes records the queue expired out of a poll: EXPIRE
// provenance, repository deletes, and content release.
func (p *Pipeline) finalizeExpired(expired []flowfile.Record) {
	if len(expired) == 0 {
		return
	}
	p.queue.ReportExpired(expired)
	p.content.sweep()
}
