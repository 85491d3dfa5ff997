// Package repo defines the durable repositories a queue collaborates with:
// the flowfile repository that records lifecycle changes and the provenance
// repository that records lineage events.
package repo

import (
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
)

// RecordType classifies a repository update.
type RecordType int

const (
	RecordTypeCreate RecordType = iota
	RecordTypeUpdate
	RecordTypeDelete
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeCreate:
		return "create"
	case RecordTypeUpdate:
		return "update"
	case RecordTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RepositoryRecord conveys one flowfile lifecycle change.
type RepositoryRecord struct {
	Type            RecordType
	OriginalQueueID string
	Record          flowfile.Record
}

// FlowFileRepository persists flowfile lifecycle changes. UpdateRepository
// must be durable before returning; a drop request is only reported
// complete once its delete records are on disk.
type FlowFileRepository interface {
	UpdateRepository(records []RepositoryRecord) error
}

// EventType classifies a provenance event.
type EventType string

const (
	EventTypeCreate EventType = "CREATE"
	EventTypeSend   EventType = "SEND"
	EventTypeDrop   EventType = "DROP"
	EventTypeExpire EventType = "EXPIRE"
)

// ClaimSnapshot captures the content claim a flowfile held when an event
// was recorded.
type ClaimSnapshot struct {
	Container string
	Section   string
	ID        string
	Offset    int64
	Size      uint64
}

// ProvenanceEvent is one recorded lineage event.
type ProvenanceEvent struct {
	EventType        EventType
	EventTime        time.Time
	FlowFileID       uint64
	ComponentID      string
	ComponentType    string
	SourceQueueID    string
	Details          string
	LineageStartDate time.Time
	Attributes       map[string]string
	PreviousClaim    *ClaimSnapshot
}

// ProvenanceRepository records lineage events.
type ProvenanceRepository interface {
	EventBuilder() *ProvenanceEventBuilder
	RegisterEvents(events []ProvenanceEvent) error
}

// ProvenanceEventBuilder assembles a ProvenanceEvent.
type ProvenanceEventBuilder struct {
	event ProvenanceEvent
}

func NewEventBuilder() *ProvenanceEventBuilder {
	return &ProvenanceEventBuilder{}
}

// FromRecord seeds the event with the record's identity, lineage, and
// attribute snapshot.
func (b *ProvenanceEventBuilder) FromRecord(rec flowfile.Record) *ProvenanceEventBuilder {
	b.event.FlowFileID = rec.ID()
	b.event.LineageStartDate = rec.LineageStartDate()
	if attrs := rec.Attributes(); len(attrs) > 0 {
		b.event.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			b.event.Attributes[k] = v
		}
	}
	return b
}

func (b *ProvenanceEventBuilder) EventType(t EventType) *ProvenanceEventBuilder {
	b.event.EventType = t
	return b
}

func (b *ProvenanceEventBuilder) ComponentID(id string) *ProvenanceEventBuilder {
	b.event.ComponentID = id
	return b
}

func (b *ProvenanceEventBuilder) ComponentType(t string) *ProvenanceEventBuilder {
	b.event.ComponentType = t
	return b
}

func (b *ProvenanceEventBuilder) SourceQueueID(id string) *ProvenanceEventBuilder {
	b.event.SourceQueueID = id
	return b
}

func (b *ProvenanceEventBuilder) Details(details string) *ProvenanceEventBuilder {
	b.event.Details = details
	return b
}

// PreviousContentClaim records the claim the flowfile held before the event.
func (b *ProvenanceEventBuilder) PreviousContentClaim(container, section, id string, offset int64, size uint64) *ProvenanceEventBuilder {
	b.event.PreviousClaim = &ClaimSnapshot{
		Container: container,
		Section:   section,
		ID:        id,
		Offset:    offset,
		Size:      size,
	}
	return b
}

func (b *ProvenanceEventBuilder) Build() ProvenanceEvent {
	event := b.event
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}
	return event
}
