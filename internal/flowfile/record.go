package flowfile

import "time"

// standardRecord is the concrete Record used by the service, the swap
// codec, and tests. Built via Builder; immutable afterward.
type standardRecord struct {
	id                 uint64
	size               uint64
	entryDate          time.Time
	lineageStart       time.Time
	penaltyExpiration  time.Time
	contentClaim       *ContentClaim
	contentClaimOffset uint64
	attributes         map[string]string
}

func (r *standardRecord) ID() uint64                   { return r.id }
func (r *standardRecord) Size() uint64                 { return r.size }
func (r *standardRecord) EntryDate() time.Time         { return r.entryDate }
func (r *standardRecord) LineageStartDate() time.Time  { return r.lineageStart }
func (r *standardRecord) PenaltyExpiration() time.Time { return r.penaltyExpiration }
func (r *standardRecord) ContentClaim() *ContentClaim  { return r.contentClaim }
func (r *standardRecord) ContentClaimOffset() uint64   { return r.contentClaimOffset }
func (r *standardRecord) Attributes() map[string]string {
	return r.attributes
}

func (r *standardRecord) Penalized() bool {
	if r.penaltyExpiration.IsZero() {
		return false
	}
	return time.Now().Before(r.penaltyExpiration)
}

// Builder assembles Records.
type Builder struct {
	rec standardRecord
}

func NewBuilder() *Builder {
	return &Builder{}
}

// From seeds the builder with an existing record's fields.
func (b *Builder) From(rec Record) *Builder {
	b.rec = standardRecord{
		id:                 rec.ID(),
		size:               rec.Size(),
		entryDate:          rec.EntryDate(),
		lineageStart:       rec.LineageStartDate(),
		penaltyExpiration:  rec.PenaltyExpiration(),
		contentClaim:       rec.ContentClaim(),
		contentClaimOffset: rec.ContentClaimOffset(),
	}
	if attrs := rec.Attributes(); len(attrs) > 0 {
		b.rec.attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			b.rec.attributes[k] = v
		}
	}
	return b
}

func (b *Builder) ID(id uint64) *Builder {
	b.rec.id = id
	return b
}

func (b *Builder) Size(size uint64) *Builder {
	b.rec.size = size
	return b
}

func (b *Builder) EntryDate(t time.Time) *Builder {
	b.rec.entryDate = t
	return b
}

func (b *Builder) LineageStartDate(t time.Time) *Builder {
	b.rec.lineageStart = t
	return b
}

// PenaltyExpiration marks the record penalized until t.
func (b *Builder) PenaltyExpiration(t time.Time) *Builder {
	b.rec.penaltyExpiration = t
	return b
}

func (b *Builder) ContentClaim(claim *ContentClaim, offset uint64) *Builder {
	b.rec.contentClaim = claim
	b.rec.contentClaimOffset = offset
	return b
}

func (b *Builder) Attribute(key, value string) *Builder {
	if b.rec.attributes == nil {
		b.rec.attributes = make(map[string]string)
	}
	b.rec.attributes[key] = value
	return b
}

func (b *Builder) Attributes(attrs map[string]string) *Builder {
	for k, v := range attrs {
		b.Attribute(k, v)
	}
	return b
}

// Build finalizes the record. The builder must not be reused afterward.
func (b *Builder) Build() Record {
	rec := b.rec
	if rec.entryDate.IsZero() {
		rec.entryDate = time.Now()
	}
	if rec.lineageStart.IsZero() {
		rec.lineageStart = rec.entryDate
	}
	return &rec
}
