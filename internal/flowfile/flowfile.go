package flowfile

import "time"

// Record is a single unit of work moving through the dataflow graph. The
// queue treats records as immutable; attribute and content mutation happens
// in the repositories that own them.
type Record interface {
	// ID is a stable identifier, unique for the lifetime of the repository.
	ID() uint64

	// Size is the size of the record's content in bytes.
	Size() uint64

	// EntryDate is the instant the record entered the flow.
	EntryDate() time.Time

	// LineageStartDate is the entry date of the record's oldest ancestor.
	LineageStartDate() time.Time

	// Penalized reports whether the record is currently deferred.
	Penalized() bool

	// PenaltyExpiration is the instant the penalty lapses. Zero if the
	// record was never penalized.
	PenaltyExpiration() time.Time

	// ContentClaim points at the record's content, or nil if the record
	// has no content.
	ContentClaim() *ContentClaim

	// ContentClaimOffset is the byte offset of this record's content
	// within the claim.
	ContentClaimOffset() uint64

	// Attributes returns the record's attribute map. Callers must not
	// modify the returned map.
	Attributes() map[string]string
}

// Prioritizer imposes a user-chosen ordering on records. Compare returns a
// negative value if a should be processed before b, positive if after, and
// zero if the prioritizer has no preference.
type Prioritizer interface {
	Compare(a, b Record) int
}
