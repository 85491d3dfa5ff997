package repo

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketSystem    = []byte("system")
	bucketFlowFiles = []byte("flowfiles")
	bucketEvents    = []byte("provenance")

	keySchemaVersion = []byte("schema_version")
	keyMaxRecordID   = []byte("max_record_id")
)

const currentSchemaVersion = 1

// BoltRepository implements FlowFileRepository and ProvenanceRepository on
// a single bbolt file.
type BoltRepository struct {
	db     *bbolt.DB
	logger *zap.Logger
}

func NewBoltRepository(path string, noSync bool, logger *zap.Logger) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, NoSync: noSync})
	if err != nil {
		return nil, fmt.Errorf("opening repository db: %w", err)
	}

	r := &BoltRepository{db: db, logger: logger}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *BoltRepository) initSchema() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSystem, bucketFlowFiles, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		sys := tx.Bucket(bucketSystem)
		if sys.Get(keySchemaVersion) == nil {
			return sys.Put(keySchemaVersion, uint64ToBytes(currentSchemaVersion))
		}
		return nil
	})
}

// flowFileEntry is the persisted snapshot of a flowfile record.
type flowFileEntry struct {
	ID                 uint64
	Size               uint64
	EntryDate          time.Time
	LineageStartDate   time.Time
	PenaltyExpiration  time.Time
	QueueID            string
	Attributes         map[string]string
	HasClaim           bool
	ClaimContainer     string
	ClaimSection       string
	ClaimID            string
	ClaimOffset        int64
	ContentClaimOffset uint64
}

func entryFromRecord(queueID string, rec flowfile.Record) flowFileEntry {
	entry := flowFileEntry{
		ID:                 rec.ID(),
		Size:               rec.Size(),
		EntryDate:          rec.EntryDate(),
		LineageStartDate:   rec.LineageStartDate(),
		PenaltyExpiration:  rec.PenaltyExpiration(),
		QueueID:            queueID,
		Attributes:         rec.Attributes(),
		ContentClaimOffset: rec.ContentClaimOffset(),
	}
	if claim := rec.ContentClaim(); claim != nil {
		entry.HasClaim = true
		entry.ClaimContainer = claim.Resource.Container
		entry.ClaimSection = claim.Resource.Section
		entry.ClaimID = claim.Resource.ID
		entry.ClaimOffset = claim.Offset
	}
	return entry
}

// UpdateRepository applies lifecycle records in one durable transaction.
func (r *BoltRepository) UpdateRepository(records []RepositoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := r.db.Update(func(tx *bbolt.Tx) error {
		flowFiles := tx.Bucket(bucketFlowFiles)
		sys := tx.Bucket(bucketSystem)

		var maxID uint64
		if raw := sys.Get(keyMaxRecordID); raw != nil {
			maxID = bytesToUint64(raw)
		}

		for _, record := range records {
			key := uint64ToBytes(record.Record.ID())
			switch record.Type {
			case RecordTypeDelete:
				if err := flowFiles.Delete(key); err != nil {
					return err
				}
			default:
				data, err := encodeGob(entryFromRecord(record.OriginalQueueID, record.Record))
				if err != nil {
					return err
				}
				if err := flowFiles.Put(key, data); err != nil {
					return err
				}
			}
			if record.Record.ID() > maxID {
				maxID = record.Record.ID()
			}
		}

		return sys.Put(keyMaxRecordID, uint64ToBytes(maxID))
	})
	if err != nil {
		return fmt.Errorf("updating flowfile repository: %w", err)
	}

	r.logger.Debug("flowfile repository updated", zap.Int("records", len(records)))
	return nil
}

// MaxRecordID returns the greatest flowfile id the repository has seen.
// Used to seed the id generator after restart.
func (r *BoltRepository) MaxRecordID() (uint64, error) {
	var maxID uint64
	err := r.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketSystem).Get(keyMaxRecordID); raw != nil {
			maxID = bytesToUint64(raw)
		}
		return nil
	})
	return maxID, err
}

func (r *BoltRepository) EventBuilder() *ProvenanceEventBuilder {
	return NewEventBuilder()
}

// RegisterEvents appends provenance events in one durable transaction.
func (r *BoltRepository) RegisterEvents(events []ProvenanceEvent) error {
	if len(events) == 0 {
		return nil
	}

	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		for _, event := range events {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			data, err := encodeGob(event)
			if err != nil {
				return err
			}
			if err := bucket.Put(uint64ToBytes(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("registering provenance events: %w", err)
	}
	return nil
}

// EventsSince returns up to limit events with sequence greater than afterSeq,
// along with the sequence of the last event returned.
func (r *BoltRepository) EventsSince(afterSeq uint64, limit int) ([]ProvenanceEvent, uint64, error) {
	var events []ProvenanceEvent
	lastSeq := afterSeq

	err := r.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(uint64ToBytes(afterSeq + 1)); k != nil; k, v = c.Next() {
			var event ProvenanceEvent
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&event); err != nil {
				return err
			}
			events = append(events, event)
			lastSeq = bytesToUint64(k)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("reading provenance events: %w", err)
	}
	return events, lastSeq, nil
}

func (r *BoltRepository) Ping() error {
	return r.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSystem) == nil {
			return fmt.Errorf("system bucket missing")
		}
		return nil
	})
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
