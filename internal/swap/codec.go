package swap

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
)

const (
	// swapMagic identifies the swap file format.
	swapMagic = uint32(0x46465153) // "FFQS"

	swapVersion = 1

	// headerSize: [4 magic][4 version][4 record_count][8 total_bytes][8 max_id]
	headerSize = 28

	// recordHeaderSize: [4 frame_size][8 id][8 size]
	recordHeaderSize = 20

	checksumSize = 4
)

// encodeSwapFile serializes a batch of records. The header carries the
// batch summary so SwapSize and MaxRecordID can be answered without
// decoding the record frames.
func encodeSwapFile(records []flowfile.Record) []byte {
	var totalBytes uint64
	var maxID uint64
	for _, rec := range records {
		totalBytes += rec.Size()
		if rec.ID() > maxID {
			maxID = rec.ID()
		}
	}

	buf := make([]byte, headerSize, headerSize+len(records)*128)
	binary.BigEndian.PutUint32(buf[0:4], swapMagic)
	binary.BigEndian.PutUint32(buf[4:8], swapVersion)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(records)))
	binary.BigEndian.PutUint64(buf[12:20], totalBytes)
	binary.BigEndian.PutUint64(buf[20:28], maxID)

	for _, rec := range records {
		buf = appendRecord(buf, rec)
	}
	return buf
}

func appendRecord(buf []byte, rec flowfile.Record) []byte {
	frameStart := len(buf)

	hdr := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint64(hdr[4:12], rec.ID())
	binary.BigEndian.PutUint64(hdr[12:20], rec.Size())
	buf = append(buf, hdr...)

	buf = appendTime(buf, rec.EntryDate())
	buf = appendTime(buf, rec.LineageStartDate())
	buf = appendTime(buf, rec.PenaltyExpiration())

	if claim := rec.ContentClaim(); claim != nil {
		buf = append(buf, 1)
		buf = appendString(buf, claim.Resource.Container)
		buf = appendString(buf, claim.Resource.Section)
		buf = appendString(buf, claim.Resource.ID)
		buf = binary.BigEndian.AppendUint64(buf, uint64(claim.Offset))
		buf = binary.BigEndian.AppendUint64(buf, rec.ContentClaimOffset())
	} else {
		buf = append(buf, 0)
	}

	attrs := rec.Attributes()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(attrs)))
	for k, v := range attrs {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}

	frameSize := len(buf) - frameStart + checksumSize
	binary.BigEndian.PutUint32(buf[frameStart:frameStart+4], uint32(frameSize))
	crc := crc32.ChecksumIEEE(buf[frameStart:])
	return binary.BigEndian.AppendUint32(buf, crc)
}

func appendTime(buf []byte, t time.Time) []byte {
	if t.IsZero() {
		return binary.BigEndian.AppendUint64(buf, 0)
	}
	return binary.BigEndian.AppendUint64(buf, uint64(t.UnixMilli()))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// decodeSummary reads only the header of an encoded swap file.
func decodeSummary(data []byte) (count int, bytes uint64, maxID uint64, err error) {
	if len(data) < headerSize {
		return 0, 0, 0, fmt.Errorf("swap file too small: %d bytes", len(data))
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != swapMagic {
		return 0, 0, 0, fmt.Errorf("invalid swap file magic: 0x%08X", magic)
	}
	if version := binary.BigEndian.Uint32(data[4:8]); version != swapVersion {
		return 0, 0, 0, fmt.Errorf("unsupported swap file version: %d", version)
	}
	count = int(binary.BigEndian.Uint32(data[8:12]))
	bytes = binary.BigEndian.Uint64(data[12:20])
	maxID = binary.BigEndian.Uint64(data[20:28])
	return count, bytes, maxID, nil
}

// decodeSwapFile parses a full swap file back into records.
func decodeSwapFile(data []byte) ([]flowfile.Record, error) {
	count, _, _, err := decodeSummary(data)
	if err != nil {
		return nil, err
	}

	records := make([]flowfile.Record, 0, count)
	pos := headerSize
	for pos < len(data) {
		rec, next, err := decodeRecord(data, pos)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		pos = next
	}

	if len(records) != count {
		return nil, fmt.Errorf("swap file truncated: header claims %d records, found %d", count, len(records))
	}
	return records, nil
}

func decodeRecord(data []byte, pos int) (flowfile.Record, int, error) {
	if pos+recordHeaderSize > len(data) {
		return nil, 0, fmt.Errorf("truncated record frame at offset %d", pos)
	}

	frameSize := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	frameEnd := pos + frameSize
	if frameSize < recordHeaderSize+checksumSize || frameEnd > len(data) {
		return nil, 0, fmt.Errorf("invalid frame size %d at offset %d", frameSize, pos)
	}

	expected := binary.BigEndian.Uint32(data[frameEnd-checksumSize : frameEnd])
	actual := crc32.ChecksumIEEE(data[pos : frameEnd-checksumSize])
	if expected != actual {
		return nil, 0, fmt.Errorf("checksum mismatch at offset %d: expected 0x%08X, got 0x%08X", pos, expected, actual)
	}

	b := flowfile.NewBuilder().
		ID(binary.BigEndian.Uint64(data[pos+4 : pos+12])).
		Size(binary.BigEndian.Uint64(data[pos+12 : pos+20]))
	p := pos + recordHeaderSize

	var entry, lineage, penalty time.Time
	var err error
	if entry, p, err = readTime(data, p); err != nil {
		return nil, 0, err
	}
	if lineage, p, err = readTime(data, p); err != nil {
		return nil, 0, err
	}
	if penalty, p, err = readTime(data, p); err != nil {
		return nil, 0, err
	}
	b.EntryDate(entry).LineageStartDate(lineage)
	if !penalty.IsZero() {
		b.PenaltyExpiration(penalty)
	}

	if p >= frameEnd {
		return nil, 0, fmt.Errorf("truncated claim flag at offset %d", p)
	}
	hasClaim := data[p] == 1
	p++

	if hasClaim {
		var container, section, id string
		if container, p, err = readString(data, p); err != nil {
			return nil, 0, err
		}
		if section, p, err = readString(data, p); err != nil {
			return nil, 0, err
		}
		if id, p, err = readString(data, p); err != nil {
			return nil, 0, err
		}
		if p+16 > frameEnd {
			return nil, 0, fmt.Errorf("truncated claim offsets at offset %d", p)
		}
		claimOffset := int64(binary.BigEndian.Uint64(data[p : p+8]))
		recordOffset := binary.BigEndian.Uint64(data[p+8 : p+16])
		p += 16
		b.ContentClaim(&flowfile.ContentClaim{
			Resource: flowfile.ResourceClaim{Container: container, Section: section, ID: id},
			Offset:   claimOffset,
		}, recordOffset)
	}

	if p+4 > frameEnd {
		return nil, 0, fmt.Errorf("truncated attribute count at offset %d", p)
	}
	attrCount := int(binary.BigEndian.Uint32(data[p : p+4]))
	p += 4
	for i := 0; i < attrCount; i++ {
		var k, v string
		if k, p, err = readString(data, p); err != nil {
			return nil, 0, err
		}
		if v, p, err = readString(data, p); err != nil {
			return nil, 0, err
		}
		b.Attribute(k, v)
	}

	if p != frameEnd-checksumSize {
		return nil, 0, fmt.Errorf("malformed record frame at offset %d", pos)
	}
	return b.Build(), frameEnd, nil
}

func readTime(data []byte, pos int) (time.Time, int, error) {
	if pos+8 > len(data) {
		return time.Time{}, 0, fmt.Errorf("truncated timestamp at offset %d", pos)
	}
	millis := binary.BigEndian.Uint64(data[pos : pos+8])
	if millis == 0 {
		return time.Time{}, pos + 8, nil
	}
	return time.UnixMilli(int64(millis)), pos + 8, nil
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", 0, fmt.Errorf("truncated string length at offset %d", pos)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return "", 0, fmt.Errorf("truncated string at offset %d", pos)
	}
	return string(data[pos : pos+n]), pos + n, nil
}
