package swap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client the swap manager uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Manager implements Manager on S3-compatible object storage. Object keys
// embed a nanosecond timestamp and sequence number so that lexical key order
// equals swap-out order, which ListObjectsV2 returns natively.
type S3Manager struct {
	s3     S3API
	bucket string
	prefix string
	seq    atomic.Uint64
	logger *zap.Logger
}

func NewS3Manager(s3api S3API, bucket, prefix string, logger *zap.Logger) *S3Manager {
	return &S3Manager{
		s3:     s3api,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

func (m *S3Manager) queuePrefix(queueID string) string {
	if m.prefix != "" {
		return m.prefix + "/" + sanitizeQueueID(queueID) + "/"
	}
	return sanitizeQueueID(queueID) + "/"
}

func (m *S3Manager) SwapOut(records []flowfile.Record, queueID string) (string, error) {
	key := fmt.Sprintf("%s%020d-%010d%s", m.queuePrefix(queueID), time.Now().UnixNano(), m.seq.Add(1), swapFileSuffix)
	data := encodeSwapFile(records)

	var totalBytes uint64
	var maxID uint64
	for _, rec := range records {
		totalBytes += rec.Size()
		if rec.ID() > maxID {
			maxID = rec.ID()
		}
	}

	_, err := m.s3.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      &m.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"ffq-record-count": strconv.Itoa(len(records)),
			"ffq-total-bytes":  strconv.FormatUint(totalBytes, 10),
			"ffq-max-id":       strconv.FormatUint(maxID, 10),
		},
	})
	if err != nil {
		return "", fmt.Errorf("uploading swap batch to S3: %w", err)
	}

	m.logger.Debug("swapped out batch to S3",
		zap.String("queue", queueID),
		zap.String("key", key),
		zap.Int("records", len(records)),
	)
	return key, nil
}

func (m *S3Manager) SwapIn(location string, queueID string) ([]flowfile.Record, error) {
	resp, err := m.s3.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &m.bucket,
		Key:    &location,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("downloading swap batch %s: %w", location, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading swap batch %s: %w", location, err)
	}

	records, err := decodeSwapFile(data)
	if err != nil {
		return nil, fmt.Errorf("decoding swap batch %s: %w", location, err)
	}

	if _, err := m.s3.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: &m.bucket,
		Key:    &location,
	}); err != nil {
		m.logger.Warn("failed to delete consumed swap object",
			zap.String("key", location), zap.Error(err))
	}

	return records, nil
}

func (m *S3Manager) SwapSize(location string) (int, uint64, error) {
	meta, err := m.headMetadata(location)
	if err != nil {
		return 0, 0, err
	}
	count, err1 := strconv.Atoi(meta["ffq-record-count"])
	bytes, err2 := strconv.ParseUint(meta["ffq-total-bytes"], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("swap object %s has malformed metadata", location)
	}
	return count, bytes, nil
}

func (m *S3Manager) MaxRecordID(location string) (uint64, bool, error) {
	meta, err := m.headMetadata(location)
	if err != nil {
		return 0, false, err
	}
	count, err1 := strconv.Atoi(meta["ffq-record-count"])
	maxID, err2 := strconv.ParseUint(meta["ffq-max-id"], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false, fmt.Errorf("swap object %s has malformed metadata", location)
	}
	return maxID, count > 0, nil
}

func (m *S3Manager) headMetadata(location string) (map[string]string, error) {
	resp, err := m.s3.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: &m.bucket,
		Key:    &location,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("heading swap object %s: %w", location, err)
	}
	return resp.Metadata, nil
}

func (m *S3Manager) RecoverLocations(queueID string) ([]string, error) {
	keys, err := m.listKeys(m.queuePrefix(queueID))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *S3Manager) Purge() error {
	keys, err := m.listKeys(m.prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		key := key
		if _, err := m.s3.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: &m.bucket,
			Key:    &key,
		}); err != nil {
			return fmt.Errorf("purging swap object %s: %w", key, err)
		}
	}
	return nil
}

func (m *S3Manager) listKeys(prefix string) ([]string, error) {
	var keys []string
	var continuation *string
	for {
		resp, err := m.s3.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
			Bucket:            &m.bucket,
			Prefix:            &prefix,
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("listing swap objects under %s: %w", prefix, err)
		}
		for _, obj := range resp.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, swapFileSuffix) {
				keys = append(keys, *obj.Key)
			}
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		continuation = resp.NextContinuationToken
	}
	return keys, nil
}

func isNoSuchKey(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
