package swap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"go.uber.org/zap"
)

const swapFileSuffix = ".swap"

// FileManager implements Manager on the local filesystem. Each batch is one
// file under <dir>/<queue-id>/; file names embed a nanosecond timestamp and
// a sequence number so that lexical order equals swap-out order.
type FileManager struct {
	dir    string
	seq    atomic.Uint64
	logger *zap.Logger
}

func NewFileManager(dir string, logger *zap.Logger) (*FileManager, error) {
	if dir == "" {
		return nil, fmt.Errorf("swap directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating swap dir %s: %w", dir, err)
	}
	return &FileManager{dir: dir, logger: logger}, nil
}

func (m *FileManager) queueDir(queueID string) string {
	return filepath.Join(m.dir, sanitizeQueueID(queueID))
}

func sanitizeQueueID(queueID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, queueID)
}

func (m *FileManager) SwapOut(records []flowfile.Record, queueID string) (string, error) {
	dir := m.queueDir(queueID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating queue swap dir: %w", err)
	}

	name := fmt.Sprintf("%020d-%010d%s", time.Now().UnixNano(), m.seq.Add(1), swapFileSuffix)
	path := filepath.Join(dir, name)
	data := encodeSwapFile(records)

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("writing swap file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalizing swap file: %w", err)
	}

	m.logger.Debug("swapped out batch",
		zap.String("queue", queueID),
		zap.String("location", path),
		zap.Int("records", len(records)),
	)
	return path, nil
}

func (m *FileManager) SwapIn(location string, queueID string) ([]flowfile.Record, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("reading swap file %s: %w", location, err)
	}

	records, err := decodeSwapFile(data)
	if err != nil {
		return nil, fmt.Errorf("decoding swap file %s: %w", location, err)
	}

	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove consumed swap file",
			zap.String("location", location), zap.Error(err))
	}

	m.logger.Debug("swapped in batch",
		zap.String("queue", queueID),
		zap.String("location", location),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (m *FileManager) SwapSize(location string) (int, uint64, error) {
	data, err := m.readHeader(location)
	if err != nil {
		return 0, 0, err
	}
	count, bytes, _, err := decodeSummary(data)
	return count, bytes, err
}

func (m *FileManager) MaxRecordID(location string) (uint64, bool, error) {
	data, err := m.readHeader(location)
	if err != nil {
		return 0, false, err
	}
	count, _, maxID, err := decodeSummary(data)
	if err != nil {
		return 0, false, err
	}
	return maxID, count > 0, nil
}

func (m *FileManager) readHeader(location string) ([]byte, error) {
	f, err := os.Open(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading swap file header %s: %w", location, err)
	}
	return buf, nil
}

func (m *FileManager) RecoverLocations(queueID string) ([]string, error) {
	dir := m.queueDir(queueID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing swap dir %s: %w", dir, err)
	}

	var locations []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), swapFileSuffix) {
			continue
		}
		locations = append(locations, filepath.Join(dir, e.Name()))
	}
	sort.Strings(locations)
	return locations, nil
}

func (m *FileManager) Purge() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing swap dir %s: %w", m.dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(m.dir, e.Name())); err != nil {
			return fmt.Errorf("purging swap dir: %w", err)
		}
	}
	return nil
}
