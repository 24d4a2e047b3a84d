package governor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/engram/internal/types"
)

// StreamLog is the optional append-only JSON-lines log of every inbound
// observation, kept for offline analysis. It is trimmed by age once at
// startup; appends afterwards are unconditional.
type StreamLog struct {
	path string
	mu   sync.Mutex
	ttl  time.Duration
}

// OpenStream opens (or creates) the stream log at path and drops records
// older than ttlDays.
func OpenStream(path string, ttlDays int) (*StreamLog, error) {
	if ttlDays <= 0 {
		ttlDays = 14
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create stream dir: %w", err)
	}

	s := &StreamLog{
		path: path,
		ttl:  time.Duration(ttlDays) * 24 * time.Hour,
	}
	if err := s.trim(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes one observation as a JSON line.
func (s *StreamLog) Append(event *types.WorkingEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stream log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append stream record: %w", err)
	}
	return nil
}

// trim rewrites the log keeping only records younger than the TTL. Records
// that do not parse are dropped along with the expired ones.
func (s *StreamLog) trim() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open stream log: %w", err)
	}

	cutoff := time.Now().Add(-s.ttl).Unix()
	var kept [][]byte

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var rec struct {
			Timestamp int64 `json:"timestamp"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Timestamp >= cutoff {
			kept = append(kept, append([]byte(nil), line...))
		}
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return fmt.Errorf("read stream log: %w", scanErr)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".stream-*")
	if err != nil {
		return fmt.Errorf("create stream temp: %w", err)
	}
	for _, line := range kept {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("write stream temp: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close stream temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename stream log: %w", err)
	}
	return nil
}
