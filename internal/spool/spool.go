// Package spool implements the crash-safe JSON-lines queue backing memory
// write-backs. One job per line; the whole file is rewritten on every
// mutation via write-to-temp + rename so a crash mid-rewrite never leaves
// a torn spool.
package spool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/engram/internal/types"
)

// Queue is the durable job queue. All mutations are serialized by one
// mutex.
type Queue struct {
	path    string
	mu      sync.Mutex
	backlog []types.QueueJob
}

// Open loads the spool at path. Each valid JSON line becomes a pending
// job; invalid lines are skipped. A missing file is an empty queue.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	q := &Queue{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var job types.QueueJob
		if err := json.Unmarshal(line, &job); err != nil {
			continue
		}
		q.backlog = append(q.backlog, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}
	return q, nil
}

// Enqueue wraps the payload in a job, appends it to the backlog, and
// rewrites the spool. The job is appended even when the rewrite fails, so
// the in-process queue keeps working at the cost of crash durability for
// that job; the caller decides how loudly to report the error.
func (q *Queue) Enqueue(payload types.WriteRequest) (types.QueueJob, error) {
	job := types.QueueJob{
		ID:      uuid.NewString(),
		TS:      time.Now().Unix(),
		Payload: payload,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.backlog = append(q.backlog, job)
	return job, q.persistLocked()
}

// Pending returns a snapshot of the backlog in enqueue order.
func (q *Queue) Pending() []types.QueueJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.QueueJob, len(q.backlog))
	copy(out, q.backlog)
	return out
}

// MarkDone removes a job by id and rewrites the spool.
func (q *Queue) MarkDone(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.backlog[:0]
	for _, job := range q.backlog {
		if job.ID != jobID {
			kept = append(kept, job)
		}
	}
	q.backlog = kept
	return q.persistLocked()
}

// Has reports whether a job is still pending.
func (q *Queue) Has(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.backlog {
		if job.ID == jobID {
			return true
		}
	}
	return false
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// persistLocked rewrites the spool atomically: serialize to a temp file in
// the same directory, fsync, then rename over the spool.
func (q *Queue) persistLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(q.path), ".spool-*")
	if err != nil {
		return fmt.Errorf("create spool temp: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, job := range q.backlog {
		if err := enc.Encode(job); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("encode spool job: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush spool temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync spool temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close spool temp: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename spool: %w", err)
	}
	return nil
}
