package storage

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/engram/internal/telemetry"
	"github.com/steveyegge/engram/internal/types"
)

// Adapter fronts a primary backend with an always-present in-memory
// fallback. Every call tries the primary first; on any error the call is
// retried on the fallback with the same arguments, so a transient backend
// failure never surfaces to the caller. Persistence is lost for that call,
// which is the documented trade.
type Adapter struct {
	primary  Backend
	fallback Backend
	log      *logrus.Entry
}

// NewAdapter builds an adapter over the given primary and fallback. The
// factory package is the usual constructor; this is exported for tests and
// for embedding the store without config plumbing.
func NewAdapter(primary, fallback Backend) *Adapter {
	return &Adapter{
		primary:  primary,
		fallback: fallback,
		log:      logrus.WithField("component", "storage"),
	}
}

// Primary returns the active primary backend.
func (a *Adapter) Primary() Backend { return a.primary }

// AddExperience stores a memory and returns the normalized record.
func (a *Adapter) AddExperience(ctx context.Context, userID, text string, metadata types.Metadata) (types.MemoryRecord, error) {
	payload, err := a.primary.Add(ctx, userID, text, metadata)
	if err != nil {
		a.fellBack(ctx, "add", err)
		payload, err = a.fallback.Add(ctx, userID, text, metadata)
		if err != nil {
			return types.MemoryRecord{}, err
		}
	}
	return NormalizeRecord(payload), nil
}

// QueryMemories returns normalized records matching the query substring.
func (a *Adapter) QueryMemories(ctx context.Context, userID, query string, limit int) ([]types.MemoryRecord, error) {
	payloads, err := a.primary.Query(ctx, userID, query, limit)
	if err != nil {
		a.fellBack(ctx, "query", err)
		payloads, err = a.fallback.Query(ctx, userID, query, limit)
		if err != nil {
			return nil, err
		}
	}
	return NormalizeRecords(payloads), nil
}

// ListMemories returns up to limit recent records, newest first.
func (a *Adapter) ListMemories(ctx context.Context, userID string, limit int) ([]types.MemoryRecord, error) {
	payloads, err := a.primary.List(ctx, userID, limit)
	if err != nil {
		a.fellBack(ctx, "list", err)
		payloads, err = a.fallback.List(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
	}
	return NormalizeRecords(payloads), nil
}

// DeleteMemory removes a memory by id, reporting whether it existed.
func (a *Adapter) DeleteMemory(ctx context.Context, id string) (bool, error) {
	deleted, err := a.primary.Delete(ctx, id)
	if err != nil {
		a.fellBack(ctx, "delete", err)
		return a.fallback.Delete(ctx, id)
	}
	return deleted, nil
}

// SummarizeTexts produces a heuristic summary of the given texts.
func (a *Adapter) SummarizeTexts(ctx context.Context, texts []string, maxLength int) (string, error) {
	if len(texts) == 0 {
		return "", nil
	}
	summary, err := a.primary.Summarize(ctx, texts, maxLength)
	if err != nil {
		a.fellBack(ctx, "summarize", err)
		return a.fallback.Summarize(ctx, texts, maxLength)
	}
	return summary, nil
}

// BackendName reports the primary backend variant.
func (a *Adapter) BackendName() string { return a.primary.Name() }

// Close closes both backends, returning the first error.
func (a *Adapter) Close() error {
	err := a.primary.Close()
	if a.fallback != a.primary {
		if ferr := a.fallback.Close(); err == nil {
			err = ferr
		}
	}
	return err
}

func (a *Adapter) fellBack(ctx context.Context, method string, err error) {
	a.log.WithField("method", method).WithError(err).Warn("primary backend failed, using in-memory fallback")
	telemetry.AdapterFallback(ctx, method)
}
