package hippo

import (
	"context"

	"github.com/steveyegge/engram/internal/storage"
	"github.com/steveyegge/engram/internal/types"
)

// Local routes write-backs and recall queries straight into the storage
// adapter. It is the wiring used when the governor and the store share a
// process, where an HTTP loopback would only add a failure mode.
type Local struct {
	adapter *storage.Adapter
}

// NewLocal creates an in-process client over the adapter.
func NewLocal(adapter *storage.Adapter) *Local {
	return &Local{adapter: adapter}
}

// PostMemory writes the payload through the adapter and returns the new
// memory id.
func (l *Local) PostMemory(ctx context.Context, payload types.WriteRequest) (string, error) {
	rec, err := l.adapter.AddExperience(ctx, payload.UserID, payload.Text, payload.Metadata)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// QueryMemories runs a recall query through the adapter.
func (l *Local) QueryMemories(ctx context.Context, userID, query string, limit int) ([]types.MemoryRecord, error) {
	return l.adapter.QueryMemories(ctx, userID, query, limit)
}
