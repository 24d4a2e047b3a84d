package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// counters holds lazily-initialized instruments for the memory pipeline.
var counters struct {
	observeDecisions metric.Int64Counter
	enqueuedJobs     metric.Int64Counter
	workerRetries    metric.Int64Counter
	adapterFallbacks metric.Int64Counter
}

var countersOnce sync.Once

func initCounters() {
	m := Meter(instrumentationScope)
	counters.observeDecisions, _ = m.Int64Counter("engram.observe.decisions",
		metric.WithDescription("Observation classification decisions"),
	)
	counters.enqueuedJobs, _ = m.Int64Counter("engram.queue.enqueued",
		metric.WithDescription("Jobs enqueued on the durable queue"),
	)
	counters.workerRetries, _ = m.Int64Counter("engram.worker.retries",
		metric.WithDescription("Write-back jobs re-queued after failure"),
	)
	counters.adapterFallbacks, _ = m.Int64Counter("engram.storage.fallbacks",
		metric.WithDescription("Adapter calls served by the in-memory fallback"),
	)
}

// ObserveDecision counts a classification outcome by decision kind.
func ObserveDecision(ctx context.Context, decision string) {
	countersOnce.Do(initCounters)
	if counters.observeDecisions != nil {
		counters.observeDecisions.Add(ctx, 1,
			metric.WithAttributes(attribute.String("engram.decision", decision)))
	}
}

// JobEnqueued counts a durable-queue enqueue.
func JobEnqueued(ctx context.Context) {
	countersOnce.Do(initCounters)
	if counters.enqueuedJobs != nil {
		counters.enqueuedJobs.Add(ctx, 1)
	}
}

// WorkerRetry counts a write-back retry.
func WorkerRetry(ctx context.Context) {
	countersOnce.Do(initCounters)
	if counters.workerRetries != nil {
		counters.workerRetries.Add(ctx, 1)
	}
}

// AdapterFallback counts a primary-backend failure served by the fallback.
func AdapterFallback(ctx context.Context, method string) {
	countersOnce.Do(initCounters)
	if counters.adapterFallbacks != nil {
		counters.adapterFallbacks.Add(ctx, 1,
			metric.WithAttributes(attribute.String("engram.method", method)))
	}
}
