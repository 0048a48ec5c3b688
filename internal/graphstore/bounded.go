package graphstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/ziadkadry99/fingraph/internal/query"
	"github.com/ziadkadry99/fingraph/internal/telemetry"
)

var tracer = otel.Tracer("fingraph.graphstore")

// DefaultAcquisitionTimeout bounds the wait for a free slot.
const DefaultAcquisitionTimeout = 5 * time.Second

// BoundedExecutor caps concurrent queries at the pool size. Callers beyond
// the cap wait up to the acquisition timeout.
type BoundedExecutor struct {
	next    Executor
	sem     *semaphore.Weighted
	acquire time.Duration
}

// NewBoundedExecutor wraps next with a gate of size slots.
func NewBoundedExecutor(next Executor, size int, acquisitionTimeout time.Duration) *BoundedExecutor {
	if size <= 0 {
		size = 1
	}
	if acquisitionTimeout <= 0 {
		acquisitionTimeout = DefaultAcquisitionTimeout
	}
	return &BoundedExecutor{next: next, sem: semaphore.NewWeighted(int64(size)), acquire: acquisitionTimeout}
}

// Execute waits for a slot and runs q on the wrapped executor.
func (b *BoundedExecutor) Execute(ctx context.Context, q query.CandidateQuery) (Result, error) {
	ctx, span := tracer.Start(ctx, "graph.execute")
	defer span.End()
	span.SetAttributes(attribute.String("template", q.TemplateID))

	start := time.Now()
	res, err := b.execute(ctx, q)
	status := "success"
	if err != nil {
		status = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	} else {
		span.SetAttributes(attribute.Int("rows", res.Len()))
	}
	telemetry.GraphQueryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return res, err
}

func (b *BoundedExecutor) execute(ctx context.Context, q query.CandidateQuery) (Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.acquire)
	err := b.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &ExecutionError{Kind: KindTimeout, Err: ctx.Err()}
		}
		return Result{}, &ExecutionError{Kind: KindPoolExhausted, Err: errors.New("no graph connection available")}
	}
	telemetry.GraphPoolInUse.Inc()
	defer func() {
		telemetry.GraphPoolInUse.Dec()
		b.sem.Release(1)
	}()

	res, err := b.next.Execute(ctx, q)
	if err != nil {
		var ee *ExecutionError
		if !errors.As(err, &ee) {
			err = &ExecutionError{Kind: KindUnknown, Err: err}
		}
		return Result{}, err
	}
	return res, nil
}

// Ping forwards to the wrapped executor when it supports it.
func (b *BoundedExecutor) Ping(ctx context.Context) error {
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
