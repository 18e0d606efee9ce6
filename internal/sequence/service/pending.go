package service

import (
	"context"
	"sync"
	"time"

	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"github.com/smallbiznis/docflow/internal/observability/metrics"
)

type pendingKey struct{}

type allocationSample struct {
	documentType documentdomain.DocumentType
	took         time.Duration
}

// pendingAllocations holds the allocations of one transaction attempt
// until it commits. A rolled back attempt is dropped with its samples.
type pendingAllocations struct {
	mu      sync.Mutex
	samples []allocationSample
}

func withPending(ctx context.Context, p *pendingAllocations) context.Context {
	return context.WithValue(ctx, pendingKey{}, p)
}

func pendingFrom(ctx context.Context) *pendingAllocations {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(pendingKey{}).(*pendingAllocations)
	return p
}

func (p *pendingAllocations) add(documentType documentdomain.DocumentType, took time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, allocationSample{documentType: documentType, took: took})
}

func (p *pendingAllocations) flush(m *metrics.EngineMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sample := range p.samples {
		m.RecordAllocation(string(sample.documentType), sample.took)
	}
	p.samples = nil
}
