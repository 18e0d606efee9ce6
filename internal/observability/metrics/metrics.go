package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/docflow/pkg/db"
	"go.uber.org/fx"
)

// Config configures the prometheus collectors.
type Config struct {
	Enabled     bool
	ServiceName string
	Environment string
}

const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation"
	OutcomeNotFound   = "not_found"
	OutcomeConflict   = "conflict"
	OutcomeCanceled   = "canceled"
	OutcomeError      = "error"
)

const (
	OperationCreate       = "create"
	OperationDuplicate    = "duplicate"
	OperationDerive       = "derive"
	OperationUpdateItems  = "update_items"
	OperationUpdateStatus = "update_status"
	OperationDelete       = "delete"
)

// Classifier maps a domain error to an outcome label. Returning "" defers
// to the default classification.
type Classifier func(err error) string

// EngineMetrics captures numbering and document lifecycle signals.
type EngineMetrics struct {
	allocations        *prometheus.CounterVec
	allocationRetries  *prometheus.CounterVec
	allocationDuration *prometheus.HistogramVec
	operations         *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
	lockFallbacks      *prometheus.CounterVec

	mu          sync.RWMutex
	classifiers []Classifier
}

type Params struct {
	fx.In

	Config     Config
	Registerer prometheus.Registerer `optional:"true"`
}

// New registers the engine collectors. A disabled config yields a nil
// *EngineMetrics whose methods are no-ops.
func New(p Params) *EngineMetrics {
	if !p.Config.Enabled {
		return nil
	}
	return newEngineMetrics(p.Registerer, p.Config)
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "docflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docflow_sequence_allocations_total",
		Help:        "Document numbers allocated by document type.",
		ConstLabels: constLabels,
	}, []string{"document_type"})
	allocationRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docflow_sequence_allocation_retries_total",
		Help:        "Allocation transaction retries by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"document_type", "reason"})
	allocationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "docflow_sequence_allocation_duration_seconds",
		Help:        "Latency of number allocation including retries.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"document_type"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docflow_document_operations_total",
		Help:        "Document lifecycle operations by outcome.",
		ConstLabels: constLabels,
	}, []string{"operation", "outcome"})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docflow_http_rate_limited_total",
		Help:        "Write requests rejected by the rate limiter.",
		ConstLabels: constLabels,
	}, []string{"route"})
	lockFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docflow_sequence_lock_fallbacks_total",
		Help:        "Allocations that proceeded without the distributed sequence lock.",
		ConstLabels: constLabels,
	}, []string{"document_type", "reason"})

	registerer.MustRegister(allocations, allocationRetries, allocationDuration, operations, rateLimited, lockFallbacks)

	return &EngineMetrics{
		allocations:        allocations,
		allocationRetries:  allocationRetries,
		allocationDuration: allocationDuration,
		operations:         operations,
		rateLimited:        rateLimited,
		lockFallbacks:      lockFallbacks,
	}
}

// RegisterClassifier adds a domain error classifier consulted by
// RecordOperation before the default rules.
func (m *EngineMetrics) RegisterClassifier(c Classifier) {
	if m == nil || c == nil {
		return
	}
	m.mu.Lock()
	m.classifiers = append(m.classifiers, c)
	m.mu.Unlock()
}

// RecordAllocation records a successful allocation and its latency.
func (m *EngineMetrics) RecordAllocation(documentType string, duration time.Duration) {
	if m == nil {
		return
	}
	documentType = normalizeLabel(documentType)
	m.allocations.WithLabelValues(documentType).Inc()
	m.allocationDuration.WithLabelValues(documentType).Observe(duration.Seconds())
}

// RecordRetry records a retried allocation transaction.
func (m *EngineMetrics) RecordRetry(documentType, reason string) {
	if m == nil {
		return
	}
	m.allocationRetries.WithLabelValues(normalizeLabel(documentType), normalizeLabel(reason)).Inc()
}

// RecordRateLimited records a rejected write request.
func (m *EngineMetrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(normalizeLabel(route)).Inc()
}

// RecordLockFallback records an allocation that ran without the sequence lock.
func (m *EngineMetrics) RecordLockFallback(documentType, reason string) {
	if m == nil {
		return
	}
	m.lockFallbacks.WithLabelValues(normalizeLabel(documentType), normalizeLabel(reason)).Inc()
}

// RecordOperation records a document operation outcome derived from err.
func (m *EngineMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), m.classify(err)).Inc()
}

func (m *EngineMetrics) classify(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	m.mu.RLock()
	classifiers := m.classifiers
	m.mu.RUnlock()
	for _, c := range classifiers {
		if outcome := c(err); outcome != "" {
			return outcome
		}
	}
	return ClassifyOutcome(err)
}

// ClassifyOutcome maps infrastructure errors to an outcome label.
func ClassifyOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case db.IsDuplicateKeyErr(err):
		return OutcomeConflict
	case db.IsRetryableTxErr(err):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
