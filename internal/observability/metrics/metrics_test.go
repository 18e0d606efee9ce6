package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

var errNotFound = errors.New("not_found")

func newTestMetrics(t *testing.T) *EngineMetrics {
	t.Helper()
	return newEngineMetrics(prometheus.NewRegistry(), Config{
		Enabled:     true,
		ServiceName: "docflow",
		Environment: "test",
	})
}

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: OutcomeSuccess},
		{name: "deadline", err: context.DeadlineExceeded, want: OutcomeCanceled},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: OutcomeConflict},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: OutcomeConflict},
		{name: "unknown", err: errors.New("boom"), want: OutcomeError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyOutcome(tc.err))
		})
	}
}

func TestRecordAllocation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordAllocation("invoice", 5*time.Millisecond)
	m.RecordAllocation("invoice", 7*time.Millisecond)
	m.RecordRetry("invoice", "unique_violation")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.allocations.WithLabelValues("invoice")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.allocationRetries.WithLabelValues("invoice", "unique_violation")))
}

func TestRecordOperationUsesRegisteredClassifier(t *testing.T) {
	m := newTestMetrics(t)
	m.RegisterClassifier(func(err error) string {
		if errors.Is(err, errNotFound) {
			return OutcomeNotFound
		}
		return ""
	})

	m.RecordOperation(OperationDelete, errNotFound)
	m.RecordOperation(OperationDelete, nil)
	m.RecordOperation(OperationDelete, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues(OperationDelete, OutcomeNotFound)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues(OperationDelete, OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues(OperationDelete, OutcomeError)))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.RecordAllocation("estimate", time.Millisecond)
		m.RecordRetry("estimate", "busy")
		m.RecordOperation(OperationCreate, nil)
		m.RegisterClassifier(func(error) string { return "" })
	})
}

func TestNewDisabledReturnsNil(t *testing.T) {
	assert.Nil(t, New(Params{Config: Config{Enabled: false}}))
}

func TestRecordRateLimitedAndLockFallback(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRateLimited("/v1/documents")
	m.RecordRateLimited("/v1/documents")
	m.RecordLockFallback("invoice", "timeout")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.rateLimited.WithLabelValues("/v1/documents")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lockFallbacks.WithLabelValues("invoice", "timeout")))
}
