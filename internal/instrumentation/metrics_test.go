package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

// counterTotal sums every data point of the named Int64 sum.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordHTTPRequest(ctx, "GET", "/emails", 200, 120*time.Millisecond)
	m.RecordHTTPRequest(ctx, "POST", "/reply", 500, 80*time.Millisecond)
	m.RecordUpstreamOperation(ctx, ServiceGmail, OperationList, StatusSuccess, 50*time.Millisecond)
	m.RecordUpstreamOperation(ctx, ServiceOpenAI, OperationComplete, StatusError, time.Second)
	m.RecordUpstreamOperation(ctx, ServiceGmail, OperationGet, StatusSuccess, 10*time.Millisecond)
	m.RecordOAuthAuth(ctx, OAuthResultSuccess)
	m.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
	m.RecordDocumentUpload(ctx, StatusSuccess)
	m.RecordQuestion(ctx, QuestionNoDocument)
	m.RecordQuestion(ctx, QuestionAnswered)

	assert.Equal(t, int64(2), counterTotal(t, reader, "http_requests_total"))
	assert.Equal(t, int64(3), counterTotal(t, reader, "upstream_operations_total"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "oauth_auth_total"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "oauth_token_refresh_total"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "document_uploads_total"))
	assert.Equal(t, int64(2), counterTotal(t, reader, "qa_questions_total"))
}

func TestMetrics_ActiveSessions(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.IncrementActiveSessions(ctx)
	m.IncrementActiveSessions(ctx)
	m.DecrementActiveSessions(ctx)

	assert.Equal(t, int64(1), counterTotal(t, reader, "active_sessions"))
}

func TestMetrics_NilAndZeroValueAreNoops(t *testing.T) {
	ctx := context.Background()

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
		nilMetrics.RecordUpstreamOperation(ctx, ServiceGmail, OperationList, StatusSuccess, time.Millisecond)
		nilMetrics.RecordQuestion(ctx, QuestionAnswered)
		nilMetrics.IncrementActiveSessions(ctx)
	})

	zero := &Metrics{}
	assert.NotPanics(t, func() {
		zero.RecordOAuthAuth(ctx, OAuthResultFailure)
		zero.RecordDocumentUpload(ctx, StatusError)
		zero.DecrementActiveSessions(ctx)
	})
}
