package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsNilSafe(t *testing.T) {
	tel := New(Config{Enabled: false})
	require.Nil(t, tel)

	// All recorders must tolerate the nil receiver.
	tel.RecordScheduleRequest("ok")
	tel.RecordSolve("optimal", time.Second)
	tel.RecordBlocksScheduled(3)
	tel.RecordFallback()
	tel.RecordInvariantViolation("overlap")
	tel.RecordIdempotencyHit()
	tel.RecordIntentClassification("create_task")
	tel.RecordClarification()
	tel.SetWebsocketConnections(1)
	tel.RecordWebsocketEvent("task_created", true)
	tel.RecordLLMRequest("gpt-4o-mini", "ok", time.Millisecond)
	tel.RecordCacheHit("idempotency")
	tel.RecordCacheMiss("idempotency")
	tel.RecordVerifierFinding("WARNING")
	tel.RecordLearningUpdate("bandit")
	assert.Empty(t, tel.Query(time.Time{}, nil))

	_, span := tel.StartSpan(context.Background(), "noop")
	span.End()
}

func TestRecordAndQueryPoints(t *testing.T) {
	tel := New(Config{Enabled: true, PointsBufferSize: 16})
	require.NotNil(t, tel)

	tel.RecordScheduleRequest("ok")
	tel.RecordScheduleRequest("error")
	tel.RecordSolve("optimal", 250*time.Millisecond)
	tel.RecordFallback()

	all := tel.Query(time.Time{}, nil)
	require.Len(t, all, 4)
	assert.Equal(t, "schedule_requests_total", all[0].Name)
	assert.Equal(t, "ok", all[0].Labels["status"])

	solves := tel.Query(time.Time{}, []string{"solve_duration_seconds"})
	require.Len(t, solves, 1)
	assert.InDelta(t, 0.25, solves[0].Value, 1e-9)

	future := time.Now().Add(time.Hour)
	assert.Empty(t, tel.Query(future, nil))
}

func TestPointBufferWraps(t *testing.T) {
	buf := newPointBuffer(4)
	for i := 0; i < 10; i++ {
		buf.add("n", nil, float64(i))
	}

	got := buf.query(time.Time{}, nil)
	require.Len(t, got, 4)
	// Oldest surviving point first.
	assert.Equal(t, float64(6), got[0].Value)
	assert.Equal(t, float64(9), got[3].Value)
}

func TestHandlerExposesMetrics(t *testing.T) {
	tel := New(Config{Enabled: true})
	require.NotNil(t, tel)

	tel.RecordScheduleRequest("ok")
	tel.RecordBlocksScheduled(5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	tel.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pulse_scheduler_schedule_requests_total")
	assert.Contains(t, string(body), "pulse_scheduler_blocks_scheduled_total 5")
}

func TestSpanRecordsDuration(t *testing.T) {
	tel := New(Config{Enabled: true, TracingEnabled: true})
	require.NotNil(t, tel)

	ctx, span := tel.StartSpan(context.Background(), "solve")
	span.SetAttribute("user_id", "u1")
	require.Same(t, span, SpanFromContext(ctx))
	span.End()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `pulse_scheduler_span_duration_seconds_count{name="solve"} 1`)
}
