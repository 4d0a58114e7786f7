package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/agent/conversation"
	"github.com/pulseplan/pulse/agent/convstate"
	"github.com/pulseplan/pulse/agent/intent"
	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/agent/orchestrator"
	"github.com/pulseplan/pulse/agent/taskcard"
	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/scheduler/service"
	"github.com/pulseplan/pulse/scheduler/verify"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

func newTestAPI(t *testing.T) (*echo.Echo, *store.Store) {
	t.Helper()
	p := &profile.Profile{
		Mode:   "demo",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "pulse_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { _ = driver.Close() })
	st := store.New(driver, p)

	kv := cache.NewMemory(1024)
	t.Cleanup(func() { _ = kv.Close() })

	tel := telemetry.New(telemetry.DefaultConfig())
	cfg := config.NewManager(config.Default(), nil)
	verifier := verify.New(verify.Config{Enabled: true, Mode: verify.ModeBasic}, tel)
	sched := service.New(st, kv, cfg, tel, verifier)

	notifier := notify.New(tel)
	convs := conversation.NewManager(st, kv, cfg.Get())
	states := convstate.NewManager(kv)
	proc := intent.NewProcessor(states, intent.NewContextLoader(st), intent.NewRuleClassifier(), nil, tel)
	cards := taskcard.New(st, notifier)
	orch := orchestrator.New(st, convs, proc, cards, notifier, nil, sched, tel)

	api := NewAPIV1Service(p, st, cfg, sched, orch, notifier, verifier, tel, nil)
	e := echo.New()
	api.Register(e)
	return e, st
}

func doJSON(e *echo.Echo, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seedTask(t *testing.T, st *store.Store, id string, minutes int) {
	t.Helper()
	now := time.Now().Unix()
	_, err := st.CreateTask(context.Background(), &store.Task{
		ID:               id,
		UserID:           "u1",
		Title:            "Task " + id,
		Kind:             store.TaskKindStudy,
		EstimatedMinutes: minutes,
		MinBlockMinutes:  30,
		MaxBlockMinutes:  120,
		Weight:           1,
		CreatedTs:        now,
		UpdatedTs:        now,
	})
	require.NoError(t, err)
}

func TestRunScheduleRejectsMissingUser(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/schedule/run", map[string]any{"horizonDays": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSchedulePlacesTask(t *testing.T) {
	e, st := newTestAPI(t)
	seedTask(t, st, "t1", 60)

	rec := doJSON(e, http.MethodPost, "/schedule/run", map[string]any{
		"userId":      "u1",
		"horizonDays": 7,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp service.ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Feasible)
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.Blocks)

	jobRec := doJSON(e, http.MethodGet, "/schedule/jobs/"+resp.JobID, nil)
	require.Equal(t, http.StatusOK, jobRec.Code)
	var job service.JobStatus
	require.NoError(t, json.Unmarshal(jobRec.Body.Bytes(), &job))
	assert.Equal(t, resp.JobID, job.JobID)
	assert.Equal(t, "completed", job.Status)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	e, st := newTestAPI(t)
	seedTask(t, st, "t1", 60)

	rec := doJSON(e, http.MethodPost, "/schedule/preview", map[string]any{"userId": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := st.ListScheduleBlocks(context.Background(), &store.FindScheduleBlock{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetJobNotFound(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodGet, "/schedule/jobs/job_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleRequiresUser(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/schedule/reschedule", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackAccepted(t *testing.T) {
	e, _ := newTestAPI(t)

	rate := 0.8
	rec := doJSON(e, http.MethodPost, "/schedule/feedback", service.FeedbackRequest{
		UserID:         "u1",
		CompletionRate: &rate,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedback recorded")
}

func TestHealthReportsOK(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodGet, "/schedule/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health service.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
}

func TestMetricsQuery(t *testing.T) {
	e, st := newTestAPI(t)
	seedTask(t, st, "t1", 60)
	doJSON(e, http.MethodPost, "/schedule/run", map[string]any{"userId": "u1"})

	rec := doJSON(e, http.MethodGet, "/schedule/metrics?since_hours=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	bad := doJSON(e, http.MethodGet, "/schedule/metrics?since_hours=-2", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestDiagnosticsRequiresUser(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodGet, "/schedule/diagnostics", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ok := doJSON(e, http.MethodGet, "/schedule/diagnostics?user_id=u1", nil)
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestConfigUpdateAndExport(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/schedule/config/update", map[string]any{
		"default_horizon_days": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	bad := doJSON(e, http.MethodPost, "/schedule/config/update", map[string]any{
		"rate_limit_requests_per_minute": -5,
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	exported := doJSON(e, http.MethodGet, "/schedule/config/export?format=json", nil)
	require.Equal(t, http.StatusOK, exported.Code)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(exported.Body.Bytes(), &cfg))
	assert.Equal(t, 10, cfg.DefaultHorizonDays)

	yamlRec := doJSON(e, http.MethodGet, "/schedule/config/export", nil)
	require.Equal(t, http.StatusOK, yamlRec.Code)
	assert.Contains(t, yamlRec.Body.String(), "default_horizon_days")
}

func TestVerifierConfigureAndControl(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/schedule/verify/configure", map[string]any{
		"enabled": true,
		"mode":    "STRICT",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	status := doJSON(e, http.MethodGet, "/schedule/verify/status", nil)
	require.Equal(t, http.StatusOK, status.Code)
	assert.Contains(t, status.Body.String(), "STRICT")

	disable := doJSON(e, http.MethodPost, "/schedule/verify/control/disable", nil)
	require.Equal(t, http.StatusOK, disable.Code)
	assert.Contains(t, disable.Body.String(), `"enabled":false`)

	bogus := doJSON(e, http.MethodPost, "/schedule/verify/control/explode", nil)
	assert.Equal(t, http.StatusBadRequest, bogus.Code)

	badMode := doJSON(e, http.MethodPost, "/schedule/verify/configure", map[string]any{"mode": "LOOSE"})
	assert.Equal(t, http.StatusBadRequest, badMode.Code)
}

func TestVerifyResponseEndpoint(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/schedule/verify/response", map[string]any{
		"jobId":        "job_1",
		"feasible":     true,
		"blocks":       []any{},
		"metrics":      map[string]any{"totalBlocks": 0, "totalScheduledMinutes": 0, "feasible": true, "solveTimeMs": 1},
		"explanations": []any{"Nothing to schedule in this horizon."},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result verify.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
}

func TestAgentMessageSmallTalk(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/agent/message", map[string]any{
		"user_id": "u1",
		"message": "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.NotEmpty(t, resp.Message)
}

func TestAgentMessageRequiresUser(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/agent/message", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentWebsocketRequiresUser(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodGet, "/agent/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrometheusExposition(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulse_")
}
