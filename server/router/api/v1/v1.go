// Package v1 exposes the REST and websocket surface: scheduling runs,
// feedback, runtime config, response verification, and the conversational
// agent endpoints.
package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/agent/orchestrator"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/llm"
	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/scheduler/service"
	"github.com/pulseplan/pulse/scheduler/verify"
	"github.com/pulseplan/pulse/store"
)

// APIV1Service bundles the handler dependencies.
type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Config       *config.Manager
	Scheduler    *service.Service
	Orchestrator *orchestrator.Orchestrator
	Notifier     *notify.Notifier
	Verifier     *verify.Verifier
	Telemetry    *telemetry.Telemetry
	Chat         llm.Service

	startedAt time.Time
}

// NewAPIV1Service wires the handlers over an already-constructed core. chat
// may be nil when no LLM is configured.
func NewAPIV1Service(
	p *profile.Profile,
	st *store.Store,
	cfg *config.Manager,
	sched *service.Service,
	orch *orchestrator.Orchestrator,
	notifier *notify.Notifier,
	verifier *verify.Verifier,
	tel *telemetry.Telemetry,
	chat llm.Service,
) *APIV1Service {
	return &APIV1Service{
		Profile:      p,
		Store:        st,
		Config:       cfg,
		Scheduler:    sched,
		Orchestrator: orch,
		Notifier:     notifier,
		Verifier:     verifier,
		Telemetry:    tel,
		Chat:         chat,
		startedAt:    time.Now(),
	}
}

// Register mounts all routes on the echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	sch := e.Group("/schedule")
	sch.POST("/run", s.runSchedule)
	sch.POST("/preview", s.previewSchedule)
	sch.POST("/reschedule", s.rescheduleMissed)
	sch.POST("/feedback", s.submitFeedback)
	sch.GET("/jobs/:jobId", s.getJob)
	sch.GET("/health", s.getHealth)
	sch.GET("/metrics", s.queryMetrics)
	sch.GET("/diagnostics", s.getDiagnostics)

	sch.POST("/config/update", s.updateConfig)
	sch.GET("/config/export", s.exportConfig)

	sch.POST("/verify/response", s.verifyResponse)
	sch.GET("/verify/status", s.verifyStatus)
	sch.POST("/verify/configure", s.configureVerifier)
	sch.POST("/verify/control/:action", s.controlVerifier)

	e.POST("/agent/message", s.handleAgentMessage)
	e.GET("/agent/ws", s.handleAgentWebsocket)

	if s.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(s.Telemetry.Handler()))
	}
}

// errorResponse maps a classified error onto an HTTP status. Validation
// failures are the caller's fault; everything else is ours.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if scheduler.KindOf(err) == scheduler.KindValidation {
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"message": err.Error()})
}
