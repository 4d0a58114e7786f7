package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulseplan/pulse/llm"
	"github.com/pulseplan/pulse/scheduler/service"
)

const learningUpdateTimeout = 30 * time.Second

func (s *APIV1Service) runSchedule(c echo.Context) error {
	req := &service.ScheduleRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed schedule request"})
	}

	resp, err := s.Scheduler.Schedule(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return s.respondVerified(c, resp)
}

func (s *APIV1Service) previewSchedule(c echo.Context) error {
	req := &service.ScheduleRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed schedule request"})
	}

	resp, err := s.Scheduler.SchedulePreview(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return s.respondVerified(c, resp)
}

func (s *APIV1Service) rescheduleMissed(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "user_id is required"})
	}
	horizonDays := 3
	if raw := c.QueryParam("horizon_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "horizon_days must be a positive integer"})
		}
		horizonDays = parsed
	}

	resp, err := s.Scheduler.RescheduleMissed(c.Request().Context(), userID, horizonDays)
	if err != nil {
		return errorResponse(c, err)
	}
	return s.respondVerified(c, resp)
}

// submitFeedback records the outcome synchronously, then folds it into the
// learned models in the background so the client never waits on training.
func (s *APIV1Service) submitFeedback(c echo.Context) error {
	fb := &service.FeedbackRequest{}
	if err := c.Bind(fb); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed feedback request"})
	}

	if err := s.Scheduler.ProcessFeedback(c.Request().Context(), fb); err != nil {
		return errorResponse(c, err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), learningUpdateTimeout)
		defer cancel()
		if err := s.Scheduler.UpdateLearning(ctx, fb); err != nil {
			slog.Warn("failed to update learning from feedback", "user", fb.UserID, "err", err)
		}
	}()

	return c.JSON(http.StatusOK, map[string]string{"status": "feedback recorded"})
}

func (s *APIV1Service) getJob(c echo.Context) error {
	job, err := s.Scheduler.GetJob(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return errorResponse(c, err)
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

func (s *APIV1Service) getHealth(c echo.Context) error {
	health := s.Scheduler.Health(c.Request().Context())
	health.Components["llm"] = s.llmHealth()
	health.Components["websocket_connections"] = strconv.Itoa(s.Notifier.Count())
	health.Components["uptime"] = time.Since(s.startedAt).Round(time.Second).String()
	health.Components["version"] = s.Profile.Version

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

func (s *APIV1Service) llmHealth() string {
	if s.Chat == nil {
		return "disabled"
	}
	if b, ok := s.Chat.(*llm.Boundary); ok {
		return string(b.State())
	}
	return "ok"
}

func (s *APIV1Service) queryMetrics(c echo.Context) error {
	sinceHours := 1.0
	if raw := c.QueryParam("since_hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "since_hours must be a positive number"})
		}
		sinceHours = parsed
	}
	var names []string
	if raw := c.QueryParam("metric_names"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	since := time.Now().Add(-time.Duration(sinceHours * float64(time.Hour)))
	points := s.Telemetry.Query(since, names)
	return c.JSON(http.StatusOK, map[string]any{
		"since":  since.UTC().Format(time.RFC3339),
		"points": points,
	})
}

func (s *APIV1Service) getDiagnostics(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "user_id is required"})
	}
	diag, err := s.Scheduler.Diagnostics(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"diagnostics":  diag,
		"configDigest": s.Config.Digest(),
	})
}

// respondVerified runs the outgoing response through the semantic verifier.
// Auto-corrected documents replace the original; findings never block the
// response beyond what the verifier already decided.
func (s *APIV1Service) respondVerified(c echo.Context, resp *service.ScheduleResponse) error {
	if s.Verifier == nil || !s.Verifier.Config().Enabled {
		return c.JSON(http.StatusOK, resp)
	}
	result := s.Verifier.VerifyResponse(resp.AsMap())
	if !result.Valid {
		slog.Warn("schedule response failed verification",
			"job", resp.JobID,
			"findings", len(result.Findings),
		)
	}
	if result.Corrected != nil {
		return c.JSON(http.StatusOK, result.Corrected)
	}
	return c.JSON(http.StatusOK, resp)
}
