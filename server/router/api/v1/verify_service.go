package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pulseplan/pulse/scheduler/verify"
)

// verifyResponse checks an arbitrary schedule document without touching the
// scheduling pipeline, for offline inspection of stored responses.
func (s *APIV1Service) verifyResponse(c echo.Context) error {
	doc := map[string]any{}
	if err := c.Bind(&doc); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed response document"})
	}
	return c.JSON(http.StatusOK, s.Verifier.VerifyResponse(doc))
}

func (s *APIV1Service) verifyStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"config": s.Verifier.Config(),
		"stats":  s.Verifier.Stats(),
	})
}

func (s *APIV1Service) configureVerifier(c echo.Context) error {
	cfg := verify.Config{}
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed verifier config"})
	}
	if cfg.Mode != "" && cfg.Mode != verify.ModeBasic && cfg.Mode != verify.ModeStrict {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "mode must be BASIC or STRICT"})
	}
	s.Verifier.Configure(cfg)
	return c.JSON(http.StatusOK, map[string]any{
		"status": "verifier configured",
		"config": s.Verifier.Config(),
	})
}

func (s *APIV1Service) controlVerifier(c echo.Context) error {
	switch action := c.Param("action"); action {
	case "enable":
		s.Verifier.Enable()
	case "disable":
		s.Verifier.Disable()
	case "reset-stats":
		s.Verifier.ResetStats()
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "unknown control action (enable, disable, reset-stats)"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"config": s.Verifier.Config(),
	})
}
