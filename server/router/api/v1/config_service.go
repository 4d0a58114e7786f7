package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// updateConfig applies dot-path overrides to the runtime config. A patch
// that fails validation is rejected wholesale.
func (s *APIV1Service) updateConfig(c echo.Context) error {
	patch := map[string]any{}
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed config patch"})
	}

	cfg, err := s.Config.Update(patch)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "config updated",
		"digest": s.Config.Digest(),
		"config": cfg,
	})
}

func (s *APIV1Service) exportConfig(c echo.Context) error {
	format := c.QueryParam("format")
	raw, err := s.Config.Export(format)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	contentType := "application/yaml"
	if format == "json" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(http.StatusOK, contentType, raw)
}
