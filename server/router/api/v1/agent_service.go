package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/agent/orchestrator"
	"github.com/pulseplan/pulse/scheduler"
)

type agentMessageRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// handleAgentMessage runs one conversation turn. Outside of request
// validation, the endpoint always answers with a conversational response:
// orchestration failures surface as an in-band apology, never a 5xx.
func (s *APIV1Service) handleAgentMessage(c echo.Context) error {
	req := &agentMessageRequest{}
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "malformed agent message"})
	}

	resp, err := s.Orchestrator.HandleMessage(c.Request().Context(), req.UserID, req.ConversationID, req.Message)
	if err != nil {
		if scheduler.KindOf(err) == scheduler.KindValidation {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
		}
		slog.Error("failed to handle agent message", "user", req.UserID, "err", err)
		return c.JSON(http.StatusOK, &orchestrator.ConversationResponse{
			ConversationID: req.ConversationID,
			Message:        "Sorry, something went wrong on my end. Please try again.",
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// handleAgentWebsocket upgrades the connection and registers it for event
// delivery. The read loop only drains control frames; all traffic is
// server-to-client.
func (s *APIV1Service) handleAgentWebsocket(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "user_id is required"})
	}

	ws, err := notify.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade failed").SetInternal(err)
	}

	conn := notify.NewWebsocketConn(ws)
	s.Notifier.Register(userID, conn)
	defer func() {
		s.Notifier.Unregister(userID, conn)
		_ = conn.Close()
	}()

	conn.ReadLoop()
	return nil
}
