package webserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nakabonne/tstorage"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/talkincode/wppgate/config"
	"github.com/talkincode/wppgate/internal/credstore"
	"github.com/talkincode/wppgate/internal/session"
	"github.com/talkincode/wppgate/pkg/metrics"
)

func (s *WebServer) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"environment": config.Environment(),
	})
}

func (s *WebServer) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.GetStatus(c.Param("sessionId")))
}

// postStartSession ensures the session exists, then waits for either a
// pairing image or a connection established from stored credentials. A wait
// that produces neither is a 408.
func (s *WebServer) postStartSession(c echo.Context) error {
	id := c.Param("sessionId")
	if err := credstore.ValidateID(id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid session id", "connected": false,
		})
	}

	st, err := s.registry.StartSession(c.Request().Context(), id, "")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(), "connected": false,
		})
	}
	if st.Connected {
		return c.JSON(http.StatusOK, st)
	}

	wait := time.Duration(s.cfg.Session.PairingWaitMs) * time.Millisecond
	img, connected, err := s.registry.AwaitPairingImage(c.Request().Context(), id, wait)
	switch {
	case connected:
		return c.JSON(http.StatusOK, s.registry.GetStatus(id))
	case errors.Is(err, session.ErrPairingTimeout):
		return c.JSON(http.StatusRequestTimeout, map[string]interface{}{
			"error": "timed out waiting for QR code", "connected": false,
		})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(), "connected": false,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"qrCode": img})
}

func (s *WebServer) getMessages(c echo.Context) error {
	msgs, err := s.registry.DrainMessages(c.Param("sessionId"))
	if errors.Is(err, session.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *WebServer) postDisconnect(c echo.Context) error {
	if err := s.registry.Disconnect(c.Request().Context(), c.Param("sessionId")); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// getMetrics reads recorded gateway counters for dashboards and debugging.
// Defaults to the last hour when no range is given.
func (s *WebServer) getMetrics(c echo.Context) error {
	end := cast.ToInt64(c.QueryParam("end"))
	if end == 0 {
		end = time.Now().Unix()
	}
	start := cast.ToInt64(c.QueryParam("start"))
	if start == 0 {
		start = end - 3600
	}
	points, err := metrics.Select(c.Param("name"), start, end)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if points == nil {
		points = []*tstorage.DataPoint{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metric":     c.Param("name"),
		"datapoints": points,
	})
}

type sendMessagePayload struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

func (s *WebServer) postSendMessage(c echo.Context) error {
	var payload sendMessagePayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unable to parse request"})
	}
	if payload.Number == "" || payload.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "number and message are required"})
	}

	err := s.registry.SendMessage(c.Request().Context(), c.Param("sessionId"), payload.Number, payload.Message)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to send message"})
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
