// Package webserver is the boundary layer: thin translation between HTTP /
// push-channel requests and session registry operations.
package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/wppgate/config"
	"github.com/talkincode/wppgate/internal/session"
	"go.uber.org/zap"
)

type WebServer struct {
	cfg      *config.AppConfig
	root     *echo.Echo
	registry *session.Registry
	hub      *PushHub
}

func NewWebServer(cfg *config.AppConfig, registry *session.Registry, mux *session.Multiplexer) (*WebServer, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger)

	hub := NewPushHub(registry)
	if err := mux.Subscribe(hub.deliver); err != nil {
		return nil, err
	}

	s := &WebServer{cfg: cfg, root: e, registry: registry, hub: hub}
	s.initRouter()
	return s, nil
}

func (s *WebServer) initRouter() {
	api := s.root.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/status/:sessionId", s.getStatus)
	api.POST("/start-session/:sessionId", s.postStartSession)
	api.GET("/messages/:sessionId", s.getMessages)
	api.POST("/disconnect/:sessionId", s.postDisconnect)
	api.POST("/send-message/:sessionId", s.postSendMessage)
	api.GET("/metrics/:name", s.getMetrics)
	s.root.GET("/ws", s.hub.Handle)
}

func (s *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	zap.L().Info("gateway listening", zap.String("addr", addr))
	err := s.root.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *WebServer) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.root.Shutdown(ctx)
}

// requestLogger writes one structured line per request.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		zap.L().Debug("http request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonSerializer swaps echo's encoding/json for jsoniter.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := jsonAPI.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := jsonAPI.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
