// Package api provides the REST command surface over a running engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/engine"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Patchbay API
// @version 1.0
// @description Command surface of the patchbay signal engine: modules, routes, transport and MIDI devices
// @host localhost:8080
// @BasePath /api/v1

// Server serves the API for one engine.
type Server struct {
	engine *engine.Engine
	log    logrus.FieldLogger
	router *gin.Engine
}

// NewServer builds the router. A nil logger uses the engine's.
func NewServer(e *engine.Engine, log logrus.FieldLogger) *Server {
	if log == nil {
		log = e.Logger()
	}
	s := &Server{engine: e, log: log.WithField("component", "api")}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	r.GET("/health", s.healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/engine", s.getEngine)
		v1.PUT("/engine", s.loadEngine)
		v1.GET("/events", s.streamEvents)

		v1.GET("/module-types", s.listModuleTypes)
		v1.GET("/modules", s.listModules)
		v1.POST("/modules", s.addModule)
		v1.GET("/modules/:id", s.getModule)
		v1.PATCH("/modules/:id", s.updateModule)
		v1.DELETE("/modules/:id", s.removeModule)
		v1.POST("/modules/:id/notes", s.triggerNote)
		v1.POST("/modules/:id/cc", s.sendCC)

		v1.GET("/routes", s.listRoutes)
		v1.POST("/routes", s.addRoute)
		v1.DELETE("/routes/:id", s.removeRoute)

		v1.GET("/transport", s.getTransport)
		v1.PUT("/transport", s.updateTransport)
		v1.POST("/transport/:action", s.transportAction)

		v1.GET("/devices", s.listDevices)
		v1.GET("/devices/match", s.matchDevice)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// StartServer serves on port until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, e *engine.Engine, port int) error {
	s := NewServer(e, nil)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.WithField("port", port).Info("api listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request")
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "patchbay",
		"engine":  s.engine.ID(),
	})
}

// streamEvents godoc
// @Summary Stream engine events
// @Description Server-sent events: "props" after every committed prop change, "transport" on play state changes
// @Tags engine
// @Produce text/event-stream
// @Router /api/v1/events [get]
func (s *Server) streamEvents(c *gin.Context) {
	type event struct {
		name string
		data any
	}
	ch := make(chan event, 64)
	push := func(ev event) {
		select {
		case ch <- ev:
		default:
			s.log.WithField("event", ev.name).Warn("event stream client too slow, dropping event")
		}
	}
	removeProps := s.engine.OnPropsUpdate(func(u engine.PropsUpdate) { push(event{"props", u}) })
	defer removeProps()
	removeState := s.engine.Transport().OnStateChange(func(st transport.State, at float64) {
		push(event{"transport", gin.H{"state": st, "at": at}})
	})
	defer removeState()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	// subscribers are in place once the client sees the headers
	c.Status(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev := <-ch:
			c.SSEvent(ev.name, ev.data)
			return true
		}
	})
}
