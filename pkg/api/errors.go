package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/engine"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/modules"
	"github.com/james-see/patchbay/pkg/transport"
)

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	// a route naming a missing module is a bad request, not a missing resource
	case errors.Is(err, module.ErrInvalidRoute):
		return http.StatusBadRequest
	case errors.Is(err, module.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateID), errors.Is(err, module.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, module.ErrInvalidProp),
		errors.Is(err, module.ErrIncompatiblePorts),
		errors.Is(err, module.ErrPortNotFound),
		errors.Is(err, modules.ErrUnknownModuleType),
		errors.Is(err, modules.ErrUnsupportedPropKind),
		errors.Is(err, transport.ErrInvalidBPM),
		errors.Is(err, transport.ErrInvalidDivision),
		errors.Is(err, transport.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDisposed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
