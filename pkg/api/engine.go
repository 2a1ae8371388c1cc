package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/engine"
)

// EngineSnapshot is the patch plus live transport state.
type EngineSnapshot struct {
	ID        string            `json:"id"`
	Patch     engine.Serialized `json:"patch"`
	Transport TransportStatus   `json:"transport"`
}

// getEngine godoc
// @Summary Engine snapshot
// @Description Returns the serialized patch and transport state
// @Tags engine
// @Produce json
// @Success 200 {object} EngineSnapshot
// @Router /api/v1/engine [get]
func (s *Server) getEngine(c *gin.Context) {
	c.JSON(http.StatusOK, EngineSnapshot{
		ID:        s.engine.ID(),
		Patch:     s.engine.Serialize(),
		Transport: s.transportStatus(),
	})
}

// loadEngine godoc
// @Summary Load a patch
// @Description Replaces every module and route with the posted patch
// @Tags engine
// @Accept json
// @Produce json
// @Param patch body engine.Serialized true "Patch"
// @Success 200 {object} engine.Serialized
// @Failure 400 {object} map[string]string
// @Router /api/v1/engine [put]
func (s *Server) loadEngine(c *gin.Context) {
	var patch engine.Serialized
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.Load(patch); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Serialize())
}
