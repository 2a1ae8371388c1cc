package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/module"
)

// listRoutes godoc
// @Summary List routes
// @Tags routes
// @Produce json
// @Success 200 {array} module.Route
// @Router /api/v1/routes [get]
func (s *Server) listRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Routes())
}

// addRoute godoc
// @Summary Add a route
// @Description Links an output port to an input port. Nothing is connected unless both ends validate.
// @Tags routes
// @Accept json
// @Produce json
// @Param route body module.Route true "Route"
// @Success 201 {object} module.Route
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/routes [post]
func (s *Server) addRoute(c *gin.Context) {
	var r module.Route
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	added, err := s.engine.AddRoute(r)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, added)
}

// removeRoute godoc
// @Summary Remove a route
// @Tags routes
// @Param id path string true "Route id"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /api/v1/routes/{id} [delete]
func (s *Server) removeRoute(c *gin.Context) {
	if err := s.engine.RemoveRoute(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
