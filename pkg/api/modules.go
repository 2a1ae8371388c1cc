package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/engine"
	"github.com/james-see/patchbay/pkg/module"
	"github.com/james-see/patchbay/pkg/modules"
)

// listModuleTypes godoc
// @Summary List module types
// @Description Returns every registered module type with its prop schema
// @Tags modules
// @Produce json
// @Success 200 {array} modules.TypeInfo
// @Router /api/v1/module-types [get]
func (s *Server) listModuleTypes(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Registry().Types())
}

// listModules godoc
// @Summary List modules
// @Tags modules
// @Produce json
// @Success 200 {array} module.Serialized
// @Router /api/v1/modules [get]
func (s *Server) listModules(c *gin.Context) {
	out := []module.Serialized{}
	for _, m := range s.engine.Modules() {
		out = append(out, m.Serialize())
	}
	c.JSON(http.StatusOK, out)
}

// addModule godoc
// @Summary Add a module
// @Description Creates and activates a module; an empty id is generated
// @Tags modules
// @Accept json
// @Produce json
// @Param module body engine.ModuleSpec true "Module"
// @Success 201 {object} module.Serialized
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/modules [post]
func (s *Server) addModule(c *gin.Context) {
	var spec engine.ModuleSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}
	m, err := s.engine.AddModule(spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// getModule godoc
// @Summary Get a module
// @Tags modules
// @Produce json
// @Param id path string true "Module id"
// @Success 200 {object} module.Serialized
// @Failure 404 {object} map[string]string
// @Router /api/v1/modules/{id} [get]
func (s *Server) getModule(c *gin.Context) {
	m, err := s.engine.FindModule(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m.Serialize())
}

// updateModule godoc
// @Summary Update a module
// @Description Renames the module and applies a sparse props update
// @Tags modules
// @Accept json
// @Produce json
// @Param id path string true "Module id"
// @Param module body engine.ModuleSpec true "Name and props"
// @Success 200 {object} module.Serialized
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/modules/{id} [patch]
func (s *Server) updateModule(c *gin.Context) {
	var spec engine.ModuleSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}
	spec.ID = c.Param("id")
	m, err := s.engine.UpdateModule(spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// removeModule godoc
// @Summary Remove a module
// @Description Severs every route touching the module and disposes it
// @Tags modules
// @Param id path string true "Module id"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /api/v1/modules/{id} [delete]
func (s *Server) removeModule(c *gin.Context) {
	if err := s.engine.RemoveModule(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NoteRequest plays or releases a note on a virtual keyboard.
type NoteRequest struct {
	Note     uint8 `json:"note" binding:"lte=127"`
	Velocity uint8 `json:"velocity" binding:"lte=127"`
	Off      bool  `json:"off"`
}

// CCRequest sends a control change from a virtual keyboard.
type CCRequest struct {
	Controller uint8 `json:"controller" binding:"lte=127"`
	Value      uint8 `json:"value" binding:"lte=127"`
}

func (s *Server) virtualMidi(c *gin.Context) (*modules.VirtualMidi, bool) {
	m, err := s.engine.FindModule(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	v, ok := m.(*modules.VirtualMidi)
	if !ok {
		badRequest(c, fmt.Errorf("module %s is a %s, not a %s", m.ID(), m.Type(), modules.TypeVirtualMidi))
		return nil, false
	}
	return v, true
}

// triggerNote godoc
// @Summary Play a note
// @Description Emits a note-on (or note-off) from a virtual keyboard module
// @Tags modules
// @Accept json
// @Param id path string true "Virtual keyboard module id"
// @Param note body NoteRequest true "Note"
// @Success 204
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/modules/{id}/notes [post]
func (s *Server) triggerNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, ok := s.virtualMidi(c)
	if !ok {
		return
	}
	if req.Off || req.Velocity == 0 {
		v.NoteOff(req.Note)
	} else {
		v.NoteOn(req.Note, req.Velocity)
	}
	c.Status(http.StatusNoContent)
}

// sendCC godoc
// @Summary Send a control change
// @Tags modules
// @Accept json
// @Param id path string true "Virtual keyboard module id"
// @Param cc body CCRequest true "Control change"
// @Success 204
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/modules/{id}/cc [post]
func (s *Server) sendCC(c *gin.Context) {
	var req CCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, ok := s.virtualMidi(c)
	if !ok {
		return
	}
	v.ControlChange(req.Controller, req.Value)
	c.Status(http.StatusNoContent)
}
