package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/midi"
)

// MatchResult ranks every device of one direction against a name.
type MatchResult struct {
	Query      string        `json:"query"`
	Threshold  float64       `json:"threshold"`
	Best       *midi.Scored  `json:"best"`
	Candidates []midi.Scored `json:"candidates"`
}

// listDevices godoc
// @Summary List MIDI devices
// @Description Returns every MIDI port seen since startup with its connection state
// @Tags devices
// @Produce json
// @Success 200 {array} midi.DeviceInfo
// @Router /api/v1/devices [get]
func (s *Server) listDevices(c *gin.Context) {
	out := []midi.DeviceInfo{}
	for _, d := range s.engine.Devices().Devices() {
		out = append(out, d.Info())
	}
	c.JSON(http.StatusOK, out)
}

// matchDevice godoc
// @Summary Fuzzy-match a device name
// @Description Scores every device of the given type against name, best first
// @Tags devices
// @Produce json
// @Param name query string true "Device name to match"
// @Param type query string false "input or output (default input)"
// @Success 200 {object} MatchResult
// @Failure 400 {object} map[string]string
// @Router /api/v1/devices/match [get]
func (s *Server) matchDevice(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		badRequest(c, errors.New("name is required"))
		return
	}
	typ := midi.DeviceType(c.DefaultQuery("type", string(midi.Input)))
	if typ != midi.Input && typ != midi.Output {
		badRequest(c, fmt.Errorf("unknown device type %q", typ))
		return
	}
	c.JSON(http.StatusOK, Match(s.engine.Devices(), typ, name, s.engine.FuzzyThreshold()))
}

// Match ranks the manager's devices of typ against name. Best is set when
// the top score reaches threshold.
func Match(m *midi.Manager, typ midi.DeviceType, name string, threshold float64) MatchResult {
	res := MatchResult{Query: name, Threshold: threshold, Candidates: m.Rank(typ, name)}
	if len(res.Candidates) > 0 && res.Candidates[0].Score >= threshold {
		best := res.Candidates[0]
		res.Best = &best
	}
	return res
}
