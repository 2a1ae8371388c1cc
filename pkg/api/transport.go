package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/james-see/patchbay/pkg/transport"
)

// TransportStatus is the transport's observable state.
type TransportStatus struct {
	State         transport.State         `json:"state"`
	BPM           float64                 `json:"bpm"`
	TimeSignature transport.TimeSignature `json:"timeSignature"`
	Position      int64                   `json:"position"`
	Bar           int                     `json:"bar"`
	Beat          int                     `json:"beat"`
}

// TransportUpdate changes tempo or meter. Zero fields are left alone.
type TransportUpdate struct {
	BPM           float64                 `json:"bpm"`
	TimeSignature transport.TimeSignature `json:"timeSignature"`
}

func (s *Server) transportStatus() TransportStatus {
	tr := s.engine.Transport()
	pos := tr.Position()
	bar, beat := tr.BarBeat(pos)
	return TransportStatus{
		State:         tr.State(),
		BPM:           tr.BPM(),
		TimeSignature: tr.TimeSignature(),
		Position:      pos,
		Bar:           bar,
		Beat:          beat,
	}
}

// getTransport godoc
// @Summary Transport state
// @Tags transport
// @Produce json
// @Success 200 {object} TransportStatus
// @Router /api/v1/transport [get]
func (s *Server) getTransport(c *gin.Context) {
	c.JSON(http.StatusOK, s.transportStatus())
}

// updateTransport godoc
// @Summary Set tempo or time signature
// @Tags transport
// @Accept json
// @Produce json
// @Param update body TransportUpdate true "Tempo and meter"
// @Success 200 {object} TransportStatus
// @Failure 400 {object} map[string]string
// @Router /api/v1/transport [put]
func (s *Server) updateTransport(c *gin.Context) {
	var req TransportUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tr := s.engine.Transport()
	if req.BPM != 0 {
		if err := tr.SetBPM(req.BPM); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.TimeSignature != (transport.TimeSignature{}) {
		if err := tr.SetTimeSignature(req.TimeSignature); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, s.transportStatus())
}

// transportAction godoc
// @Summary Start, stop or pause
// @Tags transport
// @Produce json
// @Param action path string true "start, stop or pause"
// @Success 200 {object} TransportStatus
// @Failure 400 {object} map[string]string
// @Router /api/v1/transport/{action} [post]
func (s *Server) transportAction(c *gin.Context) {
	switch action := c.Param("action"); action {
	case "start":
		s.engine.Start()
	case "stop":
		s.engine.Stop()
	case "pause":
		s.engine.Pause()
	default:
		badRequest(c, fmt.Errorf("unknown transport action %q", action))
		return
	}
	c.JSON(http.StatusOK, s.transportStatus())
}
