package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dncdante911/worldmates-calls/internal/call"
	"github.com/dncdante911/worldmates-calls/internal/core"
	"github.com/dncdante911/worldmates-calls/internal/domain"
)

type Handlers struct {
	Coord *call.Coordinator
	Group *call.GroupCoordinator
}

type initiateRequest struct {
	ToID     domain.UserID `json:"toId" binding:"required"`
	ToName   string        `json:"toName"`
	ToAvatar string        `json:"toAvatar"`
	CallType string        `json:"callType"`
}

func (h *Handlers) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	peer, err := domain.NewPeer(req.ToID, req.ToName, req.ToAvatar)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, ok := domain.ParseMediaKind(req.CallType)
	if !ok {
		kind = domain.MediaAudio
	}

	sid, err := h.Coord.Initiate(c.Request.Context(), peer, kind)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sid})
}

type sessionRequest struct {
	SessionID domain.SessionID `json:"sessionId" binding:"required"`
}

func (h *Handlers) Accept(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Coord.Accept(c.Request.Context(), req.SessionID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Coord.Snapshot())
}

func (h *Handlers) Reject(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Coord.Reject(req.SessionID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Coord.Snapshot())
}

func (h *Handlers) End(c *gin.Context) {
	h.Coord.End()
	c.JSON(http.StatusOK, h.Coord.Snapshot())
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handlers) ToggleAudio(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Coord.ToggleAudio(req.Enabled)
	c.JSON(http.StatusOK, h.Coord.Snapshot())
}

func (h *Handlers) ToggleVideo(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Coord.ToggleVideo(req.Enabled)
	c.JSON(http.StatusOK, h.Coord.Snapshot())
}

func (h *Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.Coord.Snapshot())
}

type groupRequest struct {
	GroupID      domain.UserID `json:"groupId" binding:"required"`
	CallType     string        `json:"callType"`
	Participants []domain.Peer `json:"participants" binding:"required"`
}

func (h *Handlers) InitiateGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, ok := domain.ParseMediaKind(req.CallType)
	if !ok {
		kind = domain.MediaAudio
	}
	room, err := h.Group.InitiateGroup(c.Request.Context(), req.GroupID, req.Participants, kind)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *Handlers) EndGroup(c *gin.Context) {
	h.Group.EndGroup()
	c.JSON(http.StatusOK, gin.H{"active": h.Group.Active()})
}

func (h *Handlers) GroupState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": h.Group.Active(),
		"legs":   h.Group.LegStates(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoPendingCall):
		return http.StatusNotFound
	default:
		var me *core.MediaEngineError
		if errors.As(err, &me) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}
