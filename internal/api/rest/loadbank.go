package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenLoadbank/internal/control"
	"github.com/KevinKickass/OpenLoadbank/internal/loadbank"
	"github.com/KevinKickass/OpenLoadbank/internal/scheduler"
	"github.com/KevinKickass/OpenLoadbank/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

// GET /api/v1/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

// POST /api/v1/load
func (s *Server) setLoad(c *gin.Context) {
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err))
		return
	}

	on, err := control.ParseOnOff(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid load state", err))
		return
	}

	s.submit(c, control.LoadCommand(on))
}

// POST /api/v1/auto
func (s *Server) setAutoHold(c *gin.Context) {
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err))
		return
	}

	on, err := control.ParseOnOff(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid auto hold state", err))
		return
	}

	s.submit(c, control.AutoCommand(on))
}

// POST /api/v1/profile
func (s *Server) profileCommand(c *gin.Context) {
	var req struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err))
		return
	}

	action, err := control.ParseProfileAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid profile action", err))
		return
	}

	s.submit(c, control.ProfileCommand(action))
}

// POST /api/v1/setpoint
func (s *Server) setSetpoint(c *gin.Context) {
	var req struct {
		Value *float64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err))
		return
	}

	s.submit(c, control.SetpointCommand(*req.Value))
}

// submit forwards cmd to the control loop and writes the outcome.
func (s *Server) submit(c *gin.Context, cmd control.Command) {
	text, err := s.ctrl.Submit(c.Request.Context(), cmd)
	if err != nil {
		status, code := classify(err)
		s.logger.Warn("Command rejected",
			zap.String("command", cmd.String()),
			zap.Int("status", status),
			zap.Error(err))
		c.JSON(status, types.NewErrorResponse(code, "Command failed", err))
		return
	}

	body := gin.H{
		"message": "Command accepted",
		"command": cmd.String(),
	}
	if text != "" {
		body["result"] = text
	}
	c.JSON(http.StatusOK, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, loadbank.ErrInvalidArgument), errors.Is(err, loadbank.ErrModeUnknown):
		return http.StatusBadRequest, types.CodeBadRequest
	case errors.Is(err, control.ErrNoProfile):
		return http.StatusNotFound, types.CodeNoProfile
	case errors.Is(err, scheduler.ErrInvalidTransition), errors.Is(err, scheduler.ErrProfileFile):
		return http.StatusConflict, types.CodeConflict
	case errors.Is(err, control.ErrStopped):
		return http.StatusServiceUnavailable, types.CodeUnavailable
	default:
		// Anything else came back from the device exchange.
		return http.StatusBadGateway, types.CodeDevice
	}
}
