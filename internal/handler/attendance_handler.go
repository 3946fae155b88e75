package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attendnet/attendnet-api/internal/middleware"
	"github.com/attendnet/attendnet-api/internal/service"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/response"
)

// ManualScanRequest carries the address list for a coordinator-triggered scan.
type ManualScanRequest struct {
	ConnectedMACs []string `json:"connected_macs" binding:"required"`
}

// ObservationRequest carries addresses reported by a network probe.
type ObservationRequest struct {
	MACAddresses []string `json:"mac_addresses" binding:"required"`
}

// AttendanceHandler exposes scan and record endpoints for a session.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	presence   *service.PresenceService
	sessions   *service.SessionService
}

// NewAttendanceHandler constructs an attendance handler.
func NewAttendanceHandler(attendance *service.AttendanceService, presence *service.PresenceService, sessions *service.SessionService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, presence: presence, sessions: sessions}
}

// ManualScan godoc
// @Summary Run a manual scan
// @Description Reconcile a supplied address list against the session's eligible students
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body ManualScanRequest true "Connected addresses"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /sessions/{id}/scan [post]
func (h *AttendanceHandler) ManualScan(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req ManualScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"))
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), claims.CoordinatorID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.attendance.ManualScan(c.Request.Context(), session, req.ConnectedMACs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// SubmitObservations godoc
// @Summary Submit network observations
// @Description Record addresses seen on the session network for the next scheduled scan
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body ObservationRequest true "Observed addresses"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/observations [post]
func (h *AttendanceHandler) SubmitObservations(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req ObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid observation payload"))
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), claims.CoordinatorID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	accepted, err := h.presence.Submit(c.Request.Context(), session.ID, req.MACAddresses)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, gin.H{"accepted": accepted}, nil)
}

// Records godoc
// @Summary List attendance records
// @Description Per-student counters accumulated for the session so far
// @Tags Attendance
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/attendance [get]
func (h *AttendanceHandler) Records(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), claims.CoordinatorID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	rows, err := h.attendance.Records(c.Request.Context(), session.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, rows, nil)
}
