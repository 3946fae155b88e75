package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attendnet/attendnet-api/internal/middleware"
	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/service"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/response"
)

// SummaryHandler exposes finalized session summaries.
type SummaryHandler struct {
	service *service.SummaryService
}

// NewSummaryHandler constructs a summary handler.
func NewSummaryHandler(svc *service.SummaryService) *SummaryHandler {
	return &SummaryHandler{service: svc}
}

func summaryFilterFromQuery(c *gin.Context, coordinatorID string) models.SummaryFilter {
	filter := models.SummaryFilter{CoordinatorID: coordinatorID}
	filter.Department = c.Query("department")
	filter.Course = c.Query("course")
	if from, err := time.Parse("2006-01-02", c.Query("date_from")); err == nil {
		filter.DateFrom = &from
	}
	if to, err := time.Parse("2006-01-02", c.Query("date_to")); err == nil {
		filter.DateTo = &to
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}

// List godoc
// @Summary List session summaries
// @Tags Summaries
// @Produce json
// @Param department query string false "Filter by department"
// @Param course query string false "Filter by course"
// @Param date_from query string false "Start of date range (RFC 3339 date)"
// @Param date_to query string false "End of date range (RFC 3339 date)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /summaries [get]
func (h *SummaryHandler) List(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summaries, pagination, err := h.service.List(c.Request.Context(), summaryFilterFromQuery(c, claims.CoordinatorID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summaries, pagination)
}

// Get godoc
// @Summary Get a summary
// @Tags Summaries
// @Produce json
// @Param id path string true "Summary ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /summaries/{id} [get]
func (h *SummaryHandler) Get(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.service.Get(c.Request.Context(), claims.CoordinatorID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

// GetBySession godoc
// @Summary Get the summary for a session
// @Tags Summaries
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/summary [get]
func (h *SummaryHandler) GetBySession(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.service.GetBySession(c.Request.Context(), claims.CoordinatorID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

// Stats godoc
// @Summary Aggregate attendance statistics
// @Description Headline numbers across the coordinator's finalized sessions
// @Tags Summaries
// @Produce json
// @Param department query string false "Filter by department"
// @Param course query string false "Filter by course"
// @Param date_from query string false "Start of date range (RFC 3339 date)"
// @Param date_to query string false "End of date range (RFC 3339 date)"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /summaries/stats [get]
func (h *SummaryHandler) Stats(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), summaryFilterFromQuery(c, claims.CoordinatorID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, stats, nil)
}
