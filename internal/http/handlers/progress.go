package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/weekpath/internal/catalog"
	"github.com/example/weekpath/internal/http/response"
	"github.com/example/weekpath/internal/tracker"
	"github.com/example/weekpath/pkg/models"
)

// ProgressService is the tracker surface exposed over HTTP
type ProgressService interface {
	GetCurriculum(ctx context.Context) ([]models.UnitStatus, error)
	GetUnitStatus(ctx context.Context, unitID int) (models.UnitStatus, error)
	RecordCompletion(ctx context.Context, unitID int, kind models.SubUnitKind, index int, p tracker.Payload) (models.ProgressRecord, error)
	History(ctx context.Context, unitID int, kind models.SubUnitKind, index int) ([]models.ProgressRecord, error)
	Flush(ctx context.Context) (tracker.FlushResult, error)
	Pull(ctx context.Context) (int, error)
}

type ProgressHandler struct {
	svc ProgressService
}

func NewProgressHandler(svc ProgressService) *ProgressHandler {
	return &ProgressHandler{svc: svc}
}

type recordRequest struct {
	Kind    models.SubUnitKind `json:"kind" binding:"required"`
	Index   int                `json:"index"`
	Score   *float64           `json:"score"`
	Started bool               `json:"started"`
}

// GET /v1/units
func (h *ProgressHandler) ListUnits(c *gin.Context) {
	units, err := h.svc.GetCurriculum(c.Request.Context())
	if err != nil {
		respondTrackerError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"units": units})
}

// GET /v1/units/:unit
func (h *ProgressHandler) GetUnit(c *gin.Context) {
	unitID, ok := unitParam(c)
	if !ok {
		return
	}
	st, err := h.svc.GetUnitStatus(c.Request.Context(), unitID)
	if err != nil {
		respondTrackerError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"unit": st})
}

// POST /v1/units/:unit/progress
func (h *ProgressHandler) RecordProgress(c *gin.Context) {
	unitID, ok := unitParam(c)
	if !ok {
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	rec, err := h.svc.RecordCompletion(c.Request.Context(), unitID, req.Kind, req.Index, tracker.Payload{
		Score:   req.Score,
		Started: req.Started,
	})
	if err != nil {
		respondTrackerError(c, err)
		return
	}

	st, err := h.svc.GetUnitStatus(c.Request.Context(), unitID)
	if err != nil {
		respondTrackerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec, "unit": st})
}

// GET /v1/units/:unit/history?kind=quiz&index=0
func (h *ProgressHandler) History(c *gin.Context) {
	unitID, ok := unitParam(c)
	if !ok {
		return
	}
	kind := models.SubUnitKind(c.Query("kind"))
	index, err := strconv.Atoi(c.DefaultQuery("index", "0"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_index", err)
		return
	}
	attempts, err := h.svc.History(c.Request.Context(), unitID, kind, index)
	if err != nil {
		respondTrackerError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"attempts": attempts})
}

// POST /v1/sync
func (h *ProgressHandler) Sync(c *gin.Context) {
	ctx := c.Request.Context()
	flushed, err := h.svc.Flush(ctx)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "flush_failed", err)
		return
	}
	pulled, err := h.svc.Pull(ctx)
	if err != nil {
		respondTrackerError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"flush": flushed, "pulled": pulled})
}

func unitParam(c *gin.Context) (int, bool) {
	unitID, err := strconv.Atoi(c.Param("unit"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_unit_id", err)
		return 0, false
	}
	return unitID, true
}

func respondTrackerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrUnknownUnit):
		response.RespondError(c, http.StatusNotFound, "unit_not_found", err)
	case errors.Is(err, catalog.ErrUnknownSubUnit):
		response.RespondError(c, http.StatusNotFound, "sub_unit_not_found", err)
	case errors.Is(err, tracker.ErrScoreRequired), errors.Is(err, tracker.ErrInvalidScore):
		response.RespondError(c, http.StatusBadRequest, "invalid_score", err)
	case errors.Is(err, tracker.ErrLocalWrite):
		response.RespondError(c, http.StatusServiceUnavailable, "local_write_failed", tracker.ErrLocalWrite)
	case errors.Is(err, tracker.ErrNoRemote):
		response.RespondError(c, http.StatusConflict, "remote_not_configured", err)
	case errors.Is(err, context.DeadlineExceeded):
		response.RespondError(c, http.StatusGatewayTimeout, "remote_timeout", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
