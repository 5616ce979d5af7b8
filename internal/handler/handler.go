package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"oraclebot/internal/models"
	"oraclebot/internal/risk"
)

// Store is the read-side of the repository the ops API exposes.
type Store interface {
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	ListClosedPositionsSince(ctx context.Context, since time.Time) ([]models.Position, error)
	ListTradeDecisions(ctx context.Context, limit int) ([]models.TradeDecision, error)
	ListCalibrationScores(ctx context.Context) ([]models.CalibrationScore, error)
}

// Closer lets the operator flatten a position through the API.
type Closer interface {
	ManualClose(ctx context.Context, positionID uint64) error
}

// Handler serves operational endpoints: health, risk controls, manual
// position close, and read-only views of the book and the audit trail.
type Handler struct {
	Repo      Store
	Risk      *risk.Gate
	Positions Closer
	Logger    *zap.Logger
}

func (h *Handler) Register(engine *gin.Engine) {
	engine.GET("/healthz", h.Health)

	api := engine.Group("/api/v1")
	api.GET("/risk/status", h.RiskStatus)
	api.POST("/risk/pause", h.Pause)
	api.POST("/risk/resume", h.Resume)
	api.POST("/risk/kill", h.Kill)
	api.POST("/risk/unkill", h.Unkill)
	api.GET("/positions", h.OpenPositions)
	api.GET("/positions/closed", h.ClosedPositions)
	api.POST("/positions/:id/close", h.ManualClose)
	api.GET("/decisions", h.Decisions)
	api.GET("/calibration", h.Calibration)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) RiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Risk.Status())
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Pause(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual pause"
	}
	h.Risk.Pause(req.Reason)
	c.JSON(http.StatusOK, h.Risk.Status())
}

func (h *Handler) Resume(c *gin.Context) {
	if !h.Risk.Resume() {
		c.JSON(http.StatusConflict, gin.H{"error": "kill switch engaged, resume refused"})
		return
	}
	c.JSON(http.StatusOK, h.Risk.Status())
}

func (h *Handler) Kill(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual kill"
	}
	h.Risk.Kill(req.Reason)
	c.JSON(http.StatusOK, h.Risk.Status())
}

func (h *Handler) Unkill(c *gin.Context) {
	h.Risk.Unkill()
	c.JSON(http.StatusOK, h.Risk.Status())
}

func (h *Handler) OpenPositions(c *gin.Context) {
	items, err := h.Repo.ListOpenPositions(c.Request.Context())
	if err != nil {
		h.fail(c, "list open positions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": items})
}

func (h *Handler) ClosedPositions(c *gin.Context) {
	since := time.Now().UTC().AddDate(0, 0, -7)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}
	items, err := h.Repo.ListClosedPositionsSince(c.Request.Context(), since)
	if err != nil {
		h.fail(c, "list closed positions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": items})
}

func (h *Handler) ManualClose(c *gin.Context) {
	if h.Positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "position manager not available"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}
	if err := h.Positions.ManualClose(c.Request.Context(), id); err != nil {
		if h.Logger != nil {
			h.Logger.Error("manual close failed", zap.Uint64("position_id", id), zap.Error(err))
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": id})
}

func (h *Handler) Decisions(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	items, err := h.Repo.ListTradeDecisions(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list decisions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": items})
}

func (h *Handler) Calibration(c *gin.Context) {
	items, err := h.Repo.ListCalibrationScores(c.Request.Context())
	if err != nil {
		h.fail(c, "list calibration scores", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": items})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if h.Logger != nil {
		h.Logger.Error("ops api failure", zap.String("op", op), zap.Error(err))
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
