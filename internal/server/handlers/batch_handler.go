package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/service/ledger"
)

// HistoryReader reads a batch's audit trail.
type HistoryReader interface {
	History(ctx context.Context, farmID, batchID string, limit int) ([]models.AuditEntry, error)
}

// BatchHandler exposes the batch ledger and its audit trail.
type BatchHandler struct {
	ledger  ledger.BatchLedger
	history HistoryReader
	logger  *zap.Logger
}

// NewBatchHandler constructs the HTTP adapter.
func NewBatchHandler(l ledger.BatchLedger, history HistoryReader, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{ledger: l, history: history, logger: logger}
}

type createBatchRequest struct {
	Name          string `json:"name"`
	OriginalCount *int   `json:"originalCount" binding:"required"`
}

type lossRequest struct {
	Dead    *int   `json:"dead"`
	Culled  *int   `json:"culled"`
	Offlaid *int   `json:"offlaid"`
	Reason  string `json:"reason"`
	Notes   string `json:"notes"`
}

// Create registers a new batch.
func (h *BatchHandler) Create(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, h.logger, err)
		return
	}

	b, err := h.ledger.CreateBatch(c.Request.Context(), FarmID(c), req.Name, *req.OriginalCount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, batchView(b))
}

// ApplyLosses records deaths, culls and off-lay removals.
func (h *BatchHandler) ApplyLosses(c *gin.Context) {
	var req lossRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, h.logger, err)
		return
	}

	delta := models.LossDelta{Dead: req.Dead, Culled: req.Culled, Offlaid: req.Offlaid}
	res, err := h.ledger.ApplyLossDelta(c.Request.Context(), FarmID(c), c.Param("batchID"), delta, ActorFrom(c), req.Reason, req.Notes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batch":        batchView(res.Batch),
		"auditId":      res.AuditID,
		"auditPending": res.AuditPending,
	})
}

// Availability reports current and unallocated headcounts.
func (h *BatchHandler) Availability(c *gin.Context) {
	avail, err := h.ledger.GetAvailability(c.Request.Context(), FarmID(c), c.Param("batchID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

// Archive soft-archives a batch with nothing allocated.
func (h *BatchHandler) Archive(c *gin.Context) {
	b, err := h.ledger.ArchiveBatch(c.Request.Context(), FarmID(c), c.Param("batchID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, batchView(b))
}

// History lists audit entries newest first.
func (h *BatchHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, h.logger, errs.InvalidInput("limit must be a non-negative integer, got %q", raw))
			return
		}
		limit = n
	}

	entries, err := h.history.History(c.Request.Context(), FarmID(c), c.Param("batchID"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func batchView(b models.Batch) gin.H {
	return gin.H{
		"id":            b.ID,
		"farmId":        b.FarmID,
		"name":          b.Name,
		"originalCount": b.OriginalCount,
		"dead":          b.Dead,
		"culled":        b.Culled,
		"offlaid":       b.Offlaid,
		"currentCount":  b.CurrentCount(),
		"isArchived":    b.IsArchived,
		"revision":      b.Revision,
		"updatedAt":     b.UpdatedAt,
	}
}
