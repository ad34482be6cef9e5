package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/service/allocation"
	"github.com/mamadbah2/flockledger/internal/service/transfer"
)

// AllocationHandler exposes houses, allocations and transfers.
type AllocationHandler struct {
	table     allocation.Table
	transfers transfer.Transferer
	logger    *zap.Logger
}

// NewAllocationHandler constructs the HTTP adapter.
func NewAllocationHandler(table allocation.Table, transfers transfer.Transferer, logger *zap.Logger) *AllocationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationHandler{table: table, transfers: transfers, logger: logger}
}

type createHouseRequest struct {
	Name     string `json:"name"`
	Capacity *int   `json:"capacity"`
}

type allocateRequest struct {
	HouseID  string `json:"houseId" binding:"required"`
	Quantity int    `json:"quantity"`
}

type updateAllocationRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type transferRequest struct {
	FromHouseID string `json:"fromHouseId" binding:"required"`
	ToHouseID   string `json:"toHouseId" binding:"required"`
	Quantity    int    `json:"quantity"`
}

// CreateHouse registers a house.
func (h *AllocationHandler) CreateHouse(c *gin.Context) {
	var req createHouseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, h.logger, err)
		return
	}

	house, err := h.table.RegisterHouse(c.Request.Context(), FarmID(c), req.Name, req.Capacity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, house)
}

// Allocate places birds of the batch in a house.
func (h *AllocationHandler) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, h.logger, err)
		return
	}

	a, err := h.table.Allocate(c.Request.Context(), FarmID(c), c.Param("batchID"), req.HouseID, req.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Update corrects an allocation's quantity.
func (h *AllocationHandler) Update(c *gin.Context) {
	var req updateAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, h.logger, err)
		return
	}

	a, err := h.table.UpdateAllocationQuantity(c.Request.Context(), FarmID(c), c.Param("allocationID"), *req.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Transfer moves birds of the batch between two houses.
func (h *AllocationHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, h.logger, err)
		return
	}

	res, err := h.transfers.Transfer(c.Request.Context(), FarmID(c), c.Param("batchID"), req.FromHouseID, req.ToHouseID, req.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListForBatch lists a batch's allocations.
func (h *AllocationHandler) ListForBatch(c *gin.Context) {
	list, err := h.table.ListForBatch(c.Request.Context(), FarmID(c), c.Param("batchID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": nonNil(list)})
}

// ListForHouse lists a house's allocations.
func (h *AllocationHandler) ListForHouse(c *gin.Context) {
	list, err := h.table.ListForHouse(c.Request.Context(), FarmID(c), c.Param("houseID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": nonNil(list)})
}

func nonNil(list []models.Allocation) []models.Allocation {
	if list == nil {
		return []models.Allocation{}
	}
	return list
}
