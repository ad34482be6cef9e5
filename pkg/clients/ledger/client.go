// Package ledger is an HTTP client for the flock ledger API.
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/flockledger/internal/domain/models"
)

// Config holds connection settings.
type Config struct {
	BaseURL   string
	FarmID    string
	ActorID   string
	ActorName string
	Timeout   time.Duration
}

// APIClient is a resty-backed client scoped to one farm.
type APIClient struct {
	httpClient *resty.Client
}

// NewClient builds a ledger API client using the provided configuration values.
func NewClient(cfg Config) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/api/v1").
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Farm-ID", cfg.FarmID).
		SetTimeout(timeout)
	if cfg.ActorID != "" {
		restyClient.SetHeader("X-Actor-ID", cfg.ActorID)
	}
	if cfg.ActorName != "" {
		restyClient.SetHeader("X-Actor-Name", cfg.ActorName)
	}

	return &APIClient{httpClient: restyClient}
}

// APIError is a rejected request. Kind matches the server's error kinds.
type APIError struct {
	Status    int
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Requested int    `json:"requested"`
	Available *int   `json:"available"`
	Limit     int    `json:"limit"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api error: status=%d, kind=%s, message=%s", e.Status, e.Kind, e.Message)
}

type apiError struct {
	Error APIError `json:"error"`
}

// LossRequest reports deaths, culls and off-lay removals. Nil counts are left out.
type LossRequest struct {
	Dead    *int   `json:"dead,omitempty"`
	Culled  *int   `json:"culled,omitempty"`
	Offlaid *int   `json:"offlaid,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// BatchView is the batch as returned by the API.
type BatchView struct {
	ID            string    `json:"id"`
	FarmID        string    `json:"farmId"`
	Name          string    `json:"name"`
	OriginalCount int       `json:"originalCount"`
	Dead          int       `json:"dead"`
	Culled        int       `json:"culled"`
	Offlaid       int       `json:"offlaid"`
	CurrentCount  int       `json:"currentCount"`
	IsArchived    bool      `json:"isArchived"`
	Revision      int64     `json:"revision"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LossResponse is the result of a loss report.
type LossResponse struct {
	Batch        BatchView `json:"batch"`
	AuditID      string    `json:"auditId"`
	AuditPending bool      `json:"auditPending"`
}

type allocationList struct {
	Allocations []models.Allocation `json:"allocations"`
}

type historyList struct {
	Entries []models.AuditEntry `json:"entries"`
}

// CreateBatch registers a batch.
func (c *APIClient) CreateBatch(ctx context.Context, name string, originalCount int) (*BatchView, error) {
	out := new(BatchView)
	err := c.do(ctx, http.MethodPost, "batches", map[string]any{"name": name, "originalCount": originalCount}, out)
	return out, err
}

// ApplyLosses records a loss delta against a batch.
func (c *APIClient) ApplyLosses(ctx context.Context, batchID string, req LossRequest) (*LossResponse, error) {
	out := new(LossResponse)
	err := c.do(ctx, http.MethodPost, "batches/"+batchID+"/losses", req, out)
	return out, err
}

// Availability fetches current and unallocated headcounts.
func (c *APIClient) Availability(ctx context.Context, batchID string) (*models.Availability, error) {
	out := new(models.Availability)
	err := c.do(ctx, http.MethodGet, "batches/"+batchID+"/availability", nil, out)
	return out, err
}

// Archive archives a batch.
func (c *APIClient) Archive(ctx context.Context, batchID string) (*BatchView, error) {
	out := new(BatchView)
	err := c.do(ctx, http.MethodPost, "batches/"+batchID+"/archive", nil, out)
	return out, err
}

// History lists a batch's audit entries newest first. A zero limit uses the
// server default.
func (c *APIClient) History(ctx context.Context, batchID string, limit int) ([]models.AuditEntry, error) {
	path := "batches/" + batchID + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	out := new(historyList)
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// CreateHouse registers a house; a nil capacity means unbounded.
func (c *APIClient) CreateHouse(ctx context.Context, name string, capacity *int) (*models.House, error) {
	body := map[string]any{"name": name}
	if capacity != nil {
		body["capacity"] = *capacity
	}
	out := new(models.House)
	err := c.do(ctx, http.MethodPost, "houses", body, out)
	return out, err
}

// Allocate places birds of a batch in a house.
func (c *APIClient) Allocate(ctx context.Context, batchID, houseID string, quantity int) (*models.Allocation, error) {
	out := new(models.Allocation)
	err := c.do(ctx, http.MethodPost, "batches/"+batchID+"/allocations", map[string]any{"houseId": houseID, "quantity": quantity}, out)
	return out, err
}

// UpdateAllocation sets an allocation's quantity.
func (c *APIClient) UpdateAllocation(ctx context.Context, allocationID string, quantity int) (*models.Allocation, error) {
	out := new(models.Allocation)
	err := c.do(ctx, http.MethodPatch, "allocations/"+allocationID, map[string]any{"quantity": quantity}, out)
	return out, err
}

// Transfer moves birds of a batch between houses.
func (c *APIClient) Transfer(ctx context.Context, batchID, fromHouseID, toHouseID string, quantity int) (*models.TransferResult, error) {
	out := new(models.TransferResult)
	err := c.do(ctx, http.MethodPost, "batches/"+batchID+"/transfers", map[string]any{
		"fromHouseId": fromHouseID,
		"toHouseId":   toHouseID,
		"quantity":    quantity,
	}, out)
	return out, err
}

// ListForBatch lists a batch's allocations.
func (c *APIClient) ListForBatch(ctx context.Context, batchID string) ([]models.Allocation, error) {
	out := new(allocationList)
	if err := c.do(ctx, http.MethodGet, "batches/"+batchID+"/allocations", nil, out); err != nil {
		return nil, err
	}
	return out.Allocations, nil
}

// ListForHouse lists a house's allocations.
func (c *APIClient) ListForHouse(ctx context.Context, houseID string) ([]models.Allocation, error) {
	out := new(allocationList)
	if err := c.do(ctx, http.MethodGet, "houses/"+houseID+"/allocations", nil, out); err != nil {
		return nil, err
	}
	return out.Allocations, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := new(apiError)

	req := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		e := apiErr.Error
		e.Status = resp.StatusCode()
		if e.Message == "" {
			e.Message = strings.TrimSpace(resp.String())
		}
		return &e
	}

	return nil
}
