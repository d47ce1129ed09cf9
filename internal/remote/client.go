package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"custodychain/internal/apperr"
	"custodychain/pkg/models"

	"github.com/go-resty/resty/v2"
)

const ledgerStateID = 1

// Client stores orders, transports, alerts and the ledger blob in a
// json-server style REST backend.
type Client struct {
	client *resty.Client
}

type orderRecord struct {
	ID string `json:"id"`
	models.Order
}

type transportRecord struct {
	ID string `json:"id"`
	models.Transport
}

type alertRecord struct {
	ID string `json:"id"`
	models.Alert
}

type stateRecord struct {
	ID      int       `json:"id"`
	State   string    `json:"state"`
	SavedAt time.Time `json:"savedAt"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryIdempotent)
	return &Client{client: client}
}

// retryIdempotent retries transport failures and 5xx responses, but never a
// POST: the backend may already hold the record and answer a replay with a
// duplicate-id error.
func retryIdempotent(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil {
		return false
	}
	switch r.Request.Method {
	case http.MethodGet, http.MethodPut, http.MethodPatch:
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	}
	return false
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var rec orderRecord
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&rec).
		SetPathParam("id", orderID).
		Get("/orders/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, apperr.NotFound("order", orderID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /orders/%s: %s", orderID, resp.Status())
	}
	return &rec.Order, nil
}

func (c *Client) InsertOrder(ctx context.Context, order *models.Order) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(orderRecord{ID: order.OrderID, Order: *order}).
		Post("/orders")
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.OrderID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("POST /orders: %s", resp.Status())
	}
	return nil
}

// UpdateOrder compares the stored version before writing. The backend has
// no conditional writes, so two writers racing between the read and the
// PUT are not detected here; the order service's per-order lock covers a
// single process.
func (c *Client) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	current, err := c.GetOrder(ctx, order.OrderID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return apperr.ErrStaleVersion
	}

	next := *order
	next.Version = expectedVersion + 1
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", order.OrderID).
		SetBody(orderRecord{ID: order.OrderID, Order: next}).
		Put("/orders/{id}")
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("PUT /orders/%s: %s", order.OrderID, resp.Status())
	}
	order.Version = next.Version
	return nil
}

func (c *Client) InsertTransport(ctx context.Context, transport *models.Transport) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(transportRecord{ID: transport.TransportID, Transport: *transport}).
		Post("/transport")
	if err != nil {
		return fmt.Errorf("failed to insert transport %s: %w", transport.TransportID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("POST /transport: %s", resp.Status())
	}
	return nil
}

func (c *Client) GetTransport(ctx context.Context, transportID string) (*models.Transport, error) {
	var rec transportRecord
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&rec).
		SetPathParam("id", transportID).
		Get("/transport/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to get transport %s: %w", transportID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, apperr.NotFound("transport", transportID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /transport/%s: %s", transportID, resp.Status())
	}
	return &rec.Transport, nil
}

func (c *Client) CompleteTransport(ctx context.Context, transportID string, at time.Time) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", transportID).
		SetBody(map[string]any{
			"status":      models.TransportDelivered,
			"completedAt": at,
		}).
		Patch("/transport/{id}")
	if err != nil {
		return fmt.Errorf("failed to complete transport %s: %w", transportID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return apperr.NotFound("transport", transportID)
	}
	if resp.IsError() {
		return fmt.Errorf("PATCH /transport/%s: %s", transportID, resp.Status())
	}
	return nil
}

func (c *Client) InsertAlert(ctx context.Context, alert *models.Alert) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(alertRecord{ID: alert.AlertID, Alert: *alert}).
		Post("/alerts")
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("POST /alerts: %s", resp.Status())
	}
	return nil
}

// ListAlerts filters the alerts collection by order, oldest first.
func (c *Client) ListAlerts(ctx context.Context, orderID string) ([]models.Alert, error) {
	var recs []alertRecord
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&recs).
		SetQueryParams(map[string]string{
			"orderId": orderID,
			"_sort":   "createdAt",
		}).
		Get("/alerts")
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for order %s: %w", orderID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /alerts: %s", resp.Status())
	}
	alerts := make([]models.Alert, 0, len(recs))
	for _, rec := range recs {
		alerts = append(alerts, rec.Alert)
	}
	return alerts, nil
}

func (c *Client) LoadState(ctx context.Context) ([]byte, error) {
	var rec stateRecord
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&rec).
		SetPathParam("id", fmt.Sprint(ledgerStateID)).
		Get("/ledgerState/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET /ledgerState: %s", resp.Status())
	}
	return []byte(rec.State), nil
}

func (c *Client) SaveState(ctx context.Context, blob []byte) error {
	rec := stateRecord{ID: ledgerStateID, State: string(blob), SavedAt: time.Now().UTC()}
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprint(ledgerStateID)).
		SetBody(rec).
		Put("/ledgerState/{id}")
	if err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		resp, err = c.client.R().SetContext(ctx).SetBody(rec).Post("/ledgerState")
		if err != nil {
			return fmt.Errorf("failed to save ledger state: %w", err)
		}
	}
	if resp.IsError() {
		return fmt.Errorf("save ledger state: %s", resp.Status())
	}
	return nil
}
