// Package client is a typed HTTP client for the store and central APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/httpclient"
)

// Client talks to one store service and, optionally, the central service.
type Client struct {
	http       *httpclient.Client
	storeURL   string
	centralURL string
}

// New creates a client. centralURL may be empty when only store calls are made.
func New(storeURL, centralURL string, cfg httpclient.Config, logger *slog.Logger) *Client {
	return &Client{
		http:       httpclient.New(cfg, logger),
		storeURL:   strings.TrimRight(storeURL, "/"),
		centralURL: strings.TrimRight(centralURL, "/"),
	}
}

// NewProduct is the body of a product creation call.
type NewProduct struct {
	SKU         string          `json:"sku"`
	StoreID     string          `json:"store_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// OperationResult mirrors the store API's mutation response.
type OperationResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Product *domain.Product `json:"product,omitempty"`
}

type quantityBody struct {
	Quantity int `json:"quantity"`
}

// CreateProduct registers a product at a store.
func (c *Client) CreateProduct(ctx context.Context, p NewProduct) (*domain.Product, error) {
	var out OperationResult
	if err := c.call(ctx, http.MethodPost, c.storeURL+"/api/v1/products", "store", p, &out); err != nil {
		return nil, err
	}
	if out.Product == nil {
		return nil, fmt.Errorf("create product: response carried no product")
	}
	return out.Product, nil
}

// GetProduct fetches one product record.
func (c *Client) GetProduct(ctx context.Context, sku, storeID string) (*domain.Product, error) {
	var out domain.Product
	if err := c.call(ctx, http.MethodGet, c.productURL(sku, storeID, ""), "store", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reserve holds quantity units for a pending order.
func (c *Client) Reserve(ctx context.Context, sku, storeID string, quantity int) (*OperationResult, error) {
	return c.quantityCall(ctx, sku, storeID, "reserve", quantity)
}

// Commit turns reserved units into a sale.
func (c *Client) Commit(ctx context.Context, sku, storeID string, quantity int) (*OperationResult, error) {
	return c.quantityCall(ctx, sku, storeID, "commit", quantity)
}

// Cancel releases reserved units.
func (c *Client) Cancel(ctx context.Context, sku, storeID string, quantity int) (*OperationResult, error) {
	return c.quantityCall(ctx, sku, storeID, "cancel", quantity)
}

// Sweep asks the central service to apply journal events still pending.
func (c *Client) Sweep(ctx context.Context) (map[string]int, error) {
	if c.centralURL == "" {
		return nil, fmt.Errorf("central URL not configured")
	}
	var out map[string]int
	if err := c.call(ctx, http.MethodPost, c.centralURL+"/api/v1/events/sweep", "central", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Central fetches the network-wide record for sku.
func (c *Client) Central(ctx context.Context, sku string) (*domain.CentralInventory, error) {
	if c.centralURL == "" {
		return nil, fmt.Errorf("central URL not configured")
	}
	var out domain.CentralInventory
	if err := c.call(ctx, http.MethodGet, c.centralURL+"/api/v1/central/"+url.PathEscape(sku), "central", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) quantityCall(ctx context.Context, sku, storeID, op string, quantity int) (*OperationResult, error) {
	var out OperationResult
	if err := c.call(ctx, http.MethodPost, c.productURL(sku, storeID, op), "store", quantityBody{Quantity: quantity}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) productURL(sku, storeID, action string) string {
	u := fmt.Sprintf("%s/api/v1/products/%s/stores/%s", c.storeURL, url.PathEscape(sku), url.PathEscape(storeID))
	if action != "" {
		u += "/" + action
	}
	return u
}

// call sends body as JSON and decodes the data half of the response envelope
// into out. Non-2xx responses become AppErrors.
func (c *Client) call(ctx context.Context, method, target, service string, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", service, err)
		}
		payload = raw
	}

	resp, err := c.http.Send(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, service)
	}
	defer resp.Body.Close()

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}
