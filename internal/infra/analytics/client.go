package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
)

// Client sends server-side purchase events over the GA4 Measurement
// Protocol. Callers treat failures as non-critical.
type Client struct {
	cfg    *AnalyticsConfig
	client *http.Client
}

func NewClient(cfg *AnalyticsConfig) *Client {
	return &Client{
		cfg,
		&http.Client{Timeout: 4 * time.Second},
	}
}

type PurchaseEvent struct {
	TransactionID string
	ItemID        string
	ItemName      string
	ValuePence    int64
	Currency      string
	ClientID      string
}

func (c *Client) RecordPurchase(ctx context.Context, event PurchaseEvent) error {
	clientID := event.ClientID
	if clientID == "" {
		clientID = "server." + event.TransactionID
	}
	payload := map[string]interface{}{
		"client_id": clientID,
		"events": []map[string]interface{}{
			{
				"name": "purchase",
				"params": map[string]interface{}{
					"transaction_id": event.TransactionID,
					"value":          float64(event.ValuePence) / 100,
					"currency":       event.Currency,
					"items": []map[string]interface{}{
						{
							"item_id":   event.ItemID,
							"item_name": event.ItemName,
							"quantity":  1,
						},
					},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s?measurement_id=%s&api_secret=%s", c.cfg.Endpoint, c.cfg.MeasurementID, c.cfg.APISecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errs.RetryableError{Err: fmt.Errorf("error sending analytics event, %v", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return errs.RetryableError{Err: fmt.Errorf("analytics endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("analytics endpoint returned %d", resp.StatusCode)
	}

	return nil
}
