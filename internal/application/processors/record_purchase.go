package processors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Landlord-Docs/landlord-backend/internal/application/events"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/analytics"
	shared "github.com/Landlord-Docs/landlord-backend/pkg/interfaces"
)

// RecordPurchase forwards a fulfilled purchase to the analytics backend.
// It is fire-and-forget from the webhook's point of view: the event only
// reaches this processor through the outbox.
type RecordPurchase struct {
	client *analytics.Client
}

func NewRecordPurchase(client *analytics.Client) *RecordPurchase {
	return &RecordPurchase{client: client}
}

func (c *RecordPurchase) Handle(ctx context.Context, event events.RecordPurchase) (shared.UoW, error) {
	err := c.client.RecordPurchase(ctx, analytics.PurchaseEvent{
		TransactionID: event.OrderID.String(),
		ItemID:        string(event.Product),
		ItemName:      string(event.Product),
		ValuePence:    event.AmountPence,
		Currency:      event.Currency,
		ClientID:      event.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("error recording purchase, %w", err)
	}

	slog.Info("Recorded purchase event", "orderID", event.OrderID)
	return nil, nil
}
