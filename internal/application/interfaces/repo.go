package interfaces

import (
	"context"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	shared "github.com/Landlord-Docs/landlord-backend/pkg/interfaces"
	"github.com/google/uuid"
)

type OrderRepo interface {
	GetOrderByCheckoutSession(ctx context.Context, sessionID string) (*db.Order, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error)
	InsertOrder(ctx context.Context, order db.Order) error
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status consts.PaymentStatus) error
	UpdateFulfillmentStatus(ctx context.Context, orderID uuid.UUID, status consts.FulfillmentStatus) error
	MarkFulfillmentFailed(ctx context.Context, orderID uuid.UUID, message string, details []byte) error
	BackfillAttribution(ctx context.Context, orderID uuid.UUID, attribution db.Attribution) error
	CountDocuments(ctx context.Context, orderID uuid.UUID) (int, error)
}

type WebhookLogRepo interface {
	GetStatuses(ctx context.Context, stripeEventID string) ([]consts.WebhookLogStatus, error)
	InsertLog(ctx context.Context, log db.WebhookLog) (uint64, error)
	UpdateStatus(ctx context.Context, id uint64, status consts.WebhookLogStatus) error
	Finalize(ctx context.Context, id uint64, status consts.WebhookLogStatus, result consts.WebhookResult, errMessage string) error
}

type EntitlementRepo interface {
	MergeEntitlement(ctx context.Context, caseID uuid.UUID, product consts.ProductType) error
	GetEntitlements(ctx context.Context, caseID uuid.UUID) ([]consts.ProductType, error)
}

type EventRepo interface {
	InsertEvent(ctx context.Context, event shared.Event) error
}

// FulfillmentRequest identifies what the delegate is asked to produce.
type FulfillmentRequest struct {
	OrderID uuid.UUID
	CaseID  uuid.UUID
	Product consts.ProductType
	UserID  uuid.UUID
}

// Fulfiller generates the purchased documents. It returns a terminal
// status string or an error whose type/message drives classification.
type Fulfiller interface {
	Fulfill(ctx context.Context, req FulfillmentRequest) (string, error)
}
