package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/application/interfaces"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	shared "github.com/Landlord-Docs/landlord-backend/pkg/interfaces"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, case_id, user_id, product, checkout_session_id, amount_pence, currency,
		payment_status, fulfillment_status, fulfillment_error, fulfillment_error_details,
		landing_path, referrer, utm_source, utm_medium, utm_campaign, utm_term, utm_content,
		client_id, first_touch_at, created_at, updated_at`

type OrderRepo struct {
	tx pgx.Tx
}

var _ interfaces.OrderRepo = (*OrderRepo)(nil)

func NewOrderRepo(tx pgx.Tx) *OrderRepo {
	return &OrderRepo{tx: tx}
}

func (r *OrderRepo) GetOrderByCheckoutSession(ctx context.Context, sessionID string) (*db.Order, error) {
	query := "SELECT " + orderColumns + " FROM landlord.orders WHERE checkout_session_id = $1"
	return r.scanOrder(r.tx.QueryRow(ctx, query, sessionID))
}

func (r *OrderRepo) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	query := "SELECT " + orderColumns + " FROM landlord.orders WHERE id = $1"
	return r.scanOrder(r.tx.QueryRow(ctx, query, orderID))
}

func (r *OrderRepo) scanOrder(row pgx.Row) (*db.Order, error) {
	var order db.Order
	err := row.Scan(&order.ID, &order.CaseID, &order.UserID, &order.Product, &order.CheckoutSessionID,
		&order.AmountPence, &order.Currency, &order.PaymentStatus, &order.FulfillmentStatus,
		&order.FulfillmentError, &order.ErrorDetails,
		&order.Attribution.LandingPath, &order.Attribution.Referrer, &order.Attribution.UTMSource,
		&order.Attribution.UTMMedium, &order.Attribution.UTMCampaign, &order.Attribution.UTMTerm,
		&order.Attribution.UTMContent, &order.Attribution.ClientID, &order.Attribution.FirstTouchAt,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *OrderRepo) InsertOrder(ctx context.Context, order db.Order) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO landlord.orders(id, case_id, user_id, product, checkout_session_id,
			amount_pence, currency, payment_status, fulfillment_status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		order.ID, order.CaseID, order.UserID, order.Product, order.CheckoutSessionID,
		order.AmountPence, order.Currency, order.PaymentStatus, order.FulfillmentStatus,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("err inserting order, %v", err)
	}

	return nil
}

func (r *OrderRepo) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status consts.PaymentStatus) error {
	_, err := r.tx.Exec(ctx, "UPDATE landlord.orders SET payment_status = $1, updated_at = $2 WHERE id = $3",
		status, time.Now(), orderID)
	return err
}

func (r *OrderRepo) UpdateFulfillmentStatus(ctx context.Context, orderID uuid.UUID, status consts.FulfillmentStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE landlord.orders SET fulfillment_status = $1, fulfillment_error = NULL,
			fulfillment_error_details = NULL, updated_at = $2 WHERE id = $3`,
		status, time.Now(), orderID)
	return err
}

func (r *OrderRepo) MarkFulfillmentFailed(ctx context.Context, orderID uuid.UUID, message string, details []byte) error {
	var rawDetails json.RawMessage
	if len(details) > 0 {
		rawDetails = details
	}
	_, err := r.tx.Exec(ctx, `UPDATE landlord.orders SET fulfillment_status = $1, fulfillment_error = $2,
			fulfillment_error_details = $3, updated_at = $4 WHERE id = $5`,
		consts.FulfillmentFailed, message, rawDetails, time.Now(), orderID)
	return err
}

// BackfillAttribution writes each attribution field only where the stored
// value is still NULL or empty, so the first recorded touch always wins.
func (r *OrderRepo) BackfillAttribution(ctx context.Context, orderID uuid.UUID, attribution db.Attribution) error {
	_, err := r.tx.Exec(ctx, `UPDATE landlord.orders SET
			landing_path   = COALESCE(NULLIF(landing_path, ''), $1),
			referrer       = COALESCE(NULLIF(referrer, ''), $2),
			utm_source     = COALESCE(NULLIF(utm_source, ''), $3),
			utm_medium     = COALESCE(NULLIF(utm_medium, ''), $4),
			utm_campaign   = COALESCE(NULLIF(utm_campaign, ''), $5),
			utm_term       = COALESCE(NULLIF(utm_term, ''), $6),
			utm_content    = COALESCE(NULLIF(utm_content, ''), $7),
			client_id      = COALESCE(NULLIF(client_id, ''), $8),
			first_touch_at = COALESCE(first_touch_at, $9),
			updated_at     = $10
			WHERE id = $11`,
		attribution.LandingPath, attribution.Referrer, attribution.UTMSource, attribution.UTMMedium,
		attribution.UTMCampaign, attribution.UTMTerm, attribution.UTMContent, attribution.ClientID,
		attribution.FirstTouchAt, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("err backfilling attribution, %v", err)
	}

	return nil
}

func (r *OrderRepo) CountDocuments(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, "SELECT count(*) FROM landlord.documents WHERE order_id = $1", orderID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

type WebhookLogRepo struct {
	tx pgx.Tx
}

var _ interfaces.WebhookLogRepo = (*WebhookLogRepo)(nil)

func NewWebhookLogRepo(tx pgx.Tx) *WebhookLogRepo {
	return &WebhookLogRepo{tx: tx}
}

func (r *WebhookLogRepo) GetStatuses(ctx context.Context, stripeEventID string) ([]consts.WebhookLogStatus, error) {
	rows, err := r.tx.Query(ctx, "SELECT status FROM landlord.webhook_logs WHERE stripe_event_id = $1", stripeEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []consts.WebhookLogStatus
	for rows.Next() {
		var status consts.WebhookLogStatus
		if err = rows.Scan(&status); err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return statuses, nil
}

// InsertLog claims the event id. The unique index on stripe_event_id makes
// the claim atomic: a delivery colliding with a live or completed attempt
// gets pgx.ErrNoRows back instead of a row. A row left in failed is
// re-claimable, so the provider's retry after a 500 is processed again.
func (r *WebhookLogRepo) InsertLog(ctx context.Context, log db.WebhookLog) (uint64, error) {
	var id uint64
	err := r.tx.QueryRow(ctx, `INSERT INTO landlord.webhook_logs(stripe_event_id, event_type, status, payload, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (stripe_event_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
			WHERE webhook_logs.status = $7
			RETURNING id`,
		log.StripeEventID, log.EventType, log.Status, log.Payload, log.CreatedAt, log.UpdatedAt,
		consts.WebhookFailed).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (r *WebhookLogRepo) UpdateStatus(ctx context.Context, id uint64, status consts.WebhookLogStatus) error {
	_, err := r.tx.Exec(ctx, "UPDATE landlord.webhook_logs SET status = $1, updated_at = $2 WHERE id = $3",
		status, time.Now(), id)
	return err
}

func (r *WebhookLogRepo) Finalize(ctx context.Context, id uint64, status consts.WebhookLogStatus, result consts.WebhookResult, errMessage string) error {
	var message *string
	if errMessage != "" {
		message = &errMessage
	}
	_, err := r.tx.Exec(ctx, `UPDATE landlord.webhook_logs SET status = $1, result = $2, error_message = $3,
			updated_at = $4 WHERE id = $5`,
		status, result, message, time.Now(), id)
	return err
}

type EntitlementRepo struct {
	tx pgx.Tx
}

var _ interfaces.EntitlementRepo = (*EntitlementRepo)(nil)

func NewEntitlementRepo(tx pgx.Tx) *EntitlementRepo {
	return &EntitlementRepo{tx: tx}
}

// MergeEntitlement unions the purchased product into the case's set,
// deduplicated. Replays are no-ops.
func (r *EntitlementRepo) MergeEntitlement(ctx context.Context, caseID uuid.UUID, product consts.ProductType) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO landlord.case_entitlements(case_id, products, updated_at)
			VALUES ($1, ARRAY[$2::text], $3)
			ON CONFLICT (case_id) DO UPDATE SET
				products = (SELECT ARRAY(SELECT DISTINCT unnest(case_entitlements.products || excluded.products) ORDER BY 1)),
				updated_at = excluded.updated_at`,
		caseID, string(product), time.Now())
	if err != nil {
		return fmt.Errorf("err merging entitlement, %v", err)
	}

	return nil
}

func (r *EntitlementRepo) GetEntitlements(ctx context.Context, caseID uuid.UUID) ([]consts.ProductType, error) {
	var products []string
	err := r.tx.QueryRow(ctx, "SELECT products FROM landlord.case_entitlements WHERE case_id = $1", caseID).
		Scan(&products)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	entitlements := make([]consts.ProductType, 0, len(products))
	for _, product := range products {
		entitlements = append(entitlements, consts.ProductType(product))
	}
	return entitlements, nil
}

type EventRepo struct {
	tx pgx.Tx
}

var _ interfaces.EventRepo = (*EventRepo)(nil)

func NewEventRepo(tx pgx.Tx) *EventRepo {
	return &EventRepo{tx: tx}
}

func (e *EventRepo) InsertEvent(ctx context.Context, event shared.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("err marshalling event payload, %v", err)
	}
	outbox := db.Outbox{
		Event:     event.GetType(),
		Status:    int(consts.NotProcessed),
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now(),
	}
	_, err = e.tx.Exec(ctx, "INSERT INTO landlord.outbox (event, status, payload, created_at) VALUES ($1,$2,$3,$4)",
		outbox.Event, outbox.Status, outbox.Payload, outbox.CreatedAt)
	if err != nil {
		return fmt.Errorf("err inserting a new event, %v", err)
	}

	return nil
}
