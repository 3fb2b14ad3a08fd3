package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/application/dto"
	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
	"github.com/Landlord-Docs/landlord-backend/internal/application/events"
	"github.com/Landlord-Docs/landlord-backend/internal/application/interfaces"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/config"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db/repo"
	dbs "github.com/Landlord-Docs/landlord-backend/pkg/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// maxErrorLength caps the human-readable error stored on an order.
const maxErrorLength = 500

// attributionKeys are the nine first-touch fields carried through
// checkout-session metadata.
var attributionKeys = []string{
	"landing_path", "referrer", "utm_source", "utm_medium", "utm_campaign",
	"utm_term", "utm_content", "client_id", "first_touch_at",
}

type Payment struct {
	uowFactory *dbs.UOWFactory
	fulfiller  interfaces.Fulfiller
	cfg        PaymentConfig
	urls       *config.FulfillConfig
}

type PaymentConfig struct {
	apiKey     string
	webhookKey string
	returnUrl  string
}

func NewPaymentConfig() PaymentConfig {
	return PaymentConfig{
		apiKey:     os.Getenv("STRIPE_KEY"),
		webhookKey: os.Getenv("STRIPE_WEBHOOK"),
		returnUrl:  os.Getenv("STRIPE_RETURN_URL"),
	}
}

func NewPayment(uowFactory *dbs.UOWFactory, fulfiller interfaces.Fulfiller, cfg PaymentConfig, urls *config.FulfillConfig) *Payment {
	stripe.Key = cfg.apiKey
	stripe.SetHTTPClient(&http.Client{Timeout: 10 * time.Second})
	return &Payment{
		uowFactory: uowFactory,
		fulfiller:  fulfiller,
		cfg:        cfg,
		urls:       urls,
	}
}

// CreateCheckout creates the order row and a Stripe Checkout Session whose
// metadata carries everything the webhook later needs: order id, case id,
// product and the attribution snapshot.
func (c *Payment) CreateCheckout(ctx context.Context, req *dto.CreateCheckoutRequest, userID uuid.UUID) (*dto.CreateCheckoutResponse, error) {
	if !req.Product.Valid() {
		return nil, errs.ValidationError{Err: fmt.Errorf("Unsupported product type: %s", req.Product)}
	}

	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return nil, err
	}
	defer uow.Finalize(&err)

	var priceID, productName, currency string
	var amountPence int64
	err = tx.QueryRow(ctx, "SELECT stripe_price_id, name, amount_pence, currency FROM landlord.products WHERE product = $1",
		req.Product).Scan(&priceID, &productName, &amountPence, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ValidationError{Err: fmt.Errorf("Unsupported product type: %s", req.Product)}
		}
		return nil, fmt.Errorf("error retrieving stripe price, %v", err)
	}

	order := db.Order{
		ID:                uuid.New(),
		CaseID:            req.CaseID,
		UserID:            userID,
		Product:           req.Product,
		AmountPence:       amountPence,
		Currency:          currency,
		PaymentStatus:     consts.PaymentStatusPending,
		FulfillmentStatus: consts.FulfillmentReadyToGenerate,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	orderRepo := repo.NewOrderRepo(tx)
	if err = orderRepo.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"order_id": order.ID.String(),
		"case_id":  req.CaseID.String(),
		"product":  string(req.Product),
		"user_id":  userID.String(),
	}
	for _, key := range attributionKeys {
		if value := req.Attribution[key]; value != "" {
			metadata[key] = value
		}
	}

	params := &stripe.CheckoutSessionParams{
		UIMode:    stripe.String("embedded"),
		ReturnURL: stripe.String(c.cfg.returnUrl + "/complete?session_id={CHECKOUT_SESSION_ID}"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Metadata: metadata,
	}

	slog.Info("Creating a checkout session", "orderID", order.ID)
	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %v", err)
	}

	_, err = tx.Exec(ctx, "UPDATE landlord.orders SET checkout_session_id = $1, updated_at = $2 WHERE id = $3",
		s.ID, time.Now(), order.ID)
	if err != nil {
		return nil, fmt.Errorf("err updating order session, %v", err)
	}

	return &dto.CreateCheckoutResponse{
		OrderID:      order.ID,
		ClientSecret: s.ClientSecret,
	}, nil
}

// Webhook verifies, deduplicates and dispatches a Stripe event. The returned
// error is already classified: validation failures are swallowed here and
// reported in the response so Stripe does not retry them, anything else
// bubbles up for a 500.
func (c *Payment) Webhook(ctx context.Context, payload []byte, stripeHeader string) (*dto.WebhookResponse, error) {
	event, err := webhook.ConstructEvent(payload, stripeHeader, c.cfg.webhookKey)
	if err != nil {
		return nil, errs.InvalidSignatureError{Err: err}
	}

	slog.Info("Handling event", "type", event.Type, "id", event.ID)

	logID, duplicate, err := c.claimEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if duplicate {
		slog.Info("Duplicate delivery, skipping", "id", event.ID)
		return &dto.WebhookResponse{Received: true, Event: string(event.Type), Duplicate: true}, nil
	}

	result, dispatchErr := c.dispatch(ctx, event)

	logStatus := consts.WebhookCompleted
	errMessage := ""
	if dispatchErr != nil {
		logStatus = consts.WebhookFailed
		errMessage = truncateMessage(dispatchErr.Error(), maxErrorLength)
	}
	if err := c.finalizeLog(ctx, logID, logStatus, result, errMessage); err != nil {
		slog.Error("error finalizing webhook log", "id", event.ID, "err", err)
	}

	if dispatchErr != nil {
		if errs.Classify(dispatchErr) == errs.ReasonValidation {
			slog.Warn("Webhook handled with validation failure", "id", event.ID, "err", dispatchErr)
			return &dto.WebhookResponse{
				Received: true,
				Event:    string(event.Type),
				Reason:   string(errs.ReasonValidation),
			}, nil
		}
		return nil, dispatchErr
	}

	return &dto.WebhookResponse{Received: true, Event: string(event.Type)}, nil
}

// claimEvent enforces at-most-once semantic processing under Stripe's
// at-least-once delivery. A prior log row in processing or completed means
// the event was already claimed; the unique index on stripe_event_id closes
// the window between two near-simultaneous deliveries.
func (c *Payment) claimEvent(ctx context.Context, event stripe.Event) (uint64, bool, error) {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return 0, false, err
	}
	defer uow.Finalize(&err)

	logRepo := repo.NewWebhookLogRepo(tx)
	statuses, err := logRepo.GetStatuses(ctx, event.ID)
	if err != nil {
		return 0, false, err
	}
	for _, status := range statuses {
		if status == consts.WebhookProcessing || status == consts.WebhookCompleted {
			return 0, true, nil
		}
	}

	logID, err := logRepo.InsertLog(ctx, db.WebhookLog{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Status:        consts.WebhookReceived,
		Payload:       redactPayload(event),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// a live or completed attempt already holds the claim;
			// failed rows are re-claimed by the upsert instead
			err = nil
			return 0, true, nil
		}
		return 0, false, err
	}

	if err = logRepo.UpdateStatus(ctx, logID, consts.WebhookProcessing); err != nil {
		return 0, false, err
	}

	return logID, false, nil
}

func (c *Payment) finalizeLog(ctx context.Context, logID uint64, status consts.WebhookLogStatus, result consts.WebhookResult, errMessage string) error {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return err
	}
	defer uow.Finalize(&err)

	err = repo.NewWebhookLogRepo(tx).Finalize(ctx, logID, status, result, errMessage)
	return err
}

func (c *Payment) dispatch(ctx context.Context, event stripe.Event) (consts.WebhookResult, error) {
	switch event.Type {

	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var checkoutSession stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &checkoutSession); err != nil {
			return consts.ResultIgnored, fmt.Errorf("error parsing checkout session, %v", err)
		}
		if checkoutSession.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			// async payment method, wait for async_payment_succeeded
			slog.Info("Session completed but unpaid, awaiting async payment", "session", checkoutSession.ID)
			return consts.ResultIgnored, nil
		}
		return c.handlePaidSession(ctx, &checkoutSession)

	case "checkout.session.async_payment_failed":
		var checkoutSession stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &checkoutSession); err != nil {
			return consts.ResultIgnored, fmt.Errorf("error parsing checkout session, %v", err)
		}
		return c.handlePaymentFailed(ctx, &checkoutSession)

	case "checkout.session.expired":
		slog.Info("Checkout session expired", "id", event.ID)
		return consts.ResultIgnored, nil

	default:
		slog.Info("Unhandled event type", "type", event.Type)
		return consts.ResultIgnored, nil
	}
}

// handlePaidSession is the paid-order path: payment status, attribution
// backfill and entitlement union commit together, then fulfillment runs
// outside that transaction so a delegate crash can never undo the payment
// bookkeeping.
func (c *Payment) handlePaidSession(ctx context.Context, checkoutSession *stripe.CheckoutSession) (consts.WebhookResult, error) {
	order, err := c.recordPayment(ctx, checkoutSession)
	if err != nil {
		return resultForError(err), err
	}
	if order.FulfillmentStatus == consts.FulfillmentFulfilled {
		slog.Info("Order already fulfilled", "orderID", order.ID)
		return consts.ResultFulfilled, nil
	}

	if err := c.runFulfillment(ctx, order); err != nil {
		return resultForError(err), err
	}

	return consts.ResultFulfilled, nil
}

func resultForError(err error) consts.WebhookResult {
	if errs.Classify(err) == errs.ReasonValidation {
		return consts.ResultValidationFailed
	}
	return consts.ResultServerError
}

func (c *Payment) recordPayment(ctx context.Context, checkoutSession *stripe.CheckoutSession) (*db.Order, error) {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return nil, err
	}
	defer uow.Finalize(&err)

	orderRepo := repo.NewOrderRepo(tx)
	order, err := orderRepo.GetOrderByCheckoutSession(ctx, checkoutSession.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ValidationError{Err: fmt.Errorf("Order not found for checkout session %s", checkoutSession.ID)}
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving order, %v", err)
	}

	if err = orderRepo.UpdatePaymentStatus(ctx, order.ID, consts.PaymentStatusPaid); err != nil {
		return nil, fmt.Errorf("err updating payment status, %v", err)
	}
	order.PaymentStatus = consts.PaymentStatusPaid

	if err = orderRepo.BackfillAttribution(ctx, order.ID, attributionFromMetadata(checkoutSession.Metadata)); err != nil {
		return nil, err
	}

	// entitlement is granted on payment, before fulfillment is attempted:
	// the customer has paid even if document generation later fails
	if err = repo.NewEntitlementRepo(tx).MergeEntitlement(ctx, order.CaseID, order.Product); err != nil {
		return nil, err
	}

	return order, nil
}

// runFulfillment drives the order status machine. The processing write
// happens unconditionally before the delegate call, so whatever the
// delegate does the order ends in processing, fulfilled or failed; never
// stuck in ready_to_generate.
func (c *Payment) runFulfillment(ctx context.Context, order *db.Order) error {
	if err := c.setFulfillmentStatus(ctx, order.ID, consts.FulfillmentProcessing); err != nil {
		return fmt.Errorf("err marking order processing, %v", err)
	}

	status, fulfillErr := c.fulfiller.Fulfill(ctx, interfaces.FulfillmentRequest{
		OrderID: order.ID,
		CaseID:  order.CaseID,
		Product: order.Product,
		UserID:  order.UserID,
	})
	if fulfillErr != nil {
		if err := c.markFulfillmentFailed(ctx, order, fulfillErr); err != nil {
			slog.Error("error marking order failed", "orderID", order.ID, "err", err)
		}
		return fulfillErr
	}

	slog.Info("Fulfillment finished", "orderID", order.ID, "status", status)
	return c.completeFulfillment(ctx, order)
}

func (c *Payment) setFulfillmentStatus(ctx context.Context, orderID uuid.UUID, status consts.FulfillmentStatus) error {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return err
	}
	defer uow.Finalize(&err)

	err = repo.NewOrderRepo(tx).UpdateFulfillmentStatus(ctx, orderID, status)
	return err
}

// markFulfillmentFailed records the failure on the order. Permanent
// failures additionally queue the problem notification: the customer has
// paid and will not get documents without support stepping in. Transient
// failures stay silent because the provider's retry may still succeed.
func (c *Payment) markFulfillmentFailed(ctx context.Context, order *db.Order, fulfillErr error) error {
	var details []byte
	var compliance errs.ComplianceBlockError
	if errors.As(fulfillErr, &compliance) {
		payload := struct {
			Issues []errs.ComplianceIssue `json:"issues"`
		}{Issues: compliance.Issues}
		details, _ = json.Marshal(payload)
	}

	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return err
	}
	defer uow.Finalize(&err)

	if err = repo.NewOrderRepo(tx).MarkFulfillmentFailed(ctx, order.ID,
		truncateMessage(fulfillErr.Error(), maxErrorLength), details); err != nil {
		return err
	}

	if errs.Classify(fulfillErr) != errs.ReasonValidation {
		return nil
	}

	var firstName, caseRef, productName string
	rowErr := tx.QueryRow(ctx, `SELECT u.first_name, c.case_ref, p.name
			FROM landlord.users u, landlord.cases c, landlord.products p
			WHERE u.id = $1 AND c.id = $2 AND p.product = $3`,
		order.UserID, order.CaseID, order.Product).Scan(&firstName, &caseRef, &productName)
	if rowErr != nil {
		slog.Error("error loading problem mail data", "orderID", order.ID, "err", rowErr)
		return nil
	}

	mailEvent := events.SendMail{
		UserID:  order.UserID.String(),
		Subject: "There was a problem preparing your documents",
		Data: map[string]string{
			"CustomerFirstName": firstName,
			"CaseRef":           caseRef,
			"ProductName":       productName,
			"SupportURL":        c.urls.SupportURL,
		},
	}
	if insertErr := repo.NewEventRepo(tx).InsertEvent(ctx, mailEvent); insertErr != nil {
		slog.Error("error queueing problem mail", "orderID", order.ID, "err", insertErr)
	}

	return nil
}

// completeFulfillment marks the order fulfilled and queues the
// confirmation email and the analytics purchase event. The outbox inserts
// are best-effort: their failure is logged and never propagated.
func (c *Payment) completeFulfillment(ctx context.Context, order *db.Order) error {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return err
	}
	defer uow.Finalize(&err)

	orderRepo := repo.NewOrderRepo(tx)
	if err = orderRepo.UpdateFulfillmentStatus(ctx, order.ID, consts.FulfillmentFulfilled); err != nil {
		return fmt.Errorf("err marking order fulfilled, %v", err)
	}

	eventRepo := repo.NewEventRepo(tx)

	var firstName, caseRef, productName string
	rowErr := tx.QueryRow(ctx, `SELECT u.first_name, c.case_ref, p.name
			FROM landlord.users u, landlord.cases c, landlord.products p
			WHERE u.id = $1 AND c.id = $2 AND p.product = $3`,
		order.UserID, order.CaseID, order.Product).Scan(&firstName, &caseRef, &productName)
	if rowErr != nil {
		slog.Error("error loading confirmation mail data", "orderID", order.ID, "err", rowErr)
	} else {
		mailEvent := events.SendMail{
			UserID:  order.UserID.String(),
			Subject: "Payment received: your documents are being prepared",
			Data: map[string]string{
				"CustomerFirstName": firstName,
				"CaseRef":           caseRef,
				"ProductName":       productName,
				"DashboardURL":      c.urls.DashboardURL,
			},
		}
		if insertErr := eventRepo.InsertEvent(ctx, mailEvent); insertErr != nil {
			slog.Error("error queueing confirmation mail", "orderID", order.ID, "err", insertErr)
		}
	}

	purchaseEvent := events.RecordPurchase{
		OrderID:     order.ID,
		CaseID:      order.CaseID,
		Product:     order.Product,
		AmountPence: order.AmountPence,
		Currency:    order.Currency,
		ClientID:    order.Attribution.ClientID.String,
	}
	if insertErr := eventRepo.InsertEvent(ctx, purchaseEvent); insertErr != nil {
		slog.Error("error queueing purchase event", "orderID", order.ID, "err", insertErr)
	}

	return nil
}

func (c *Payment) handlePaymentFailed(ctx context.Context, checkoutSession *stripe.CheckoutSession) (consts.WebhookResult, error) {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return consts.ResultPaymentFailed, err
	}
	defer uow.Finalize(&err)

	orderRepo := repo.NewOrderRepo(tx)
	order, err := orderRepo.GetOrderByCheckoutSession(ctx, checkoutSession.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ValidationError{Err: fmt.Errorf("Order not found for checkout session %s", checkoutSession.ID)}
			return consts.ResultPaymentFailed, err
		}
		return consts.ResultPaymentFailed, fmt.Errorf("error retrieving order, %v", err)
	}

	if err = orderRepo.UpdatePaymentStatus(ctx, order.ID, consts.PaymentStatusFailed); err != nil {
		return consts.ResultPaymentFailed, err
	}

	slog.Info("Payment failed for order", "orderID", order.ID)
	return consts.ResultPaymentFailed, nil
}

// RetryFulfillment re-runs document generation for an order whose previous
// attempt failed, from the dashboard's retry affordance.
func (c *Payment) RetryFulfillment(ctx context.Context, orderID uuid.UUID) (*dto.RetryFulfillmentResponse, error) {
	order, err := c.loadRetryableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := c.runFulfillment(ctx, order); err != nil {
		return &dto.RetryFulfillmentResponse{
			OrderID:           order.ID,
			FulfillmentStatus: consts.FulfillmentFailed,
		}, err
	}

	return &dto.RetryFulfillmentResponse{
		OrderID:           order.ID,
		FulfillmentStatus: consts.FulfillmentFulfilled,
	}, nil
}

func (c *Payment) loadRetryableOrder(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return nil, err
	}
	defer uow.Finalize(&err)

	orderRepo := repo.NewOrderRepo(tx)
	order, err := orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ValidationError{Err: fmt.Errorf("Order not found: %s", orderID)}
			return nil, err
		}
		return nil, err
	}

	if order.PaymentStatus != consts.PaymentStatusPaid {
		err = errs.ValidationError{Err: fmt.Errorf("order %s is not eligible for retry: not paid", orderID)}
		return nil, err
	}
	if order.FulfillmentStatus != consts.FulfillmentFailed && order.FulfillmentStatus != consts.FulfillmentReadyToGenerate {
		err = errs.ValidationError{Err: fmt.Errorf("order %s is not eligible for retry: status %s", orderID, order.FulfillmentStatus)}
		return nil, err
	}
	docs, err := orderRepo.CountDocuments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if docs > 0 {
		err = errs.ValidationError{Err: fmt.Errorf("order %s is not eligible for retry: documents already generated", orderID)}
		return nil, err
	}

	return order, nil
}

func attributionFromMetadata(metadata map[string]string) db.Attribution {
	var firstTouch sql.NullTime
	if raw := metadata["first_touch_at"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			firstTouch = sql.NullTime{Time: parsed, Valid: true}
		}
	}
	return db.Attribution{
		LandingPath:  nullString(metadata["landing_path"]),
		Referrer:     nullString(metadata["referrer"]),
		UTMSource:    nullString(metadata["utm_source"]),
		UTMMedium:    nullString(metadata["utm_medium"]),
		UTMCampaign:  nullString(metadata["utm_campaign"]),
		UTMTerm:      nullString(metadata["utm_term"]),
		UTMContent:   nullString(metadata["utm_content"]),
		ClientID:     nullString(metadata["client_id"]),
		FirstTouchAt: firstTouch,
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// redactPayload keeps only what is useful for debugging a log row; the
// full event body carries customer details that don't belong in the log.
func redactPayload(event stripe.Event) json.RawMessage {
	var object struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(event.Data.Raw, &object)

	payload, err := json.Marshal(map[string]string{
		"event_id":  event.ID,
		"type":      string(event.Type),
		"object_id": object.ID,
	})
	if err != nil {
		return nil
	}
	return payload
}

func truncateMessage(message string, max int) string {
	if len(message) <= max {
		return message
	}
	return message[:max]
}
