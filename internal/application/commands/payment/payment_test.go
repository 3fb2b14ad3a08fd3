package payment_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	sut "github.com/Landlord-Docs/landlord-backend/internal/application/commands/payment"
	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
	"github.com/Landlord-Docs/landlord-backend/internal/application/interfaces"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/config"
	"github.com/Landlord-Docs/landlord-backend/internal/testinfra"
	"github.com/Landlord-Docs/landlord-backend/pkg/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const webhookSecret = "whsec_test_secret"

func TestMain(m *testing.M) {
	os.Setenv("STRIPE_WEBHOOK", webhookSecret)

	ctx := context.Background()
	_, err := testinfra.Pool.Exec(ctx, `INSERT INTO landlord.products(product, name, stripe_price_id, amount_pence, currency)
		VALUES
			('notice_only', 'Eviction notice', 'price_notice', 4900, 'gbp'),
			('complete_pack', 'Complete eviction pack', 'price_pack', 14900, 'gbp'),
			('money_claim', 'Money claim pack', 'price_claim', 9900, 'gbp'),
			('tenancy_agreement', 'Tenancy agreement', 'price_ast', 2900, 'gbp')
		ON CONFLICT (product) DO NOTHING`)
	if err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

// stubFulfiller stands in for the document generator so tests can drive
// every classification branch.
type stubFulfiller struct {
	err   error
	calls int
}

func (s *stubFulfiller) Fulfill(ctx context.Context, req interfaces.FulfillmentRequest) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return string(consts.FulfillmentFulfilled), nil
}

func newPayment(fulfiller interfaces.Fulfiller) *sut.Payment {
	urls := &config.FulfillConfig{
		DashboardURL: "https://app.test/dashboard",
		SupportURL:   "https://app.test/support",
	}
	return sut.NewPayment(db.NewUoWFactory(testinfra.Pool), fulfiller, sut.NewPaymentConfig(), urls)
}

func signedEvent(t *testing.T, eventID, eventType, sessionID string, metadata map[string]string) ([]byte, string) {
	t.Helper()

	object := map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   4900,
		"currency":       "gbp",
		"metadata":       metadata,
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{"object": object},
	})
	require.NoError(t, err)

	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, webhookSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature))

	return payload, header
}

func createUser(t *testing.T, ctx context.Context) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	_, err := testinfra.Pool.Exec(ctx, "INSERT INTO landlord.users(id, first_name, last_name, email) VALUES ($1,$2,$3,$4)",
		userID, "Sarah", "Wright", userID.String()+"@example.com")
	require.NoError(t, err)
	return userID
}

func createCase(t *testing.T, ctx context.Context, userID uuid.UUID) uuid.UUID {
	t.Helper()
	caseID := uuid.New()
	_, err := testinfra.Pool.Exec(ctx, "INSERT INTO landlord.cases(id, user_id, case_ref, fields) VALUES ($1,$2,$3,$4)",
		caseID, userID, "CASE-"+caseID.String()[:8], `{"landlord_name":"Sarah Wright"}`)
	require.NoError(t, err)
	return caseID
}

func createOrder(t *testing.T, ctx context.Context, userID, caseID uuid.UUID, sessionID string) uuid.UUID {
	t.Helper()
	orderID := uuid.New()
	_, err := testinfra.Pool.Exec(ctx, `INSERT INTO landlord.orders(id, case_id, user_id, product, checkout_session_id,
			amount_pence, currency, payment_status, fulfillment_status, created_at, updated_at)
			VALUES ($1,$2,$3,'notice_only',$4,4900,'gbp','pending','ready_to_generate',$5,$5)`,
		orderID, caseID, userID, sessionID, time.Now())
	require.NoError(t, err)
	return orderID
}

func getOrderState(t *testing.T, ctx context.Context, orderID uuid.UUID) (consts.PaymentStatus, consts.FulfillmentStatus, *string) {
	t.Helper()
	var paymentStatus consts.PaymentStatus
	var fulfillmentStatus consts.FulfillmentStatus
	var fulfillmentError *string
	err := testinfra.Pool.QueryRow(ctx,
		"SELECT payment_status, fulfillment_status, fulfillment_error FROM landlord.orders WHERE id = $1", orderID).
		Scan(&paymentStatus, &fulfillmentStatus, &fulfillmentError)
	require.NoError(t, err)
	return paymentStatus, fulfillmentStatus, fulfillmentError
}

func Test_Webhook_Given_Invalid_Signature_When_Called_Then_InvalidSignatureError(t *testing.T) {
	SUT := newPayment(&stubFulfiller{})

	payload, _ := signedEvent(t, "evt_bad_sig", "checkout.session.completed", "cs_bad_sig", nil)
	_, err := SUT.Webhook(context.Background(), payload, "t=1,v1=deadbeef")

	var sigErr errs.InvalidSignatureError
	require.ErrorAs(t, err, &sigErr)
}

func Test_Webhook_Given_Duplicate_Delivery_When_Prior_Attempt_Completed_Then_Return_Duplicate_And_No_Mutation(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_dup_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)
	eventID := "evt_dup_" + uuid.NewString()[:8]

	_, err := testinfra.Pool.Exec(ctx, `INSERT INTO landlord.webhook_logs(stripe_event_id, event_type, status, created_at, updated_at)
			VALUES ($1, 'checkout.session.completed', 'completed', $2, $2)`, eventID, time.Now())
	require.NoError(t, err)

	fulfiller := &stubFulfiller{}
	SUT := newPayment(fulfiller)
	payload, header := signedEvent(t, eventID, "checkout.session.completed", sessionID, nil)

	resp, err := SUT.Webhook(ctx, payload, header)
	require.NoError(t, err)
	require.True(t, resp.Duplicate)
	require.Zero(t, fulfiller.calls)

	paymentStatus, fulfillmentStatus, _ := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.PaymentStatusPending, paymentStatus, "duplicate must not mutate the order")
	require.Equal(t, consts.FulfillmentReadyToGenerate, fulfillmentStatus)
}

func Test_Webhook_Given_No_Order_For_Session_When_Completed_Then_Classified_Validation_And_Swallowed(t *testing.T) {
	ctx := context.Background()
	SUT := newPayment(&stubFulfiller{})
	payload, header := signedEvent(t, "evt_no_order_"+uuid.NewString()[:8], "checkout.session.completed", "cs_missing_"+uuid.NewString()[:8], nil)

	resp, err := SUT.Webhook(ctx, payload, header)

	require.NoError(t, err, "validation failures must not produce a 500")
	require.True(t, resp.Received)
	require.Equal(t, string(errs.ReasonValidation), resp.Reason)
}

func Test_Webhook_Given_Delegate_Validation_Error_When_Completed_Then_Order_Failed_And_Swallowed(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_val_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	fulfiller := &stubFulfiller{err: fmt.Errorf("NOTICE_ONLY_VALIDATION_FAILED: Ground 8 missing arrears_total")}
	SUT := newPayment(fulfiller)
	payload, header := signedEvent(t, "evt_val_"+uuid.NewString()[:8], "checkout.session.completed", sessionID, nil)

	resp, err := SUT.Webhook(ctx, payload, header)

	require.NoError(t, err)
	require.Equal(t, string(errs.ReasonValidation), resp.Reason)

	paymentStatus, fulfillmentStatus, fulfillmentError := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.PaymentStatusPaid, paymentStatus, "payment succeeded even though fulfillment failed")
	require.Equal(t, consts.FulfillmentFailed, fulfillmentStatus)
	require.NotNil(t, fulfillmentError)
	require.Contains(t, *fulfillmentError, "NOTICE_ONLY_VALIDATION_FAILED")

	var subject string
	err = testinfra.Pool.QueryRow(ctx, `SELECT payload->>'Subject' FROM landlord.outbox
			WHERE event = 'SendMail' AND payload->>'UserID' = $1`, userID.String()).Scan(&subject)
	require.NoError(t, err)
	require.Equal(t, "There was a problem preparing your documents", subject, "a paid customer with no documents is told")
}

func Test_Webhook_Given_Delegate_Server_Error_When_Completed_Then_Order_Failed_And_Error_Propagates(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_srv_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	fulfiller := &stubFulfiller{err: fmt.Errorf("Database connection failed")}
	SUT := newPayment(fulfiller)
	payload, header := signedEvent(t, "evt_srv_"+uuid.NewString()[:8], "checkout.session.completed", sessionID, nil)

	_, err := SUT.Webhook(ctx, payload, header)

	require.Error(t, err, "server failures must propagate so Stripe retries")
	require.Equal(t, errs.ReasonServer, errs.Classify(err))

	_, fulfillmentStatus, _ := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.FulfillmentFailed, fulfillmentStatus, "never left stuck in ready_to_generate or processing")

	var mails int
	err = testinfra.Pool.QueryRow(ctx, `SELECT count(*) FROM landlord.outbox
			WHERE event = 'SendMail' AND payload->>'UserID' = $1`, userID.String()).Scan(&mails)
	require.NoError(t, err)
	require.Zero(t, mails, "no problem mail while the provider may still retry")
}

func Test_Webhook_Given_Redelivery_After_Server_Failure_When_Called_Then_Event_Reprocessed(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_redeliver_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)
	eventID := "evt_redeliver_" + uuid.NewString()[:8]

	broken := &stubFulfiller{err: fmt.Errorf("Database connection failed")}
	payload, header := signedEvent(t, eventID, "checkout.session.completed", sessionID, nil)
	_, err := newPayment(broken).Webhook(ctx, payload, header)
	require.Error(t, err)

	var logStatus consts.WebhookLogStatus
	var logResult string
	err = testinfra.Pool.QueryRow(ctx, "SELECT status, result FROM landlord.webhook_logs WHERE stripe_event_id = $1", eventID).
		Scan(&logStatus, &logResult)
	require.NoError(t, err)
	require.Equal(t, consts.WebhookFailed, logStatus)
	require.Equal(t, string(consts.ResultServerError), logResult, "log result reflects the classification")

	recovered := &stubFulfiller{}
	payload, header = signedEvent(t, eventID, "checkout.session.completed", sessionID, nil)
	resp, err := newPayment(recovered).Webhook(ctx, payload, header)

	require.NoError(t, err)
	require.False(t, resp.Duplicate, "a failed attempt must not block the provider's retry")
	require.Equal(t, 1, recovered.calls)

	paymentStatus, fulfillmentStatus, _ := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.PaymentStatusPaid, paymentStatus)
	require.Equal(t, consts.FulfillmentFulfilled, fulfillmentStatus)
}

func Test_Webhook_Given_Successful_Fulfillment_When_Completed_Then_Order_Fulfilled_With_Entitlement_And_Outbox(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_ok_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	fulfiller := &stubFulfiller{}
	SUT := newPayment(fulfiller)
	payload, header := signedEvent(t, "evt_ok_"+uuid.NewString()[:8], "checkout.session.completed", sessionID, map[string]string{
		"utm_source":   "google",
		"landing_path": "/eviction-notice",
		"client_id":    "GA1.1.111",
	})

	resp, err := SUT.Webhook(ctx, payload, header)
	require.NoError(t, err)
	require.True(t, resp.Received)
	require.Equal(t, 1, fulfiller.calls)

	paymentStatus, fulfillmentStatus, _ := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.PaymentStatusPaid, paymentStatus)
	require.Equal(t, consts.FulfillmentFulfilled, fulfillmentStatus)

	var products []string
	err = testinfra.Pool.QueryRow(ctx, "SELECT products FROM landlord.case_entitlements WHERE case_id = $1", caseID).Scan(&products)
	require.NoError(t, err)
	require.Contains(t, products, "notice_only")

	var utmSource string
	err = testinfra.Pool.QueryRow(ctx, "SELECT utm_source FROM landlord.orders WHERE id = $1", orderID).Scan(&utmSource)
	require.NoError(t, err)
	require.Equal(t, "google", utmSource)

	var outboxEvents int
	err = testinfra.Pool.QueryRow(ctx, `SELECT count(*) FROM landlord.outbox WHERE payload->>'OrderID' = $1 OR payload->>'UserID' = $2`,
		orderID.String(), userID.String()).Scan(&outboxEvents)
	require.NoError(t, err)
	require.Equal(t, 2, outboxEvents, "confirmation mail and purchase event queued")
}

func Test_Webhook_Given_Replay_With_Different_Attribution_When_Completed_Then_First_Touch_Wins(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_attr_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	_, err := testinfra.Pool.Exec(ctx, "UPDATE landlord.orders SET utm_source = 'facebook' WHERE id = $1", orderID)
	require.NoError(t, err)

	SUT := newPayment(&stubFulfiller{})
	payload, header := signedEvent(t, "evt_attr_"+uuid.NewString()[:8], "checkout.session.completed", sessionID, map[string]string{
		"utm_source": "google",
		"utm_medium": "cpc",
	})

	_, err = SUT.Webhook(ctx, payload, header)
	require.NoError(t, err)

	var utmSource, utmMedium string
	err = testinfra.Pool.QueryRow(ctx, "SELECT utm_source, utm_medium FROM landlord.orders WHERE id = $1", orderID).
		Scan(&utmSource, &utmMedium)
	require.NoError(t, err)
	require.Equal(t, "facebook", utmSource, "existing first touch must never be overwritten")
	require.Equal(t, "cpc", utmMedium, "empty fields are backfilled")
}

func Test_Webhook_Given_Overlong_Delegate_Error_When_Completed_Then_Stored_Error_Truncated_To_500(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_long_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	longMessage := "NOTICE_ONLY_VALIDATION_FAILED: " + strings.Repeat("x", 600)
	SUT := newPayment(&stubFulfiller{err: fmt.Errorf("%s", longMessage)})
	payload, header := signedEvent(t, "evt_long_"+uuid.NewString()[:8], "checkout.session.completed", sessionID, nil)

	_, err := SUT.Webhook(ctx, payload, header)
	require.NoError(t, err)

	_, _, fulfillmentError := getOrderState(t, ctx, orderID)
	require.NotNil(t, fulfillmentError)
	require.Len(t, *fulfillmentError, 500)
}

func Test_Webhook_Given_Compliance_Block_When_Completed_Then_Structured_Details_Stored(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_comp_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	blockErr := errs.ComplianceBlockError{Issues: []errs.ComplianceIssue{
		{Code: "S21_MIN_NOTICE_PERIOD", Field: "notice_expires_on", Message: "notice period too short"},
	}}
	SUT := newPayment(&stubFulfiller{err: blockErr})
	payload, header := signedEvent(t, "evt_comp_"+uuid.NewString()[:8], "checkout.session.completed", sessionID, nil)

	resp, err := SUT.Webhook(ctx, payload, header)
	require.NoError(t, err)
	require.Equal(t, string(errs.ReasonValidation), resp.Reason)

	var details []byte
	err = testinfra.Pool.QueryRow(ctx, "SELECT fulfillment_error_details FROM landlord.orders WHERE id = $1", orderID).Scan(&details)
	require.NoError(t, err)

	var parsed struct {
		Issues []errs.ComplianceIssue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(details, &parsed))
	require.Len(t, parsed.Issues, 1)
	require.Equal(t, "S21_MIN_NOTICE_PERIOD", parsed.Issues[0].Code)
}

func Test_Webhook_Given_Async_Payment_Failed_When_Called_Then_Payment_Status_Failed(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_apf_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	fulfiller := &stubFulfiller{}
	SUT := newPayment(fulfiller)
	payload, header := signedEvent(t, "evt_apf_"+uuid.NewString()[:8], "checkout.session.async_payment_failed", sessionID, nil)

	resp, err := SUT.Webhook(ctx, payload, header)
	require.NoError(t, err)
	require.True(t, resp.Received)
	require.Zero(t, fulfiller.calls)

	paymentStatus, fulfillmentStatus, _ := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.PaymentStatusFailed, paymentStatus)
	require.Equal(t, consts.FulfillmentReadyToGenerate, fulfillmentStatus)
}

func Test_Webhook_Given_Unhandled_Event_Type_When_Called_Then_Acknowledged(t *testing.T) {
	SUT := newPayment(&stubFulfiller{})
	payload, header := signedEvent(t, "evt_unk_"+uuid.NewString()[:8], "invoice.created", "in_123", nil)

	resp, err := SUT.Webhook(context.Background(), payload, header)
	require.NoError(t, err)
	require.True(t, resp.Received)
}

func Test_RetryFulfillment_Given_Failed_Order_When_Called_Then_Runs_Delegate_Again(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	sessionID := "cs_retry_" + uuid.NewString()[:8]
	orderID := createOrder(t, ctx, userID, caseID, sessionID)

	_, err := testinfra.Pool.Exec(ctx,
		"UPDATE landlord.orders SET payment_status = 'paid', fulfillment_status = 'failed', fulfillment_error = 'boom' WHERE id = $1", orderID)
	require.NoError(t, err)

	fulfiller := &stubFulfiller{}
	SUT := newPayment(fulfiller)

	resp, err := SUT.RetryFulfillment(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, consts.FulfillmentFulfilled, resp.FulfillmentStatus)
	require.Equal(t, 1, fulfiller.calls)

	_, fulfillmentStatus, fulfillmentError := getOrderState(t, ctx, orderID)
	require.Equal(t, consts.FulfillmentFulfilled, fulfillmentStatus)
	require.Nil(t, fulfillmentError, "terminal success clears the stored error")
}

func Test_RetryFulfillment_Given_Unpaid_Order_When_Called_Then_Rejected_As_Validation(t *testing.T) {
	ctx := context.Background()
	userID := createUser(t, ctx)
	caseID := createCase(t, ctx, userID)
	orderID := createOrder(t, ctx, userID, caseID, "cs_unpaid_"+uuid.NewString()[:8])

	fulfiller := &stubFulfiller{}
	SUT := newPayment(fulfiller)

	_, err := SUT.RetryFulfillment(ctx, orderID)
	require.Error(t, err)
	require.Equal(t, errs.ReasonValidation, errs.Classify(err))
	require.Zero(t, fulfiller.calls)
}
