package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db/repo"
	"github.com/Landlord-Docs/landlord-backend/internal/testinfra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func inTx(t *testing.T, ctx context.Context, fn func(tx pgx.Tx)) {
	t.Helper()
	tx, err := testinfra.Pool.Begin(ctx)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func insertOrder(t *testing.T, ctx context.Context, tx pgx.Tx) db.Order {
	t.Helper()
	order := db.Order{
		ID:                uuid.New(),
		CaseID:            uuid.New(),
		UserID:            uuid.New(),
		Product:           consts.ProductNoticeOnly,
		AmountPence:       4900,
		Currency:          "gbp",
		PaymentStatus:     consts.PaymentStatusPending,
		FulfillmentStatus: consts.FulfillmentReadyToGenerate,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	require.NoError(t, repo.NewOrderRepo(tx).InsertOrder(ctx, order))
	return order
}

func Test_WebhookLogRepo_Given_Same_Event_Id_Twice_When_Inserted_Then_Second_Claim_Loses(t *testing.T) {
	ctx := context.Background()
	eventID := "evt_claim_" + uuid.NewString()[:8]
	logRow := db.WebhookLog{
		StripeEventID: eventID,
		EventType:     "checkout.session.completed",
		Status:        consts.WebhookReceived,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	inTx(t, ctx, func(tx pgx.Tx) {
		logRepo := repo.NewWebhookLogRepo(tx)
		id, err := logRepo.InsertLog(ctx, logRow)
		require.NoError(t, err)
		require.NotZero(t, id)
		require.NoError(t, logRepo.UpdateStatus(ctx, id, consts.WebhookProcessing))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		_, err := repo.NewWebhookLogRepo(tx).InsertLog(ctx, logRow)
		require.ErrorIs(t, err, pgx.ErrNoRows, "losing the claim race surfaces as ErrNoRows")
	})
}

func Test_WebhookLogRepo_Given_Failed_Attempt_When_Claimed_Again_Then_Same_Row_Reclaimed(t *testing.T) {
	ctx := context.Background()
	eventID := "evt_reclaim_" + uuid.NewString()[:8]
	logRow := db.WebhookLog{
		StripeEventID: eventID,
		EventType:     "checkout.session.completed",
		Status:        consts.WebhookReceived,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	var firstID uint64
	inTx(t, ctx, func(tx pgx.Tx) {
		logRepo := repo.NewWebhookLogRepo(tx)
		id, err := logRepo.InsertLog(ctx, logRow)
		require.NoError(t, err)
		firstID = id
		require.NoError(t, logRepo.Finalize(ctx, id, consts.WebhookFailed, consts.ResultServerError, "Database connection failed"))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		id, err := repo.NewWebhookLogRepo(tx).InsertLog(ctx, logRow)
		require.NoError(t, err, "a failed attempt must not block the next delivery")
		require.Equal(t, firstID, id)
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		statuses, err := repo.NewWebhookLogRepo(tx).GetStatuses(ctx, eventID)
		require.NoError(t, err)
		require.Equal(t, []consts.WebhookLogStatus{consts.WebhookReceived}, statuses)
	})
}

func Test_WebhookLogRepo_Given_Finalized_Log_When_Statuses_Read_Then_Completed_Visible(t *testing.T) {
	ctx := context.Background()
	eventID := "evt_final_" + uuid.NewString()[:8]

	inTx(t, ctx, func(tx pgx.Tx) {
		logRepo := repo.NewWebhookLogRepo(tx)
		id, err := logRepo.InsertLog(ctx, db.WebhookLog{
			StripeEventID: eventID,
			EventType:     "checkout.session.completed",
			Status:        consts.WebhookReceived,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
		require.NoError(t, err)
		require.NoError(t, logRepo.Finalize(ctx, id, consts.WebhookCompleted, consts.ResultFulfilled, ""))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		statuses, err := repo.NewWebhookLogRepo(tx).GetStatuses(ctx, eventID)
		require.NoError(t, err)
		require.Equal(t, []consts.WebhookLogStatus{consts.WebhookCompleted}, statuses)
	})
}

func Test_EntitlementRepo_Given_Repeated_And_Mixed_Merges_When_Read_Then_Union_Without_Duplicates(t *testing.T) {
	ctx := context.Background()
	caseID := uuid.New()

	inTx(t, ctx, func(tx pgx.Tx) {
		entitlements := repo.NewEntitlementRepo(tx)
		require.NoError(t, entitlements.MergeEntitlement(ctx, caseID, consts.ProductNoticeOnly))
		require.NoError(t, entitlements.MergeEntitlement(ctx, caseID, consts.ProductNoticeOnly))
		require.NoError(t, entitlements.MergeEntitlement(ctx, caseID, consts.ProductMoneyClaim))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		products, err := repo.NewEntitlementRepo(tx).GetEntitlements(ctx, caseID)
		require.NoError(t, err)
		require.ElementsMatch(t, []consts.ProductType{consts.ProductNoticeOnly, consts.ProductMoneyClaim}, products)
	})
}

func Test_EntitlementRepo_Given_Unknown_Case_When_Read_Then_Empty_Without_Error(t *testing.T) {
	ctx := context.Background()

	inTx(t, ctx, func(tx pgx.Tx) {
		products, err := repo.NewEntitlementRepo(tx).GetEntitlements(ctx, uuid.New())
		require.NoError(t, err)
		require.Empty(t, products)
	})
}

func Test_OrderRepo_Given_Existing_Attribution_When_Backfilled_Then_First_Touch_Preserved(t *testing.T) {
	ctx := context.Background()
	var orderID uuid.UUID

	inTx(t, ctx, func(tx pgx.Tx) {
		order := insertOrder(t, ctx, tx)
		orderID = order.ID
		first := db.Attribution{
			LandingPath: sql.NullString{String: "/eviction-notice", Valid: true},
			UTMSource:   sql.NullString{String: "facebook", Valid: true},
		}
		require.NoError(t, repo.NewOrderRepo(tx).BackfillAttribution(ctx, orderID, first))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		second := db.Attribution{
			UTMSource: sql.NullString{String: "google", Valid: true},
			UTMMedium: sql.NullString{String: "cpc", Valid: true},
			ClientID:  sql.NullString{String: "GA1.1.222", Valid: true},
		}
		require.NoError(t, repo.NewOrderRepo(tx).BackfillAttribution(ctx, orderID, second))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		order, err := repo.NewOrderRepo(tx).GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, "facebook", order.Attribution.UTMSource.String, "first touch wins")
		require.Equal(t, "/eviction-notice", order.Attribution.LandingPath.String)
		require.Equal(t, "cpc", order.Attribution.UTMMedium.String, "empty fields accept the later touch")
		require.Equal(t, "GA1.1.222", order.Attribution.ClientID.String)
	})
}

func Test_OrderRepo_Given_Failed_Order_When_Status_Updated_Then_Error_Fields_Cleared(t *testing.T) {
	ctx := context.Background()
	var orderID uuid.UUID

	inTx(t, ctx, func(tx pgx.Tx) {
		order := insertOrder(t, ctx, tx)
		orderID = order.ID
		require.NoError(t, repo.NewOrderRepo(tx).MarkFulfillmentFailed(ctx, orderID,
			"NOTICE_ONLY_VALIDATION_FAILED: no grounds selected", []byte(`{"issues":[]}`)))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		order, err := repo.NewOrderRepo(tx).GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, consts.FulfillmentFailed, order.FulfillmentStatus)
		require.True(t, order.FulfillmentError.Valid)
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		require.NoError(t, repo.NewOrderRepo(tx).UpdateFulfillmentStatus(ctx, orderID, consts.FulfillmentFulfilled))
	})

	inTx(t, ctx, func(tx pgx.Tx) {
		order, err := repo.NewOrderRepo(tx).GetOrderByID(ctx, orderID)
		require.NoError(t, err)
		require.Equal(t, consts.FulfillmentFulfilled, order.FulfillmentStatus)
		require.False(t, order.FulfillmentError.Valid, "success clears the stored error")
	})
}
