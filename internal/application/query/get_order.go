package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/application/dto"
	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db/repo"
	dbs "github.com/Landlord-Docs/landlord-backend/pkg/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type GetOrder struct {
	uowFactory *dbs.UOWFactory
}

func NewGetOrder(uowFactory *dbs.UOWFactory) *GetOrder {
	return &GetOrder{uowFactory: uowFactory}
}

// Query returns the dashboard view of an order. CanRetry mirrors the
// dashboard's retry affordance: a failed or never-started fulfillment
// with no final documents yet.
func (q *GetOrder) Query(ctx context.Context, orderID uuid.UUID) (*dto.OrderResponse, error) {
	uow := q.uowFactory.GetUoW()
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

	docs, err := orderRepo.CountDocuments(ctx, orderID)
	if err != nil {
		return nil, err
	}

	canRetry := order.PaymentStatus == consts.PaymentStatusPaid &&
		(order.FulfillmentStatus == consts.FulfillmentFailed || order.FulfillmentStatus == consts.FulfillmentReadyToGenerate) &&
		docs == 0

	return &dto.OrderResponse{
		ID:                order.ID,
		CaseID:            order.CaseID,
		Product:           order.Product,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		FulfillmentError:  order.FulfillmentError.String,
		ErrorDetails:      order.ErrorDetails,
		CanRetry:          canRetry,
		CreatedAt:         order.CreatedAt,
	}, nil
}
