package events

import (
	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/google/uuid"
)

type SendMail struct {
	UserID  string
	Subject string
	Data    interface{}
}

func (e SendMail) GetType() string {
	return "SendMail"
}

type RecordPurchase struct {
	OrderID     uuid.UUID
	CaseID      uuid.UUID
	Product     consts.ProductType
	AmountPence int64
	Currency    string
	ClientID    string
}

func (e RecordPurchase) GetType() string {
	return "RecordPurchase"
}
