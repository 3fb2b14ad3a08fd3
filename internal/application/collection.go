package application

import (
	"github.com/Landlord-Docs/landlord-backend/internal/application/commands/payment"
	"github.com/Landlord-Docs/landlord-backend/internal/application/processors"
	"github.com/Landlord-Docs/landlord-backend/internal/application/query"
)

type Handlers struct {
	Payment  *payment.Payment
	GetOrder *query.GetOrder
}

type Processors struct {
	SendMail       *processors.SendMail
	RecordPurchase *processors.RecordPurchase
}
