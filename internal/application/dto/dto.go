package dto

import (
	"encoding/json"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type CreateCheckoutRequest struct {
	CaseID      uuid.UUID          `json:"caseId"`
	Product     consts.ProductType `json:"product"`
	Attribution map[string]string  `json:"attribution,omitempty"`
}

type CreateCheckoutResponse struct {
	OrderID      uuid.UUID `json:"orderId"`
	ClientSecret string    `json:"clientSecret"`
}

type WebhookResponse struct {
	Received  bool   `json:"received"`
	Event     string `json:"event,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type OrderResponse struct {
	ID                uuid.UUID                `json:"id"`
	CaseID            uuid.UUID                `json:"caseId"`
	Product           consts.ProductType       `json:"product"`
	PaymentStatus     consts.PaymentStatus     `json:"paymentStatus"`
	FulfillmentStatus consts.FulfillmentStatus `json:"fulfillmentStatus"`
	FulfillmentError  string                   `json:"fulfillmentError,omitempty"`
	ErrorDetails      json.RawMessage          `json:"errorDetails,omitempty"`
	CanRetry          bool                     `json:"canRetry"`
	CreatedAt         time.Time                `json:"createdAt"`
}

type RetryFulfillmentResponse struct {
	OrderID           uuid.UUID                `json:"orderId"`
	FulfillmentStatus consts.FulfillmentStatus `json:"fulfillmentStatus"`
}
