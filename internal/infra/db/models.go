package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/google/uuid"
)

// Attribution is the first-touch marketing snapshot carried on an order.
// Every field is nullable and written at most once.
type Attribution struct {
	LandingPath  sql.NullString `db:"landing_path"`
	Referrer     sql.NullString `db:"referrer"`
	UTMSource    sql.NullString `db:"utm_source"`
	UTMMedium    sql.NullString `db:"utm_medium"`
	UTMCampaign  sql.NullString `db:"utm_campaign"`
	UTMTerm      sql.NullString `db:"utm_term"`
	UTMContent   sql.NullString `db:"utm_content"`
	ClientID     sql.NullString `db:"client_id"`
	FirstTouchAt sql.NullTime   `db:"first_touch_at"`
}

type Order struct {
	ID                uuid.UUID                `db:"id"`
	CaseID            uuid.UUID                `db:"case_id"`
	UserID            uuid.UUID                `db:"user_id"`
	Product           consts.ProductType       `db:"product"`
	CheckoutSessionID sql.NullString           `db:"checkout_session_id"`
	AmountPence       int64                    `db:"amount_pence"`
	Currency          string                   `db:"currency"`
	PaymentStatus     consts.PaymentStatus     `db:"payment_status"`
	FulfillmentStatus consts.FulfillmentStatus `db:"fulfillment_status"`
	FulfillmentError  sql.NullString           `db:"fulfillment_error"`
	ErrorDetails      json.RawMessage          `db:"fulfillment_error_details"`
	Attribution       Attribution
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type WebhookLog struct {
	ID            uint64                  `db:"id"`
	StripeEventID string                  `db:"stripe_event_id"`
	EventType     string                  `db:"event_type"`
	Status        consts.WebhookLogStatus `db:"status"`
	Payload       json.RawMessage         `db:"payload"`
	Result        sql.NullString          `db:"result"`
	ErrorMessage  sql.NullString          `db:"error_message"`
	CreatedAt     time.Time               `db:"created_at"`
	UpdatedAt     time.Time               `db:"updated_at"`
}

type Case struct {
	ID        uuid.UUID       `db:"id"`
	UserID    uuid.UUID       `db:"user_id"`
	CaseRef   string          `db:"case_ref"`
	Fields    json.RawMessage `db:"fields"`
	CreatedAt time.Time       `db:"created_at"`
}

type Document struct {
	ID        uuid.UUID `db:"id"`
	OrderID   uuid.UUID `db:"order_id"`
	CaseID    uuid.UUID `db:"case_id"`
	DocType   string    `db:"doc_type"`
	S3Key     string    `db:"s3_key"`
	URL       string    `db:"url"`
	CreatedAt time.Time `db:"created_at"`
}

type User struct {
	ID        uuid.UUID `db:"id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at,omitempty"`
}

type Outbox struct {
	ID        uint64          `db:"id"`
	Event     string          `db:"event"`
	Status    int             `db:"status"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
}

type Mail struct {
	MailType   string    `db:"type"`
	Recipients string    `db:"recipients"`
	Subject    string    `db:"subject"`
	Content    string    `db:"content"`
	SentAt     time.Time `db:"sent_at"`
}
