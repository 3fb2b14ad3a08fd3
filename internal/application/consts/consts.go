package consts

type PaymentStatus string

const PaymentStatusPending PaymentStatus = "pending"
const PaymentStatusPaid PaymentStatus = "paid"
const PaymentStatusFailed PaymentStatus = "failed"

type FulfillmentStatus string

const (
	FulfillmentReadyToGenerate FulfillmentStatus = "ready_to_generate"
	FulfillmentProcessing      FulfillmentStatus = "processing"
	FulfillmentFulfilled       FulfillmentStatus = "fulfilled"
	FulfillmentFailed          FulfillmentStatus = "failed"
)

type WebhookLogStatus string

const (
	WebhookReceived   WebhookLogStatus = "received"
	WebhookProcessing WebhookLogStatus = "processing"
	WebhookCompleted  WebhookLogStatus = "completed"
	WebhookFailed     WebhookLogStatus = "failed"
)

// WebhookResult tags what a completed log row amounted to.
type WebhookResult string

const (
	ResultFulfilled        WebhookResult = "fulfilled"
	ResultValidationFailed WebhookResult = "validation_failed"
	ResultServerError      WebhookResult = "server_error"
	ResultPaymentFailed    WebhookResult = "payment_failed"
	ResultIgnored          WebhookResult = "ignored"
)

type ProductType string

const (
	ProductNoticeOnly       ProductType = "notice_only"
	ProductCompletePack     ProductType = "complete_pack"
	ProductMoneyClaim       ProductType = "money_claim"
	ProductTenancyAgreement ProductType = "tenancy_agreement"
)

func (p ProductType) Valid() bool {
	switch p {
	case ProductNoticeOnly, ProductCompletePack, ProductMoneyClaim, ProductTenancyAgreement:
		return true
	}
	return false
}

type OutboxStatus int

const (
	NotProcessed OutboxStatus = iota
	Processed
	Processing
	InError
)
