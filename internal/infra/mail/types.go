package mail

type MailType string

const (
	PurchaseConfirmed  MailType = "PurchaseConfirmed"
	FulfillmentProblem MailType = "FulfillmentProblem"
)

type MailData interface {
	GetMailType() MailType
	GetSubject() string
}

type PurchaseConfirmedData struct {
	CustomerFirstName string
	CaseRef           string
	ProductName       string
	DashboardURL      string
	Year              string
}

func (s PurchaseConfirmedData) GetMailType() MailType {
	return PurchaseConfirmed
}

func (s PurchaseConfirmedData) GetSubject() string {
	return "Payment received: your documents are being prepared"
}

type FulfillmentProblemData struct {
	CustomerFirstName string
	CaseRef           string
	ProductName       string
	SupportURL        string
	Year              string
}

func (s FulfillmentProblemData) GetMailType() MailType {
	return FulfillmentProblem
}

func (s FulfillmentProblemData) GetSubject() string {
	return "There was a problem preparing your documents"
}
