package fulfill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
	"github.com/Landlord-Docs/landlord-backend/internal/application/interfaces"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/config"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	dbs "github.com/Landlord-Docs/landlord-backend/pkg/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Uploader is the slice of the storage client the generator needs.
type Uploader interface {
	UploadFile(ctx context.Context, key string, contentType *string, body io.Reader) (string, error)
}

// Generator produces the purchased documents: it validates the case facts
// against the statutory rules for the product, renders the documents and
// uploads them to S3.
type Generator struct {
	uowFactory *dbs.UOWFactory
	storage    Uploader
	cfg        *config.FulfillConfig
}

var _ interfaces.Fulfiller = (*Generator)(nil)

func NewGenerator(uowFactory *dbs.UOWFactory, storage Uploader, cfg *config.FulfillConfig) *Generator {
	return &Generator{
		uowFactory: uowFactory,
		storage:    storage,
		cfg:        cfg,
	}
}

type caseFields struct {
	LandlordName    string   `json:"landlord_name"`
	TenantName      string   `json:"tenant_name"`
	PropertyAddress string   `json:"property_address"`
	TenancyStart    string   `json:"tenancy_start"`
	RentPCM         float64  `json:"rent_pcm"`
	NoticeRoute     string   `json:"notice_route"`
	NoticeServedOn  string   `json:"notice_served_on"`
	NoticeExpiresOn string   `json:"notice_expires_on"`
	Grounds         []string `json:"grounds"`
	ArrearsTotal    *float64 `json:"arrears_total"`
	ClaimAmount     *float64 `json:"claim_amount"`
}

func (c *Generator) Fulfill(ctx context.Context, req interfaces.FulfillmentRequest) (string, error) {
	caseRecord, err := c.loadCase(ctx, req)
	if err != nil {
		return "", err
	}

	var fields caseFields
	if err := json.Unmarshal(caseRecord.Fields, &fields); err != nil {
		return "", fmt.Errorf("error parsing case fields, %v", err)
	}

	if err := validateFields(req.Product, fields); err != nil {
		return "", err
	}
	if err := checkNoticeTiming(req.Product, fields); err != nil {
		return "", err
	}

	documents, err := c.renderDocuments(ctx, req, caseRecord, fields)
	if err != nil {
		return "", err
	}

	if err := c.saveDocuments(ctx, documents); err != nil {
		return "", err
	}

	slog.Info("Generated documents", "orderID", req.OrderID, "count", len(documents))
	return string(consts.FulfillmentFulfilled), nil
}

func (c *Generator) loadCase(ctx context.Context, req interfaces.FulfillmentRequest) (*db.Case, error) {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return nil, err
	}
	defer uow.Finalize(&err)

	var caseRecord db.Case
	err = tx.QueryRow(ctx, "SELECT id, user_id, case_ref, fields, created_at FROM landlord.cases WHERE id = $1",
		req.CaseID).Scan(&caseRecord.ID, &caseRecord.UserID, &caseRecord.CaseRef, &caseRecord.Fields, &caseRecord.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ValidationError{Err: fmt.Errorf("Case not found for order %s", req.OrderID)}
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving case, %v", err)
	}

	return &caseRecord, nil
}

// validateFields enforces the per-product required fields. Failures are
// permanent: retrying with the same case facts reproduces them.
func validateFields(product consts.ProductType, fields caseFields) error {
	for name, value := range map[string]string{
		"landlord_name":    fields.LandlordName,
		"tenant_name":      fields.TenantName,
		"property_address": fields.PropertyAddress,
	} {
		if strings.TrimSpace(value) == "" {
			return errs.ValidationError{Err: fmt.Errorf("Missing required field: %s", name)}
		}
	}

	switch product {
	case consts.ProductNoticeOnly, consts.ProductCompletePack:
		if fields.NoticeRoute != "section_8" && fields.NoticeRoute != "section_21" {
			return errs.ValidationError{Err: fmt.Errorf("NOTICE_ONLY_VALIDATION_FAILED: unknown notice route %q", fields.NoticeRoute)}
		}
		if fields.NoticeRoute == "section_8" {
			if len(fields.Grounds) == 0 {
				return errs.ValidationError{Err: fmt.Errorf("NOTICE_ONLY_VALIDATION_FAILED: no grounds selected")}
			}
			for _, ground := range fields.Grounds {
				if ground == "ground_8" && fields.ArrearsTotal == nil {
					return errs.ValidationError{Err: fmt.Errorf("NOTICE_ONLY_VALIDATION_FAILED: Ground 8 missing arrears_total")}
				}
			}
		}
		if fields.TenancyStart == "" {
			return errs.ValidationError{Err: fmt.Errorf("Missing required field: tenancy_start")}
		}

	case consts.ProductMoneyClaim:
		if fields.ClaimAmount == nil {
			return errs.ValidationError{Err: fmt.Errorf("MONEY_CLAIM_VALIDATION_FAILED: missing claim_amount")}
		}
		if fields.ArrearsTotal == nil {
			return errs.ValidationError{Err: fmt.Errorf("MONEY_CLAIM_VALIDATION_FAILED: missing arrears_total")}
		}

	case consts.ProductTenancyAgreement:
		if fields.TenancyStart == "" {
			return errs.ValidationError{Err: fmt.Errorf("Missing required field: tenancy_start")}
		}
		if fields.RentPCM <= 0 {
			return errs.ValidationError{Err: fmt.Errorf("Missing required field: rent_pcm")}
		}

	default:
		return errs.ValidationError{Err: fmt.Errorf("Unsupported product type: %s", product)}
	}

	return nil
}

// checkNoticeTiming enforces the statutory timing rules for a Section 21
// notice: at least two months' notice, and no expiry within the first six
// months of the tenancy. Violations carry a structured issue list for the
// dashboard.
func checkNoticeTiming(product consts.ProductType, fields caseFields) error {
	if product != consts.ProductNoticeOnly && product != consts.ProductCompletePack {
		return nil
	}
	if fields.NoticeRoute != "section_21" {
		return nil
	}
	if fields.NoticeServedOn == "" || fields.NoticeExpiresOn == "" {
		return nil
	}

	servedOn, err := time.Parse("2006-01-02", fields.NoticeServedOn)
	if err != nil {
		return errs.ValidationError{Err: fmt.Errorf("Missing required field: notice_served_on must be a date, got %q", fields.NoticeServedOn)}
	}
	expiresOn, err := time.Parse("2006-01-02", fields.NoticeExpiresOn)
	if err != nil {
		return errs.ValidationError{Err: fmt.Errorf("Missing required field: notice_expires_on must be a date, got %q", fields.NoticeExpiresOn)}
	}

	var issues []errs.ComplianceIssue

	if minExpiry := servedOn.AddDate(0, 2, 0); expiresOn.Before(minExpiry) {
		issues = append(issues, errs.ComplianceIssue{
			Code:    "S21_MIN_NOTICE_PERIOD",
			Field:   "notice_expires_on",
			Message: fmt.Sprintf("a Section 21 notice must give at least 2 months' notice, earliest expiry %s", minExpiry.Format("2006-01-02")),
		})
	}

	if fields.TenancyStart != "" {
		tenancyStart, err := time.Parse("2006-01-02", fields.TenancyStart)
		if err == nil {
			if sixMonths := tenancyStart.AddDate(0, 6, 0); expiresOn.Before(sixMonths) {
				issues = append(issues, errs.ComplianceIssue{
					Code:    "S21_SIX_MONTH_RULE",
					Field:   "notice_expires_on",
					Message: fmt.Sprintf("a Section 21 notice cannot expire within the first 6 months of the tenancy, earliest expiry %s", sixMonths.Format("2006-01-02")),
				})
			}
		}
	}

	if len(issues) > 0 {
		return errs.ComplianceBlockError{Issues: issues}
	}

	return nil
}


func (c *Generator) renderDocuments(ctx context.Context, req interfaces.FulfillmentRequest, caseRecord *db.Case, fields caseFields) ([]db.Document, error) {
	var docTypes []string
	switch req.Product {
	case consts.ProductNoticeOnly:
		docTypes = []string{noticeDocType(fields.NoticeRoute)}
	case consts.ProductCompletePack:
		docTypes = []string{noticeDocType(fields.NoticeRoute), "service_instructions", "certificate_of_service"}
	case consts.ProductMoneyClaim:
		docTypes = []string{"letter_before_claim", "particulars_of_claim"}
	case consts.ProductTenancyAgreement:
		docTypes = []string{"tenancy_agreement"}
	}

	documents := make([]db.Document, 0, len(docTypes))
	for _, docType := range docTypes {
		content, err := renderDocument(docType, caseRecord, fields)
		if err != nil {
			return nil, err
		}

		key := fmt.Sprintf("%s%s/%s.html", c.cfg.DocumentPrefix, req.OrderID, docType)
		url, err := c.storage.UploadFile(ctx, key, nil, bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("error uploading document %s, %v", docType, err)
		}

		documents = append(documents, db.Document{
			ID:        uuid.New(),
			OrderID:   req.OrderID,
			CaseID:    req.CaseID,
			DocType:   docType,
			S3Key:     key,
			URL:       url,
			CreatedAt: time.Now(),
		})
	}

	return documents, nil
}

func (c *Generator) saveDocuments(ctx context.Context, documents []db.Document) error {
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return err
	}
	defer uow.Finalize(&err)

	for _, doc := range documents {
		_, err = tx.Exec(ctx, `INSERT INTO landlord.documents(id, order_id, case_id, doc_type, s3_key, url, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			doc.ID, doc.OrderID, doc.CaseID, doc.DocType, doc.S3Key, doc.URL, doc.CreatedAt)
		if err != nil {
			return fmt.Errorf("err inserting document, %v", err)
		}
	}

	return nil
}

func noticeDocType(route string) string {
	if route == "section_21" {
		return "form_6a_notice"
	}
	return "form_3_notice"
}

var documentTemplates = map[string]*template.Template{
	"form_6a_notice": template.Must(template.New("form_6a_notice").Parse(`<html><body>
<h1>Form 6A: Notice seeking possession (Section 21)</h1>
<p>To: {{.TenantName}}</p>
<p>Property: {{.PropertyAddress}}</p>
<p>From: {{.LandlordName}}</p>
<p>Served on: {{.NoticeServedOn}}. Possession is required after: {{.NoticeExpiresOn}}.</p>
</body></html>`)),
	"form_3_notice": template.Must(template.New("form_3_notice").Parse(`<html><body>
<h1>Form 3: Notice seeking possession (Section 8)</h1>
<p>To: {{.TenantName}}</p>
<p>Property: {{.PropertyAddress}}</p>
<p>From: {{.LandlordName}}</p>
<p>Grounds relied on: {{range .Grounds}}{{.}} {{end}}</p>
{{if .ArrearsTotal}}<p>Rent arrears at service: £{{.ArrearsTotal}}</p>{{end}}
</body></html>`)),
	"service_instructions": template.Must(template.New("service_instructions").Parse(`<html><body>
<h1>How to serve your notice</h1>
<p>Case: {{.CaseRef}}</p>
<p>Serve the notice on {{.TenantName}} at {{.PropertyAddress}} and keep the certificate of service.</p>
</body></html>`)),
	"certificate_of_service": template.Must(template.New("certificate_of_service").Parse(`<html><body>
<h1>Certificate of service</h1>
<p>Case: {{.CaseRef}}</p>
<p>I, {{.LandlordName}}, served the attached notice on {{.TenantName}} at {{.PropertyAddress}}.</p>
</body></html>`)),
	"letter_before_claim": template.Must(template.New("letter_before_claim").Parse(`<html><body>
<h1>Letter before claim</h1>
<p>To: {{.TenantName}}, {{.PropertyAddress}}</p>
<p>Outstanding arrears: £{{.ArrearsTotal}}. Amount claimed: £{{.ClaimAmount}}.</p>
</body></html>`)),
	"particulars_of_claim": template.Must(template.New("particulars_of_claim").Parse(`<html><body>
<h1>Particulars of claim</h1>
<p>Claimant: {{.LandlordName}}. Defendant: {{.TenantName}}.</p>
<p>Claim for rent arrears of £{{.ClaimAmount}} at {{.PropertyAddress}}.</p>
</body></html>`)),
	"tenancy_agreement": template.Must(template.New("tenancy_agreement").Parse(`<html><body>
<h1>Assured shorthold tenancy agreement</h1>
<p>Landlord: {{.LandlordName}}. Tenant: {{.TenantName}}.</p>
<p>Property: {{.PropertyAddress}}. Term starts: {{.TenancyStart}}. Rent: £{{.RentPCM}} per calendar month.</p>
</body></html>`)),
}

type documentData struct {
	caseFields
	CaseRef string
}

func renderDocument(docType string, caseRecord *db.Case, fields caseFields) ([]byte, error) {
	tmpl, ok := documentTemplates[docType]
	if !ok {
		return nil, fmt.Errorf("no template for document type %s", docType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, documentData{caseFields: fields, CaseRef: caseRecord.CaseRef}); err != nil {
		return nil, fmt.Errorf("error rendering %s, %v", docType, err)
	}

	return buf.Bytes(), nil
}
