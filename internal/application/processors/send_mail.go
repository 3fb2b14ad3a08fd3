package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application/events"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/mail"
	dbs "github.com/Landlord-Docs/landlord-backend/pkg/db"
	shared "github.com/Landlord-Docs/landlord-backend/pkg/interfaces"
)

type SendMail struct {
	server     *mail.MailServer
	uowFactory *dbs.UOWFactory
}

func NewSendMail(server *mail.MailServer, uowFactory *dbs.UOWFactory) *SendMail {
	return &SendMail{server: server, uowFactory: uowFactory}
}

func (c *SendMail) Handle(ctx context.Context, event events.SendMail) (shared.UoW, error) {
	mailData, err := mapToMailData(event)
	if err != nil {
		return nil, err
	}
	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		return nil, err
	}
	var email string
	err = tx.QueryRow(ctx, "SELECT email FROM landlord.users WHERE id = $1", event.UserID).Scan(&email)
	if err != nil {
		return uow, err
	}
	recipients := make([]string, 0)
	recipients = append(recipients, email)

	var mailTemplate string
	err = tx.QueryRow(ctx, "SELECT content FROM landlord.mail_templates WHERE type = $1", mailData.GetMailType()).Scan(&mailTemplate)
	if err != nil {
		return uow, err
	}

	htmlBody, err := renderHTML(mailTemplate, mailData)
	if err != nil {
		return uow, fmt.Errorf("error rendering html, %v", err)
	}

	record := db.Mail{
		MailType:   string(mailData.GetMailType()),
		Recipients: strings.Join(recipients, ","),
		Subject:    event.Subject,
		Content:    htmlBody,
		SentAt:     time.Now(),
	}
	_, err = tx.Exec(ctx, "INSERT INTO landlord.mails(type, recipients, subject, content, sent_at) VALUES ($1,$2,$3,$4,$5)",
		record.MailType, record.Recipients, record.Subject, record.Content, record.SentAt,
	)
	if err != nil {
		return uow, err
	}
	err = c.server.SendMail(recipients, record.Subject, record.Content)
	if err != nil {
		return uow, err
	}

	return uow, nil
}

func renderHTML(tmpl string, data mail.MailData) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func mapToMailData(event events.SendMail) (mail.MailData, error) {
	raw, _ := json.Marshal(event.Data)

	switch event.Subject {
	case mail.PurchaseConfirmedData{}.GetSubject():
		var purchaseConfirmed mail.PurchaseConfirmedData
		if err := json.Unmarshal(raw, &purchaseConfirmed); err != nil {
			return nil, fmt.Errorf("error mapping to mailData, %v", err)
		}
		return purchaseConfirmed, nil
	case mail.FulfillmentProblemData{}.GetSubject():
		var fulfillmentProblem mail.FulfillmentProblemData
		if err := json.Unmarshal(raw, &fulfillmentProblem); err != nil {
			return nil, fmt.Errorf("error mapping to mailData, %v", err)
		}
		return fulfillmentProblem, nil
	}

	return nil, fmt.Errorf("no such mailData type exists")
}
