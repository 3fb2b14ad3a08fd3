package db

import (
	"encoding/json"
	"log/slog"

	"github.com/Landlord-Docs/landlord-backend/internal/application/events"
)

func MapOutboxModelToSendMail(outbox Outbox) events.SendMail {
	var payload struct {
		UserID  string      `json:"UserID"`
		Subject string      `json:"Subject"`
		Data    interface{} `json:"Data"`
	}
	if err := json.Unmarshal(outbox.Payload, &payload); err != nil {
		slog.Error("error unmarshaling event", "err", err)
		return events.SendMail{}
	}

	return events.SendMail{
		UserID:  payload.UserID,
		Subject: payload.Subject,
		Data:    payload.Data,
	}
}

func MapOutboxModelToRecordPurchase(outbox Outbox) events.RecordPurchase {
	var recordPurchase events.RecordPurchase
	if err := json.Unmarshal(outbox.Payload, &recordPurchase); err != nil {
		slog.Error("error unmarshaling event", "err", err)
		return events.RecordPurchase{}
	}

	return recordPurchase
}
