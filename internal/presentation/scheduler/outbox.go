package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application"
	"github.com/Landlord-Docs/landlord-backend/internal/application/consts"
	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
	"github.com/Landlord-Docs/landlord-backend/internal/application/events"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/db"
	dbs "github.com/Landlord-Docs/landlord-backend/pkg/db"
	"github.com/Landlord-Docs/landlord-backend/pkg/env"
	"github.com/Landlord-Docs/landlord-backend/pkg/interfaces"
	"github.com/jackc/pgx/v5"
)

type OutboxPoller struct {
	processors *application.Processors
	uowFactory *dbs.UOWFactory
	cfg        *OutboxConfig
	stop       chan struct{}
}

type OutboxConfig struct {
	limit    uint8
	interval uint16
}

func NewOutboxConfig() *OutboxConfig {
	limit, err := strconv.Atoi(env.GetEnv("SCHEDULER_LIMIT", "5"))
	if err != nil {
		limit = 5
	}

	interval, err := strconv.Atoi(env.GetEnv("SCHEDULER_INTERVAL", "5"))
	if err != nil {
		interval = 5
	}
	return &OutboxConfig{
		limit:    uint8(limit),
		interval: uint16(interval),
	}
}

func NewOutboxPoller(processors *application.Processors, uowFactory *dbs.UOWFactory, cfg *OutboxConfig) *OutboxPoller {
	return &OutboxPoller{processors: processors, uowFactory: uowFactory, cfg: cfg, stop: make(chan struct{})}
}

func (o *OutboxPoller) Start() {
	slog.Info("Starting outbox poller...")
	t := time.NewTimer(time.Duration(o.cfg.interval) * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	for {
		select {
		case <-t.C:
			o.pollTable(ctx)
			t = time.NewTimer(time.Duration(o.cfg.interval) * time.Second)
		case <-o.stop:
			slog.Info("Cancelling current execution")
			cancel()
			return
		}
	}
}

func (o *OutboxPoller) pollTable(ctx context.Context) {
	uow := o.uowFactory.GetUoW()
	tx, err := uow.Begin()
	if err != nil {
		slog.Error("error in poller", "err", err)
		return
	}

	var eventsPolled int
	err = tx.QueryRow(ctx, "SELECT count(*) FROM landlord.outbox WHERE status = 0").Scan(&eventsPolled)
	if err != nil {
		slog.Error("error counting events", "err", err)
		return
	}
	if eventsPolled == 0 {
		_ = uow.Rollback()
		slog.Debug("no events to process")
		return
	}

	query := "SELECT id, event, status, payload, created_at FROM landlord.outbox WHERE status = 0 ORDER BY created_at FOR NO KEY UPDATE LIMIT $1"
	rows, err := tx.Query(ctx, query, o.cfg.limit)
	if err != nil {
		slog.Error("error in poller", "err", err)
		return
	}

	defer rows.Close()
	var eventsToProcess []db.Outbox
	var eventIDs []int64
	for rows.Next() {
		var event db.Outbox
		if err = rows.Scan(&event.ID, &event.Event, &event.Status, &event.Payload, &event.CreatedAt); err != nil {
			slog.Error("error in poller", "err", err)
			continue
		}
		eventIDs = append(eventIDs, int64(event.ID))
		eventsToProcess = append(eventsToProcess, event)
	}

	if err = rows.Err(); err != nil {
		slog.Error("error reading result sets", "err", err)
	}

	_, err = tx.Exec(ctx, "UPDATE landlord.outbox SET status = $1 WHERE id = ANY($2)", consts.Processing, eventIDs)
	if err != nil {
		slog.Error("error setting events status to processing", "err", err)
	}

	if err := uow.Commit(); err != nil {
		slog.Error("err committing", "err", err)
	}

	var wg sync.WaitGroup
	for _, event := range eventsToProcess {
		wg.Add(1)
		go func(ev db.Outbox) {
			defer wg.Done()
			if err := o.handleEvent(ctx, ev); err != nil {
				slog.Error("handler error", "event", ev.ID, "err", err)
			}
		}(event)
	}

	wg.Wait()
	slog.Debug("Finished poller thread processing")
}

func (o *OutboxPoller) handleEvent(ctx context.Context, outbox db.Outbox) error {
	var (
		uow    interfaces.UoW
		tx     pgx.Tx
		err    error
		status = consts.Processed
	)

	slog.Info("Handling event", "event", outbox.Event, "id", outbox.ID)

	switch outbox.Event {
	case events.SendMail{}.GetType():
		event := db.MapOutboxModelToSendMail(outbox)
		uow, err = o.processors.SendMail.Handle(ctx, event)
		if err != nil {
			status = consts.InError
		}
	case events.RecordPurchase{}.GetType():
		event := db.MapOutboxModelToRecordPurchase(outbox)
		uow, err = o.processors.RecordPurchase.Handle(ctx, event)
		if err != nil {
			var r errs.RetryableError
			if errors.As(err, &r) {
				slog.Warn("Analytics backend unavailable, will retry later")
				status = consts.NotProcessed
			} else {
				status = consts.InError
			}
		}
	}

	if err != nil {
		slog.Error("error in handler", "event", outbox.Event, "id", outbox.ID, "err", err)
	}

	if uow == nil {
		var errTx error
		// open new transaction if there was none in event handler
		uow = o.uowFactory.GetUoW()
		tx, errTx = uow.Begin()
		if errTx != nil {
			return errors.Join(err, errTx)
		}
	} else {
		tx = uow.GetTx()
	}

	_, err = tx.Exec(ctx, "UPDATE landlord.outbox SET status = $1 WHERE id = $2", status, outbox.ID)
	if err != nil {
		errRollback := uow.Rollback()
		slog.Error("error in poller", "err", err)
		return errors.Join(err, errRollback)
	}

	if err = uow.Commit(); err != nil {
		slog.Error("error in poller", "err", err)
		return err
	}

	slog.Info("processed event", "id", outbox.ID)
	return nil
}

func (o *OutboxPoller) Stop() {
	slog.Info("Stopping poller")
	o.stop <- struct{}{}
}
