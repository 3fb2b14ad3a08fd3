package testinfra

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var Pool *pgxpool.Pool

func init() {
	Pool = SetupDB()
}

func SetupDB() *pgxpool.Pool {

	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:17.2-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	if err != nil {
		log.Panicf("start postgres: %v", err)
	}

	pgHostPort, err := pgC.Endpoint(ctx, "")
	if err != nil {
		log.Panicf("postgres endpoint: %v", err)
	}
	pgDSN := fmt.Sprintf("postgres://postgres:password@%s/testdb?sslmode=disable", pgHostPort)

	pool, err := pgxpool.New(ctx, pgDSN)
	if err != nil {
		log.Panicf("pgxpool connect: %v", err)
	}

	ok := false
	for i := 0; i < 20; i++ {
		slog.Info("ping db", "try", i)
		ctxPing, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			ok = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ok {
		log.Panic("db did not respond after 20 attempts")
	}

	_, err = pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS landlord;
		CREATE TABLE IF NOT EXISTS landlord.users (
			id UUID PRIMARY KEY,
			first_name TEXT,
			last_name TEXT,
			email TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS landlord.cases (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			case_ref TEXT NOT NULL,
			fields JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS landlord.products (
			product TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stripe_price_id TEXT NOT NULL,
			amount_pence BIGINT NOT NULL,
			currency TEXT NOT NULL DEFAULT 'gbp'
		);
		CREATE TABLE IF NOT EXISTS landlord.orders (
			id UUID PRIMARY KEY,
			case_id UUID NOT NULL,
			user_id UUID NOT NULL,
			product TEXT NOT NULL,
			checkout_session_id TEXT,
			amount_pence BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'gbp',
			payment_status VARCHAR(20) NOT NULL,
			fulfillment_status VARCHAR(30) NOT NULL,
			fulfillment_error VARCHAR(500),
			fulfillment_error_details JSONB,
			landing_path TEXT,
			referrer TEXT,
			utm_source TEXT,
			utm_medium TEXT,
			utm_campaign TEXT,
			utm_term TEXT,
			utm_content TEXT,
			client_id TEXT,
			first_touch_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS landlord.webhook_logs (
			id BIGSERIAL PRIMARY KEY,
			stripe_event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			status VARCHAR(20) NOT NULL,
			payload JSONB,
			result VARCHAR(40),
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS landlord.case_entitlements (
			case_id UUID PRIMARY KEY,
			products TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS landlord.documents (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL,
			case_id UUID NOT NULL,
			doc_type TEXT NOT NULL,
			s3_key TEXT NOT NULL,
			url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS landlord.outbox (
			id BIGSERIAL PRIMARY KEY,
			event TEXT NOT NULL,
			status INT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS landlord.mails (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			recipients TEXT NOT NULL,
			subject TEXT NOT NULL,
			content TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS landlord.mail_templates (
			type TEXT PRIMARY KEY,
			content TEXT NOT NULL
		);
	`)
	if err != nil {
		log.Panicf("create tables: %v", err)
	}

	return pool
}
