package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Landlord-Docs/landlord-backend/internal/application"
	"github.com/Landlord-Docs/landlord-backend/internal/application/commands/fulfill"
	"github.com/Landlord-Docs/landlord-backend/internal/application/commands/payment"
	"github.com/Landlord-Docs/landlord-backend/internal/application/processors"
	"github.com/Landlord-Docs/landlord-backend/internal/application/query"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/analytics"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/config"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/mail"
	"github.com/Landlord-Docs/landlord-backend/internal/infra/storage"
	"github.com/Landlord-Docs/landlord-backend/internal/presentation/rest"
	"github.com/Landlord-Docs/landlord-backend/internal/presentation/scheduler"
	"github.com/Landlord-Docs/landlord-backend/pkg/db"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Init() {
	// DB
	dbConfig := db.NewConfig()
	pool, err := pgxpool.New(context.Background(), dbConfig.GetDSN())
	if err != nil {
		log.Panicf("failed to create pool: %v", err)
	}
	err = pool.Ping(context.Background())
	if err != nil {
		log.Panicf("failed to connect to db: %v", err)
	}
	uowFactory := db.NewUoWFactory(pool)

	// Configs
	fulfillConfig := config.NewFulfillConfig()
	mailConfig := mail.NewMailConfig()
	paymentConfig := payment.NewPaymentConfig()
	analyticsConfig := analytics.NewAnalyticsConfig()
	outboxConfig := scheduler.NewOutboxConfig()

	mailServer := mail.NewMailServer(mailConfig)

	// AWS
	cfg, err := awsConfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Panic("can't load aws config", err)
	}
	s3 := storage.NewStorage(cfg)

	generator := fulfill.NewGenerator(uowFactory, s3, fulfillConfig)

	handlers := &application.Handlers{
		Payment:  payment.NewPayment(uowFactory, generator, paymentConfig, fulfillConfig),
		GetOrder: query.NewGetOrder(uowFactory),
	}
	handler := rest.NewServer(handlers)
	app := fiber.New(fiber.Config{
		IdleTimeout: 5 * time.Second,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     fulfillConfig.BaseDomain,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Stripe-Signature",
		AllowCredentials: true,
	}))
	rest.RegisterHandlers(app, handler)

	outboxProcessors := &application.Processors{
		SendMail:       processors.NewSendMail(mailServer, uowFactory),
		RecordPurchase: processors.NewRecordPurchase(analytics.NewClient(analyticsConfig)),
	}
	outboxPoller := scheduler.NewOutboxPoller(outboxProcessors, uowFactory, outboxConfig)
	go outboxPoller.Start()

	go func() {
		if err := app.Listen(":8080"); err != nil {
			log.Panic(err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	fmt.Println("Gracefully shutting down...")
	_ = app.Shutdown()
	outboxPoller.Stop()

	fmt.Println("Running cleanup tasks...")

	uowFactory.Pool.Close()
	fmt.Println("Fiber was successfully shutdown.")
}
