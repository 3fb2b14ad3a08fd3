package rest

import (
	"errors"

	"github.com/Landlord-Docs/landlord-backend/internal/application"
	"github.com/Landlord-Docs/landlord-backend/internal/application/dto"
	"github.com/Landlord-Docs/landlord-backend/internal/application/errs"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Server struct {
	handlers *application.Handlers
}

func NewServer(handlers *application.Handlers) *Server {
	return &Server{handlers: handlers}
}

func RegisterHandlers(app *fiber.App, s *Server) {
	app.Post("/api/checkout", s.CreateCheckout)
	app.Post("/api/webhooks/stripe", s.StripeWebhook)
	app.Get("/api/orders/:id", s.GetOrder)
	app.Post("/api/orders/:id/fulfillment", s.RetryFulfillment)
}

// StripeWebhook maps the classified processing outcome onto the response
// codes Stripe's retry policy keys off: 400 for a bad signature, 200 for
// anything permanent (including swallowed validation failures), 500 for
// presumed-transient failures so the event is redelivered.
func (s *Server) StripeWebhook(c *fiber.Ctx) error {
	resp, err := s.handlers.Payment.Webhook(c.Context(), c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		var sigErr errs.InvalidSignatureError
		if errors.As(err, &sigErr) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid signature"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:   "webhook processing failed",
			Message: err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) CreateCheckout(c *fiber.Ctx) error {
	var req dto.CreateCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	userID, err := uuid.Parse(c.Get("X-User-ID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "missing or invalid user id"})
	}

	resp, err := s.handlers.Payment.CreateCheckout(c.Context(), &req, userID)
	if err != nil {
		if errs.Classify(err) == errs.ReasonValidation {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) GetOrder(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	resp, err := s.handlers.GetOrder.Query(c.Context(), orderID)
	if err != nil {
		if errs.Classify(err) == errs.ReasonValidation {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) RetryFulfillment(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	resp, err := s.handlers.Payment.RetryFulfillment(c.Context(), orderID)
	if err != nil {
		if errs.Classify(err) == errs.ReasonValidation {
			status := fiber.StatusUnprocessableEntity
			if resp != nil {
				// fulfillment ran and failed permanently, the order view carries the detail
				status = fiber.StatusOK
			}
			return c.Status(status).JSON(dto.ErrorResponse{Error: "fulfillment failed", Message: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}
