package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/webhook"
)

var errMissingIdentity = errors.New("missing shop domain or topic header")

// SignatureVerifier checks the raw body against the provided signature.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) bool
}

// Acceptor persists the delivery and, when verified, enqueues its job.
type Acceptor interface {
	Accept(ctx context.Context, in webhook.Inbound, signatureValid bool) (uuid.UUID, error)
}

type WebhookHandler struct {
	verifier   SignatureVerifier
	dispatcher Acceptor
	logger     *slog.Logger
}

func NewWebhookHandler(verifier SignatureVerifier, dispatcher Acceptor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type WebhookResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// Receive handles POST /webhooks. The signature covers the bytes on the wire,
// so the raw body is used even when Content-Encoding is set. It is copied
// because fasthttp reuses the request buffer once the handler returns.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Request().Body()...)

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})
	query := make(map[string]string)
	c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		query[string(k)] = string(v)
	})

	in := webhook.ExtractInbound(headers, query, body)
	if in.ShopDomain == "" || in.Topic == "" {
		return domain.ErrBadRequest.WithError(errMissingIdentity)
	}

	valid := h.verifier.Verify(body, in.Signature)

	id, err := h.dispatcher.Accept(c.UserContext(), in, valid)
	if err != nil {
		return err
	}
	if !valid {
		return domain.ErrSignatureInvalid
	}

	return c.Status(fiber.StatusOK).JSON(WebhookResponse{DeliveryID: id.String()})
}
