package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// WebhookAcceptedResponse is returned once the delivery is durably recorded
type WebhookAcceptedResponse struct {
	DeliveryID string `json:"delivery_id" example:"550e8400-e29b-41d4-a716-446655440000"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"STORE_UNAVAILABLE"`
	Message string `json:"message" example:"Storage is temporarily unavailable"`
}

// EmptyResponse is a status-only reply
type EmptyResponse struct{}

// HealthResponse represents liveness and readiness replies
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Version string `json:"version,omitempty" example:"0.1.0"`
	Error   string `json:"error,omitempty" example:""`
}

func NewSwagger(version string) *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Shophook Webhook Ingest",
		Version:     version,
		Description: "Receives signed platform webhooks, records every delivery and queues verified ones for asynchronous processing",
		Host:        "localhost:3000",
		Path:        "/",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /webhooks - Receive Webhook
		endpoint.New(
			endpoint.POST,
			"/webhooks",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Receive a platform webhook"),
			endpoint.WithDescription("Verifies the HMAC-SHA256 signature over the raw body, records the delivery and enqueues a job when the signature is valid. Rejected deliveries are recorded but never processed."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("X-Shopify-Topic", parameter.Header, parameter.WithDescription("Event topic, e.g. app/uninstalled (required)")),
				parameter.StrParam("X-Shopify-Shop-Domain", parameter.Header, parameter.WithDescription("Tenant shop domain (required)")),
				parameter.StrParam("X-Shopify-Hmac-Sha256", parameter.Header, parameter.WithDescription("Base64 HMAC-SHA256 of the raw body (required)")),
				parameter.StrParam("X-Shopify-Webhook-Id", parameter.Header, parameter.WithDescription("Platform event id, informational only")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookAcceptedResponse{}, "200", "Delivery recorded and queued"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "Invalid request"}, "400", "Bad Request"),
				response.New(EmptyResponse{}, "401", "Signature did not verify"),
				response.New(ErrorResponse{Code: "STORE_UNAVAILABLE", Message: "Storage is temporarily unavailable"}, "503", "Service Unavailable"),
			}),
		),

		// GET /health - Liveness
		endpoint.New(
			endpoint.GET,
			"/health",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Liveness probe"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Process is up"),
			}),
		),

		// GET /ready - Readiness
		endpoint.New(
			endpoint.GET,
			"/ready",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Readiness probe"),
			endpoint.WithDescription("Pings the store; returns 503 when it cannot be reached"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{Status: "ready"}, "200", "Store reachable"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(HealthResponse{Status: "unavailable", Error: "database unreachable"}, "503", "Store unreachable"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
