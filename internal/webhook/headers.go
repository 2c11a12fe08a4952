package webhook

import (
	"strings"
	"time"
)

// Header names sent by the platform. Lookups are case-insensitive.
const (
	HeaderTopic       = "X-Shopify-Topic"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderHMAC        = "X-Shopify-Hmac-Sha256"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
	HeaderAPIVersion  = "X-Shopify-API-Version"
)

// Inbound is one webhook request as received, before any parsing of the body.
type Inbound struct {
	ShopDomain  string
	Topic       string
	Signature   string
	EventID     string
	APIVersion  string
	TriggeredAt *time.Time
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
}

// ExtractInbound pulls the routing headers out of a request. Header keys are
// stored lowercased; the signature header is not kept in Headers.
func ExtractInbound(headers map[string]string, query map[string]string, body []byte) Inbound {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}

	get := func(name string) string {
		return strings.TrimSpace(lowered[strings.ToLower(name)])
	}

	in := Inbound{
		ShopDomain: strings.ToLower(get(HeaderShopDomain)),
		Topic:      strings.ToLower(get(HeaderTopic)),
		Signature:  get(HeaderHMAC),
		EventID:    get(HeaderWebhookID),
		APIVersion: get(HeaderAPIVersion),
		Query:      query,
		Body:       body,
	}

	if ts := get(HeaderTriggeredAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			in.TriggeredAt = &t
		}
	}

	delete(lowered, strings.ToLower(HeaderHMAC))
	in.Headers = lowered
	return in
}
