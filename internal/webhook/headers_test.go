package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInbound(t *testing.T) {
	headers := map[string]string{
		"X-Shopify-Topic":        "App/Uninstalled",
		"x-shopify-shop-domain":  "A.myshopify.com",
		"X-SHOPIFY-HMAC-SHA256":  "c2lnbmF0dXJl",
		"X-Shopify-Webhook-Id":   "b54557e4-bdd9-4b37-8a5f-bf7d70bcd043",
		"X-Shopify-Triggered-At": "2026-03-01T12:00:00.123Z",
		"X-Shopify-API-Version":  "2026-01",
		"Content-Type":           "application/json",
	}
	body := []byte(`{"id":1}`)

	in := ExtractInbound(headers, map[string]string{"shop": "a.myshopify.com"}, body)

	assert.Equal(t, "a.myshopify.com", in.ShopDomain)
	assert.Equal(t, "app/uninstalled", in.Topic)
	assert.Equal(t, "c2lnbmF0dXJl", in.Signature)
	assert.Equal(t, "b54557e4-bdd9-4b37-8a5f-bf7d70bcd043", in.EventID)
	assert.Equal(t, "2026-01", in.APIVersion)
	require.NotNil(t, in.TriggeredAt)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 123000000, time.UTC), in.TriggeredAt.UTC())
	assert.Equal(t, body, in.Body)
	assert.Equal(t, "a.myshopify.com", in.Query["shop"])

	assert.Equal(t, "application/json", in.Headers["content-type"])
	_, kept := in.Headers["x-shopify-hmac-sha256"]
	assert.False(t, kept, "signature header is not stored")
}

func TestExtractInbound_MissingHeaders(t *testing.T) {
	in := ExtractInbound(map[string]string{"X-Shopify-Triggered-At": "yesterday"}, nil, nil)

	assert.Empty(t, in.ShopDomain)
	assert.Empty(t, in.Topic)
	assert.Empty(t, in.Signature)
	assert.Nil(t, in.TriggeredAt)
}
