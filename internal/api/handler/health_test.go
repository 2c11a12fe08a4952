package handler

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func decodeHealth(t *testing.T, body io.Reader) HealthResponse {
	t.Helper()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	var result HealthResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func TestHealthHandler_Health(t *testing.T) {
	app := fiber.New()
	h := NewHealthHandler(stubPinger{}, "0.3.0")
	app.Get("/health", h.Health)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	result := decodeHealth(t, resp.Body)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "0.3.0", result.Version)
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		pinger     stubPinger
		wantStatus int
		wantBody   string
	}{
		{name: "store reachable", pinger: stubPinger{}, wantStatus: 200, wantBody: "ready"},
		{name: "store down", pinger: stubPinger{err: errors.New("connection refused")}, wantStatus: 503, wantBody: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			h := NewHealthHandler(tt.pinger, "")
			app.Get("/ready", h.Ready)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantBody, decodeHealth(t, resp.Body).Status)
		})
	}
}
