package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cardledger/internal/config"
	"github.com/congo-pay/cardledger/internal/logging"
	"github.com/congo-pay/cardledger/internal/store"
)

func TestErrorsRenderAsJSON(t *testing.T) {
	cfg := config.Config{AppName: "test", AppEnv: "test", RetryMaxAttempts: 3, RetryBaseDelay: time.Millisecond}
	srv, err := New(cfg, store.NewMemory(), nil, logging.Discard())
	require.NoError(t, err)

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/cards/not-a-uuid", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "invalid card id", body["error"])
}

func TestUnhandledErrorsAreMasked(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler(logging.Discard())})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("db password leaked") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(raw), "password")
}
