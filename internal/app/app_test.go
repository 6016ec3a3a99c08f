package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-cart/internal/config"
	"github.com/utafrali/storefront-cart/internal/domain"
)

func testConfig(catalogURL string) *config.Config {
	return &config.Config{
		Environment:         "test",
		HTTPPort:            8003,
		RequestTimeoutSecs:  5,
		ShutdownTimeoutSecs: 5,
		StoreBackend:        config.BackendMemory,
		ProductServiceURL:   catalogURL,
		CBMaxRequests:       1,
		CBInterval:          60,
		CBTimeout:           30,
		CBFailureRatio:      0.5,
		CBMinRequests:       5,
		PaymentMethods:      []string{domain.PaymentPayPal, domain.PaymentCashOnDelivery},
		CORSAllowedOrigins:  []string{"*"},
		OTELSampleRate:      1.0,
	}
}

func TestApp_EndToEnd_MemoryBackend(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/prod-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"_id":"prod-1","name":"Keyboard","price":10,"offerPrice":8,"countInStock":3}`)
	}))
	defer catalog.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewApp(testConfig(catalog.URL), logger)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString(`{"productId":"prod-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "client-1")
	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data domain.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "Keyboard", resp.Data.Items[0].Name)
	assert.Equal(t, 3, resp.Data.Items[0].CountInStock)

	rec = httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.NoError(t, a.Shutdown())
}
