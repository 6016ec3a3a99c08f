package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/persistence"
	"github.com/utafrali/storefront-cart/internal/persistence/memory"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/httputil"
)

// ============================================================================
// Mock ProductLookup
// ============================================================================

type mockProductLookup struct {
	mock.Mock
}

func (m *mockProductLookup) Product(ctx context.Context, id string) (domain.Product, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Product), args.Error(1)
}

// failingBackend accepts reads but rejects every write.
type failingBackend struct {
	*memory.Backend
}

func (b failingBackend) Scope(clientID string) persistence.Store {
	return failingStore{Store: b.Backend.Scope(clientID)}
}

type failingStore struct {
	persistence.Store
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("redis: connection refused")
}

// ============================================================================
// Test helpers
// ============================================================================

const testClientID = "client-123"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry(t *testing.T, backend persistence.Backend) *cart.Registry {
	t.Helper()
	reg := cart.NewRegistry(backend, domain.NewPaymentMethodSet(domain.DefaultPaymentMethods...), testLogger())
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

// setupCartRouter mirrors the production route layout, including the
// ClientIDFromHeader and ContentTypeJSON middleware.
func setupCartRouter(handler *CartHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(ClientIDFromHeader)

		r.Get("/", handler.GetCart)
		r.Delete("/", handler.ClearCart)

		r.Post("/items", handler.AddItem)
		r.Put("/items/{productId}", handler.UpdateItemQuantity)
		r.Delete("/items/{productId}", handler.RemoveItem)

		r.Put("/shipping-address", handler.SetShippingAddress)
		r.Put("/payment-method", handler.SetPaymentMethod)
		r.Delete("/session", handler.ClearSession)
	})
	return r
}

func setup(t *testing.T) (*chi.Mux, *mockProductLookup) {
	t.Helper()
	products := new(mockProductLookup)
	handler := NewCartHandler(testRegistry(t, memory.New()), products, testLogger())
	return setupCartRouter(handler), products
}

// cartResponse is httputil.Response with the data decoded as a snapshot.
type cartResponse struct {
	Data    domain.Snapshot         `json:"data"`
	Warning *httputil.ErrorResponse `json:"warning"`
	Error   *httputil.ErrorResponse `json:"error"`
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, cartResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Client-ID", testClientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func keyboard() domain.Product {
	return domain.Product{
		ID:           "prod-1",
		Name:         "Keyboard",
		Slug:         "keyboard",
		Image:        "/images/keyboard.jpg",
		Price:        domain.MustAmount("10"),
		OfferPrice:   domain.MustAmount("8"),
		CountInStock: 5,
	}
}

func address() map[string]string {
	return map[string]string{
		"fullName":   "Ada Lovelace",
		"street":     "12 St James's Square",
		"city":       "London",
		"postalCode": "SW1Y 4JH",
		"country":    "UK",
	}
}

func addKeyboard(t *testing.T, router http.Handler) {
	t.Helper()
	rec, _ := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "prod-1"})
	require.Equal(t, http.StatusOK, rec.Code)
}

// ============================================================================
// GET /api/v1/cart - GetCart
// ============================================================================

func TestGetCart_EmptyCart(t *testing.T) {
	router, _ := setup(t)

	rec, resp := do(t, router, http.MethodGet, "/api/v1/cart", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)
	assert.Equal(t, testClientID, resp.Data.ClientID)
	assert.Empty(t, resp.Data.Items)
	assert.Equal(t, 0, resp.Data.ItemCount)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestGetCart_MissingClientID_Returns400(t *testing.T) {
	router, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestGetCart_MalformedClientID_Returns400(t *testing.T) {
	router, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Client-ID", "not a valid id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCart_RegistryClosed_Returns503(t *testing.T) {
	reg := cart.NewRegistry(memory.New(), domain.NewPaymentMethodSet(domain.DefaultPaymentMethods...), testLogger())
	require.NoError(t, reg.Close(context.Background()))
	router := setupCartRouter(NewCartHandler(reg, new(mockProductLookup), testLogger()))

	rec, resp := do(t, router, http.MethodGet, "/api/v1/cart", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
}

// ============================================================================
// POST /api/v1/cart/items - AddItem
// ============================================================================

func TestAddItem_Success(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "prod-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)
	require.Len(t, resp.Data.Items, 1)
	item := resp.Data.Items[0]
	assert.Equal(t, "prod-1", item.ProductID)
	assert.Equal(t, "Keyboard", item.Name)
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, "10", resp.Data.ItemsSubtotal.String())
	products.AssertExpectations(t)
}

func TestAddItem_RepeatedAddMerges(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)

	addKeyboard(t, router)
	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "prod-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, 2, resp.Data.Items[0].Quantity)
	assert.Equal(t, 2, resp.Data.ItemCount)
	assert.Equal(t, "20", resp.Data.ItemsSubtotal.String())
}

func TestAddItem_OutOfStock_Returns409(t *testing.T) {
	router, products := setup(t)
	p := keyboard()
	p.CountInStock = 1
	products.On("Product", mock.Anything, "prod-1").Return(p, nil)

	addKeyboard(t, router)
	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "prod-1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OUT_OF_STOCK", resp.Error.Code)

	_, got := do(t, router, http.MethodGet, "/api/v1/cart", nil)
	require.Len(t, got.Data.Items, 1)
	assert.Equal(t, 1, got.Data.Items[0].Quantity)
}

func TestAddItem_RequestedQuantityAboveStock_Returns409(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "prod-1", Quantity: 6})

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OUT_OF_STOCK", resp.Error.Code)
}

func TestAddItem_MissingProductID_ReturnsValidationError(t *testing.T) {
	router, products := setup(t)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", map[string]any{"quantity": 1})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "productId")
	products.AssertNotCalled(t, "Product", mock.Anything, mock.Anything)
}

func TestAddItem_MalformedJSON_Returns400(t *testing.T) {
	router, _ := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("{bad json"))
	req.Header.Set("X-Client-ID", testClientID)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddItem_ProductNotFound_Returns404(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "missing").
		Return(domain.Product{}, apperrors.NotFound("product", "missing"))

	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "missing"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAddItem_WrongContentType_Returns415(t *testing.T) {
	router, _ := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString(`productId=prod-1`))
	req.Header.Set("X-Client-ID", testClientID)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAddItem_PersistenceFailure_ReturnsCartWithWarning(t *testing.T) {
	products := new(mockProductLookup)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	handler := NewCartHandler(testRegistry(t, failingBackend{memory.New()}), products, testLogger())
	router := setupCartRouter(handler)

	rec, resp := do(t, router, http.MethodPost, "/api/v1/cart/items", AddItemRequest{ProductID: "prod-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Warning)
	assert.Equal(t, "PERSISTENCE_WRITE_FAILED", resp.Warning.Code)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, 1, resp.Data.Items[0].Quantity)
}

// ============================================================================
// PUT /api/v1/cart/items/{productId} - UpdateItemQuantity
// ============================================================================

func TestUpdateItemQuantity_Success(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	addKeyboard(t, router)

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]int{"quantity": 3})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, 3, resp.Data.Items[0].Quantity)
	assert.Equal(t, "30", resp.Data.ItemsSubtotal.String())
}

func TestUpdateItemQuantity_LiveStockLower_Returns409(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil).Once()
	addKeyboard(t, router)

	sold := keyboard()
	sold.CountInStock = 2
	products.On("Product", mock.Anything, "prod-1").Return(sold, nil).Once()

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]int{"quantity": 3})

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OUT_OF_STOCK", resp.Error.Code)
	products.AssertExpectations(t)
}

func TestUpdateItemQuantity_CatalogDown_UsesRecordedStock(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil).Once()
	addKeyboard(t, router)
	products.On("Product", mock.Anything, "prod-1").
		Return(domain.Product{}, apperrors.ServiceUnavailable("catalog down"))

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]int{"quantity": 5})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, resp.Data.Items[0].Quantity)

	rec, resp = do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]int{"quantity": 6})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "OUT_OF_STOCK", resp.Error.Code)
}

func TestUpdateItemQuantity_ItemNotInCart_Returns404(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]int{"quantity": 1})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ITEM_NOT_FOUND", resp.Error.Code)
}

func TestUpdateItemQuantity_Zero_ReturnsInvalidQuantity(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil).Once()
	addKeyboard(t, router)

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]int{"quantity": 0})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_QUANTITY", resp.Error.Code)
	products.AssertNumberOfCalls(t, "Product", 1)
}

func TestUpdateItemQuantity_MissingQuantity_ReturnsValidationError(t *testing.T) {
	router, _ := setup(t)

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/items/prod-1", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "quantity")
}

// ============================================================================
// DELETE /api/v1/cart/items/{productId} - RemoveItem
// ============================================================================

func TestRemoveItem_Success(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	addKeyboard(t, router)

	rec, resp := do(t, router, http.MethodDelete, "/api/v1/cart/items/prod-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Data.Items)
}

func TestRemoveItem_AbsentProduct_IsNoOp(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	addKeyboard(t, router)

	rec, resp := do(t, router, http.MethodDelete, "/api/v1/cart/items/other", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)
	assert.Len(t, resp.Data.Items, 1)
}

// ============================================================================
// DELETE /api/v1/cart - ClearCart
// ============================================================================

func TestClearCart_KeepsCheckoutContext(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	addKeyboard(t, router)
	rec, _ := do(t, router, http.MethodPut, "/api/v1/cart/payment-method", SetPaymentMethodRequest{PaymentMethod: "PayPal"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := do(t, router, http.MethodDelete, "/api/v1/cart", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Data.Items)
	assert.Equal(t, "0", resp.Data.ItemsSubtotal.String())
	assert.Equal(t, "PayPal", resp.Data.PaymentMethod)
}

// ============================================================================
// Checkout context
// ============================================================================

func TestSetShippingAddress_Success(t *testing.T) {
	router, _ := setup(t)

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/shipping-address", address())

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Data.ShippingAddress)
	assert.Equal(t, "London", resp.Data.ShippingAddress.City)
}

func TestSetShippingAddress_MissingField_ReturnsValidationError(t *testing.T) {
	router, _ := setup(t)
	body := address()
	delete(body, "postalCode")

	rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/shipping-address", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "postalCode")
}

func TestSetPaymentMethod(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		wantStatus int
		wantCode   string
	}{
		{"paypal", "PayPal", http.StatusOK, ""},
		{"cash on delivery", "CashOnDelivery", http.StatusOK, ""},
		{"unknown method", "Bitcoin", http.StatusBadRequest, "INVALID_PAYMENT_METHOD"},
		{"wrong case", "paypal", http.StatusBadRequest, "INVALID_PAYMENT_METHOD"},
		{"empty", "", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setup(t)

			rec, resp := do(t, router, http.MethodPut, "/api/v1/cart/payment-method", SetPaymentMethodRequest{PaymentMethod: tt.method})

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode == "" {
				assert.Nil(t, resp.Error)
				assert.Equal(t, tt.method, resp.Data.PaymentMethod)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestClearSession_KeepsItems(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	addKeyboard(t, router)
	_, _ = do(t, router, http.MethodPut, "/api/v1/cart/shipping-address", address())
	_, _ = do(t, router, http.MethodPut, "/api/v1/cart/payment-method", SetPaymentMethodRequest{PaymentMethod: "PayPal"})

	rec, resp := do(t, router, http.MethodDelete, "/api/v1/cart/session", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Data.ShippingAddress)
	assert.Empty(t, resp.Data.PaymentMethod)
	assert.Len(t, resp.Data.Items, 1)
}

func TestCarts_AreIsolatedPerClient(t *testing.T) {
	router, products := setup(t)
	products.On("Product", mock.Anything, "prod-1").Return(keyboard(), nil)
	addKeyboard(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Client-ID", "someone-else")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp cartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "someone-else", resp.Data.ClientID)
	assert.Empty(t, resp.Data.Items)
}
