package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/domain"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/httputil"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

// CartRegistry hands out the store for a client.
type CartRegistry interface {
	Get(ctx context.Context, clientID string) (*cart.Store, error)
}

// ProductLookup returns a fresh product snapshot.
type ProductLookup interface {
	Product(ctx context.Context, id string) (domain.Product, error)
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	carts    CartRegistry
	products ProductLookup
	logger   *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(carts CartRegistry, products ProductLookup, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:    carts,
		products: products,
		logger:   logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
// Quantity is optional; when set it must fit in the product's stock.
type AddItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"gte=0,lte=1000"`
}

// UpdateQuantityRequest is the JSON request body for updating an item's quantity.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// SetPaymentMethodRequest is the JSON request body for choosing a payment method.
type SetPaymentMethodRequest struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,max=64"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: store.Snapshot()})
}

// AddItem handles POST /api/v1/cart/items. The product is read from the
// catalog first so the cart sees current price and stock.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	product, err := h.products.Product(r.Context(), req.ProductID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	snap, err := store.AddItem(r.Context(), product, req.Quantity)
	h.respond(w, r, snap, err)
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{productId}. The new
// quantity is checked against live stock when the catalog answers and
// against the stock recorded in the cart otherwise.
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	quantity := *req.Quantity
	if quantity >= 1 {
		product, err := h.products.Product(r.Context(), productID)
		switch {
		case err != nil:
			h.logger.WarnContext(r.Context(), "live stock check skipped, using recorded stock",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		case quantity > product.CountInStock && domain.FindItemIndex(store.Snapshot().Items, productID) >= 0:
			h.writeError(w, r, domain.OutOfStock(productID, quantity, product.CountInStock))
			return
		}
	}

	snap, err := store.UpdateQuantity(r.Context(), productID, quantity)
	h.respond(w, r, snap, err)
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	snap, err := store.RemoveItem(r.Context(), chi.URLParam(r, "productId"))
	h.respond(w, r, snap, err)
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	snap, err := store.ClearCart(r.Context())
	h.respond(w, r, snap, err)
}

// SetShippingAddress handles PUT /api/v1/cart/shipping-address
func (h *CartHandler) SetShippingAddress(w http.ResponseWriter, r *http.Request) {
	var req domain.ShippingAddress
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	snap, err := store.SetShippingAddress(r.Context(), req)
	h.respond(w, r, snap, err)
}

// SetPaymentMethod handles PUT /api/v1/cart/payment-method
func (h *CartHandler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req SetPaymentMethodRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	snap, err := store.SetPaymentMethod(r.Context(), req.PaymentMethod)
	h.respond(w, r, snap, err)
}

// ClearSession handles DELETE /api/v1/cart/session, sent by the storefront
// on sign-out.
func (h *CartHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	snap, err := store.ClearSession(r.Context())
	h.respond(w, r, snap, err)
}

// --- Helpers ---

func (h *CartHandler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	clientID, ok := clientIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperrors.InvalidInput("client id is required"))
		return nil, false
	}

	s, err := h.carts.Get(r.Context(), clientID)
	if err != nil {
		h.writeError(w, r, unavailable(err))
		return nil, false
	}
	return s, true
}

// respond writes the snapshot. A failed durable write still returns the new
// cart, with a warning for the storefront to show.
func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, snap domain.Snapshot, err error) {
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snap})
	case errors.Is(err, domain.ErrPersistenceWriteFailed):
		httputil.WriteDataWithWarning(w, r, snap, err, h.logger)
	default:
		h.writeError(w, r, err)
	}
}

func (h *CartHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		httputil.WriteValidationError(w, err)
		return
	}
	if errors.Is(err, cart.ErrClosed) {
		err = unavailable(err)
	}
	httputil.WriteError(w, r, err, h.logger)
}

// unavailable maps storage failures, which carry no AppError of their own,
// to a retryable 503.
func unavailable(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.New("SERVICE_UNAVAILABLE", "cart storage is temporarily unavailable, please retry",
		http.StatusServiceUnavailable, err)
}
