package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

// Error kinds returned by cart commands. Match them with errors.Is; the
// returned values are *apperrors.AppError carrying the HTTP mapping.
var (
	ErrOutOfStock             = errors.New("out of stock")
	ErrItemNotFound           = errors.New("item not found")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
)

func OutOfStock(productID string, wanted, inStock int) error {
	return apperrors.New("OUT_OF_STOCK",
		fmt.Sprintf("product %s: %d requested but only %d in stock", productID, wanted, inStock),
		http.StatusConflict, ErrOutOfStock)
}

func ItemNotFound(productID string) error {
	return apperrors.New("ITEM_NOT_FOUND",
		fmt.Sprintf("product %s is not in the cart", productID),
		http.StatusNotFound, ErrItemNotFound)
}

func InvalidQuantity(quantity int) error {
	return apperrors.New("INVALID_QUANTITY",
		fmt.Sprintf("quantity must be at least 1, got %d", quantity),
		http.StatusBadRequest, ErrInvalidQuantity)
}

func InvalidPaymentMethod(method string, allowed PaymentMethodSet) error {
	return apperrors.New("INVALID_PAYMENT_METHOD",
		fmt.Sprintf("payment method %q is not one of: %s", method, strings.Join(allowed.List(), ", ")),
		http.StatusBadRequest, ErrInvalidPaymentMethod)
}

// PersistenceWriteFailed reports that the in-memory mutation stands but the
// named keys could not be written. cause stays reachable through errors.Is.
func PersistenceWriteFailed(keys []string, cause error) error {
	return apperrors.New("PERSISTENCE_WRITE_FAILED",
		"your cart was updated but could not be saved; changes may be lost if you leave",
		http.StatusInternalServerError,
		fmt.Errorf("%w: keys %s: %w", ErrPersistenceWriteFailed, strings.Join(keys, ","), cause))
}
