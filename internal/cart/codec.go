package cart

import (
	"encoding/json"
	"fmt"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

func encodeItems(items []domain.CartLineItem) ([]byte, error) {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal cart items: %w", err)
	}
	return data, nil
}

func encodeAddress(addr domain.ShippingAddress) ([]byte, error) {
	data, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	return data, nil
}

func encodePaymentMethod(method string) ([]byte, error) {
	data, err := json.Marshal(method)
	if err != nil {
		return nil, fmt.Errorf("marshal payment method: %w", err)
	}
	return data, nil
}

// decodeItems parses a stored item list and drops entries a cart could not
// have produced. Each dropped entry is described in the second result.
func decodeItems(data []byte) ([]domain.CartLineItem, []string, error) {
	var stored []domain.CartLineItem
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, nil, fmt.Errorf("unmarshal cart items: %w", err)
	}

	items := make([]domain.CartLineItem, 0, len(stored))
	var dropped []string
	seen := make(map[string]struct{}, len(stored))
	for i, it := range stored {
		switch {
		case it.ProductID == "":
			dropped = append(dropped, fmt.Sprintf("entry %d: empty productId", i))
		case it.Quantity < 1:
			dropped = append(dropped, fmt.Sprintf("entry %d (%s): quantity %d", i, it.ProductID, it.Quantity))
		case it.Price.IsNegative() || it.OfferPrice.IsNegative():
			dropped = append(dropped, fmt.Sprintf("entry %d (%s): negative price", i, it.ProductID))
		default:
			if _, dup := seen[it.ProductID]; dup {
				dropped = append(dropped, fmt.Sprintf("entry %d (%s): duplicate productId", i, it.ProductID))
				continue
			}
			seen[it.ProductID] = struct{}{}
			items = append(items, it)
		}
	}
	return items, dropped, nil
}

func decodeAddress(data []byte) (domain.ShippingAddress, error) {
	var addr domain.ShippingAddress
	if err := json.Unmarshal(data, &addr); err != nil {
		return domain.ShippingAddress{}, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := validator.Validate(addr); err != nil {
		return domain.ShippingAddress{}, fmt.Errorf("stored shipping address: %w", err)
	}
	return addr, nil
}

func decodePaymentMethod(data []byte, allowed domain.PaymentMethodSet) (string, error) {
	var method string
	if err := json.Unmarshal(data, &method); err != nil {
		return "", fmt.Errorf("unmarshal payment method: %w", err)
	}
	if !allowed.Allows(method) {
		return "", fmt.Errorf("stored payment method %q is not allowed", method)
	}
	return method, nil
}
