package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

// Amount is a money value with exact decimal arithmetic. It encodes as a
// plain JSON number and decodes from either a number or a quoted string.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// ParseAmount parses a decimal string such as "19.99".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{Decimal: d}, nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// Product is the catalog snapshot a caller passes when adding to the cart.
// Values are trusted as given; the cart never fetches products itself.
type Product struct {
	ID           string `validate:"required,max=128"`
	Name         string `validate:"max=512"`
	Slug         string
	Image        string
	Price        Amount
	OfferPrice   Amount
	CountInStock int `validate:"gte=0"`
}

// Validate checks the fields a cart relies on. Display fields are optional.
func (p Product) Validate() error {
	if err := validator.Validate(p); err != nil {
		return err
	}
	if p.Price.IsNegative() || p.OfferPrice.IsNegative() {
		return apperrors.InvalidInput(fmt.Sprintf("product %s has a negative price", p.ID))
	}
	return nil
}

// CartLineItem is one row of the cart. Display fields are captured when the
// product is added and are not re-fetched.
type CartLineItem struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Image        string `json:"image"`
	Price        Amount `json:"price"`
	OfferPrice   Amount `json:"offerPrice"`
	CountInStock int    `json:"countInStock"`
	Quantity     int    `json:"quantity"`
}

// LineItemFromProduct builds a line item for p with the given quantity.
func LineItemFromProduct(p Product, quantity int) CartLineItem {
	return CartLineItem{
		ProductID:    p.ID,
		Name:         p.Name,
		Slug:         p.Slug,
		Image:        p.Image,
		Price:        p.Price,
		OfferPrice:   p.OfferPrice,
		CountInStock: p.CountInStock,
		Quantity:     quantity,
	}
}

// Refresh replaces the snapshot fields with p's, keeping the quantity.
func (li *CartLineItem) Refresh(p Product) {
	*li = LineItemFromProduct(p, li.Quantity)
}

// LineTotal returns quantity × price.
func (li CartLineItem) LineTotal() Amount {
	return NewAmount(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
}

// ShippingAddress is the delivery address chosen at checkout.
type ShippingAddress struct {
	FullName   string `json:"fullName" validate:"required,max=256"`
	Street     string `json:"street" validate:"required,max=512"`
	City       string `json:"city" validate:"required,max=128"`
	PostalCode string `json:"postalCode" validate:"required,max=32"`
	Country    string `json:"country" validate:"required,max=128"`
}

// Snapshot is an independent copy of a client's cart and checkout context
// with derived totals. Mutating it never affects the store it came from.
type Snapshot struct {
	ClientID        string           `json:"clientId"`
	Items           []CartLineItem   `json:"items"`
	ShippingAddress *ShippingAddress `json:"shippingAddress,omitempty"`
	PaymentMethod   string           `json:"paymentMethod,omitempty"`
	ItemCount       int              `json:"itemCount"`
	ItemsSubtotal   Amount           `json:"itemsSubtotal"`
}

// NewSnapshot copies items and address and computes the derived totals.
func NewSnapshot(clientID string, items []CartLineItem, address *ShippingAddress, method string) Snapshot {
	s := Snapshot{
		ClientID:      clientID,
		Items:         slices.Clone(items),
		PaymentMethod: method,
		ItemCount:     ItemCount(items),
		ItemsSubtotal: ItemsSubtotal(items),
	}
	if s.Items == nil {
		s.Items = []CartLineItem{}
	}
	if address != nil {
		addr := *address
		s.ShippingAddress = &addr
	}
	return s
}

// ItemCount returns the sum of quantities.
func ItemCount(items []CartLineItem) int {
	var n int
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// ItemsSubtotal returns the sum of quantity × price. Offer prices are
// display-only and do not enter the subtotal.
func ItemsSubtotal(items []CartLineItem) Amount {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal().Decimal)
	}
	return NewAmount(total)
}

// FindItemIndex returns the index of productID in items, or -1.
func FindItemIndex(items []CartLineItem, productID string) int {
	return slices.IndexFunc(items, func(it CartLineItem) bool { return it.ProductID == productID })
}

// Payment methods accepted out of the box.
const (
	PaymentPayPal         = "PayPal"
	PaymentCashOnDelivery = "CashOnDelivery"
)

// DefaultPaymentMethods is the allowed set used when none is configured.
var DefaultPaymentMethods = []string{PaymentPayPal, PaymentCashOnDelivery}

// PaymentMethodSet is the fixed set of payment methods a cart may select.
type PaymentMethodSet struct {
	methods map[string]struct{}
}

// NewPaymentMethodSet builds a set from methods, ignoring blanks.
// Matching is exact and case-sensitive.
func NewPaymentMethodSet(methods ...string) PaymentMethodSet {
	s := PaymentMethodSet{methods: make(map[string]struct{}, len(methods))}
	for _, m := range methods {
		if m = strings.TrimSpace(m); m != "" {
			s.methods[m] = struct{}{}
		}
	}
	return s
}

// Allows reports whether method is in the set.
func (s PaymentMethodSet) Allows(method string) bool {
	_, ok := s.methods[method]
	return ok
}

// List returns the methods in lexical order.
func (s PaymentMethodSet) List() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func (s PaymentMethodSet) Len() int { return len(s.methods) }
