// Package persistence defines the durable key/value space a cart reads on
// open and writes through on every mutation.
package persistence

import (
	"context"
	"errors"
)

// Keys written by the cart. Values are JSON.
const (
	KeyCartItems       = "cartItems"
	KeyShippingAddress = "shippingAddress"
	KeyPaymentMethod   = "paymentMethod"
)

// Keys lists every key in the order the cart hydrates them.
var Keys = []string{KeyCartItems, KeyShippingAddress, KeyPaymentMethod}

// ErrKeyNotFound is returned by Store.Get for a key that was never written
// or has been deleted.
var ErrKeyNotFound = errors.New("persistence: key not found")

// Store is one client's key/value space.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend hands out per-client stores over a shared connection.
type Backend interface {
	Scope(clientID string) Store
	Ping(ctx context.Context) error
	Close() error
}
