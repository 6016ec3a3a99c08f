// Package persistencetest holds behaviour checks shared by every backend.
package persistencetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront-cart/internal/persistence"
)

// Run exercises b against the Store and Backend contracts.
func Run(t *testing.T, b persistence.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := b.Scope("suite-missing").Get(ctx, persistence.KeyCartItems)
		assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := b.Scope("suite-roundtrip")
		value := []byte(`[{"productId":"A","quantity":1}]`)
		require.NoError(t, s.Set(ctx, persistence.KeyCartItems, value))

		got, err := s.Get(ctx, persistence.KeyCartItems)
		require.NoError(t, err)
		assert.JSONEq(t, string(value), string(got))
	})

	t.Run("overwrite", func(t *testing.T) {
		s := b.Scope("suite-overwrite")
		require.NoError(t, s.Set(ctx, persistence.KeyPaymentMethod, []byte(`"PayPal"`)))
		require.NoError(t, s.Set(ctx, persistence.KeyPaymentMethod, []byte(`"CashOnDelivery"`)))

		got, err := s.Get(ctx, persistence.KeyPaymentMethod)
		require.NoError(t, err)
		assert.JSONEq(t, `"CashOnDelivery"`, string(got))
	})

	t.Run("delete", func(t *testing.T) {
		s := b.Scope("suite-delete")
		require.NoError(t, s.Set(ctx, persistence.KeyShippingAddress, []byte(`{"city":"Oslo"}`)))
		require.NoError(t, s.Delete(ctx, persistence.KeyShippingAddress))

		_, err := s.Get(ctx, persistence.KeyShippingAddress)
		assert.ErrorIs(t, err, persistence.ErrKeyNotFound)

		assert.NoError(t, s.Delete(ctx, persistence.KeyShippingAddress), "deleting twice")
	})

	t.Run("clients are isolated", func(t *testing.T) {
		a, other := b.Scope("suite-a"), b.Scope("suite-b")
		require.NoError(t, a.Set(ctx, persistence.KeyCartItems, []byte(`[]`)))

		_, err := other.Get(ctx, persistence.KeyCartItems)
		assert.ErrorIs(t, err, persistence.ErrKeyNotFound)
	})

	t.Run("returned bytes are a copy", func(t *testing.T) {
		s := b.Scope("suite-copy")
		require.NoError(t, s.Set(ctx, persistence.KeyPaymentMethod, []byte(`"PayPal"`)))

		got, err := s.Get(ctx, persistence.KeyPaymentMethod)
		require.NoError(t, err)
		got[1] = 'X'

		again, err := s.Get(ctx, persistence.KeyPaymentMethod)
		require.NoError(t, err)
		assert.JSONEq(t, `"PayPal"`, string(again))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, b.Ping(ctx))
	})
}
