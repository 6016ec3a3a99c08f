// Package cart holds the cart state engine: one Store per storefront client,
// kept in memory and written through to a persistence.Store on every change.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/persistence"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
	"github.com/utafrali/storefront-cart/pkg/logger"
	"github.com/utafrali/storefront-cart/pkg/validator"
)

// MaxItemsPerCart is the maximum number of distinct line items in a cart.
const MaxItemsPerCart = 50

// maxPendingChanges bounds the changes a store holds for listeners that fall
// behind. Past it the oldest undelivered change is dropped.
const maxPendingChanges = 256

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("cart: store closed")

// Op names the command that produced a Change.
type Op string

const (
	OpAddItem            Op = "add_item"
	OpUpdateQuantity     Op = "update_quantity"
	OpRemoveItem         Op = "remove_item"
	OpClearCart          Op = "clear_cart"
	OpSetShippingAddress Op = "set_shipping_address"
	OpSetPaymentMethod   Op = "set_payment_method"
	OpClearSession       Op = "clear_session"
)

// Change is delivered to listeners after every successful command.
type Change struct {
	Op       Op
	Snapshot domain.Snapshot
}

// Listener observes changes. Each store delivers on its own goroutine after
// the command has returned, one change at a time in command order, so a slow
// listener delays later notifications but never a command. ctx carries the
// command's values without its cancellation.
type Listener func(ctx context.Context, change Change)

type subscription struct {
	id uint64
	fn Listener
}

// delivery is a committed change waiting for the listeners subscribed when
// it was committed.
type delivery struct {
	ctx       context.Context
	change    Change
	listeners []subscription
}

// Store owns one client's cart and checkout context. All commands are
// serialized; Snapshot never waits for them.
type Store struct {
	clientID string
	persist  persistence.Store
	methods  domain.PaymentMethodSet
	logger   *slog.Logger

	mu        sync.Mutex
	items     []domain.CartLineItem
	address   *domain.ShippingAddress
	method    string
	dirty     map[string]struct{}
	listeners []subscription
	nextSubID uint64
	closed    bool

	current atomic.Pointer[domain.Snapshot]

	queueMu  sync.Mutex
	queue    []delivery
	draining bool
	idle     chan struct{}
}

// Open hydrates the cart for clientID from persist. Missing or unreadable
// values start empty; a backend that cannot be reached fails Open so an
// empty cart never overwrites a durable one.
func Open(ctx context.Context, clientID string, persist persistence.Store, l *slog.Logger, methods domain.PaymentMethodSet) (*Store, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}
	if l == nil {
		l = slog.Default()
	}
	if methods.Len() == 0 {
		methods = domain.NewPaymentMethodSet(domain.DefaultPaymentMethods...)
	}

	s := &Store{
		clientID: clientID,
		persist:  persist,
		methods:  methods,
		logger:   l,
		dirty:    make(map[string]struct{}),
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, fmt.Errorf("open cart %s: %w", clientID, err)
	}
	s.publish()

	return s, nil
}

// ClientID returns the id the store was opened for.
func (s *Store) ClientID() string { return s.clientID }

// Snapshot returns an independent copy of the current state.
func (s *Store) Snapshot() domain.Snapshot {
	return copySnapshot(*s.current.Load())
}

// AddItem adds product to the cart. A product already in the cart has its
// quantity raised by one and its display fields refreshed; a new product is
// appended with quantity 1. requested, when positive, must also fit in the
// stock passed with product.
func (s *Store) AddItem(ctx context.Context, product domain.Product, requested int) (domain.Snapshot, error) {
	if err := product.Validate(); err != nil {
		return s.reject(OpAddItem, err)
	}
	if requested < 0 {
		return s.reject(OpAddItem, domain.InvalidQuantity(requested))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpAddItem, ErrClosed)
	}

	idx := domain.FindItemIndex(s.items, product.ID)
	quantity := 1
	if idx >= 0 {
		quantity = s.items[idx].Quantity + 1
	}
	if quantity > product.CountInStock || requested > product.CountInStock {
		return s.reject(OpAddItem, domain.OutOfStock(product.ID, max(quantity, requested), product.CountInStock))
	}
	if idx < 0 && len(s.items) >= MaxItemsPerCart {
		return s.reject(OpAddItem, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart)))
	}

	items := slices.Clone(s.items)
	if idx >= 0 {
		items[idx].Refresh(product)
		items[idx].Quantity = quantity
	} else {
		items = append(items, domain.LineItemFromProduct(product, quantity))
	}
	s.items = items

	s.log(ctx).InfoContext(ctx, "item added to cart",
		slog.String("product_id", product.ID),
		slog.Int("quantity", quantity),
	)
	return s.commit(ctx, OpAddItem, s.writeItems)
}

// UpdateQuantity sets the quantity of a line item in place.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpUpdateQuantity, ErrClosed)
	}

	idx := domain.FindItemIndex(s.items, productID)
	if idx < 0 {
		return s.reject(OpUpdateQuantity, domain.ItemNotFound(productID))
	}
	if quantity < 1 {
		return s.reject(OpUpdateQuantity, domain.InvalidQuantity(quantity))
	}
	if stock := s.items[idx].CountInStock; quantity > stock {
		return s.reject(OpUpdateQuantity, domain.OutOfStock(productID, quantity, stock))
	}

	items := slices.Clone(s.items)
	items[idx].Quantity = quantity
	s.items = items

	s.log(ctx).InfoContext(ctx, "cart item quantity updated",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)
	return s.commit(ctx, OpUpdateQuantity, s.writeItems)
}

// RemoveItem removes a line item. Removing a product that is not in the
// cart changes nothing: no write, no notification, no error.
func (s *Store) RemoveItem(ctx context.Context, productID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpRemoveItem, ErrClosed)
	}

	idx := domain.FindItemIndex(s.items, productID)
	if idx < 0 {
		return s.Snapshot(), nil
	}
	s.items = slices.Delete(slices.Clone(s.items), idx, idx+1)

	s.log(ctx).InfoContext(ctx, "item removed from cart", slog.String("product_id", productID))
	return s.commit(ctx, OpRemoveItem, s.writeItems)
}

// ClearCart empties the item list. The checkout context is kept.
func (s *Store) ClearCart(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpClearCart, ErrClosed)
	}

	s.items = []domain.CartLineItem{}

	s.log(ctx).InfoContext(ctx, "cart cleared")
	return s.commit(ctx, OpClearCart, s.writeItems)
}

// SetShippingAddress replaces the checkout shipping address. Every field is
// required; an incomplete address is rejected with a *validator.ValidationError
// and the previous address is kept.
func (s *Store) SetShippingAddress(ctx context.Context, addr domain.ShippingAddress) (domain.Snapshot, error) {
	if err := validator.Validate(addr); err != nil {
		return s.reject(OpSetShippingAddress, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpSetShippingAddress, ErrClosed)
	}

	s.address = &addr

	s.log(ctx).InfoContext(ctx, "shipping address set", slog.String("country", addr.Country))
	return s.commit(ctx, OpSetShippingAddress, s.writeAddress)
}

// SetPaymentMethod selects one of the allowed payment methods.
func (s *Store) SetPaymentMethod(ctx context.Context, method string) (domain.Snapshot, error) {
	if !s.methods.Allows(method) {
		return s.reject(OpSetPaymentMethod, domain.InvalidPaymentMethod(method, s.methods))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpSetPaymentMethod, ErrClosed)
	}

	s.method = method

	s.log(ctx).InfoContext(ctx, "payment method set", slog.String("payment_method", method))
	return s.commit(ctx, OpSetPaymentMethod, s.writePaymentMethod)
}

// ClearSession drops the shipping address and payment method on sign-out.
// Items are kept.
func (s *Store) ClearSession(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.reject(OpClearSession, ErrClosed)
	}

	s.address = nil
	s.method = ""

	s.log(ctx).InfoContext(ctx, "checkout session cleared")
	return s.commit(ctx, OpClearSession, func(ctx context.Context) error {
		return errors.Join(s.writeAddress(ctx), s.writePaymentMethod(ctx))
	})
}

// Subscribe registers fn for every later change. The returned function
// removes it and is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription) bool { return sub.id == id })
		})
	}
}

// Flush retries every key whose last write failed.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Drain waits until every change committed so far has been handed to its
// listeners, or until ctx is done.
func (s *Store) Drain(ctx context.Context) error {
	s.queueMu.Lock()
	if !s.draining {
		s.queueMu.Unlock()
		return nil
	}
	idle := s.idle
	s.queueMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes, waits for listeners to catch up and rejects
// further commands. Snapshot keeps working. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.listeners = nil
	err := s.flushLocked(ctx)
	s.mu.Unlock()

	return errors.Join(err, s.Drain(ctx))
}

func (s *Store) flushLocked(ctx context.Context) error {
	if len(s.dirty) == 0 {
		return nil
	}

	writers := map[string]func(context.Context) error{
		persistence.KeyCartItems:       s.writeItems,
		persistence.KeyShippingAddress: s.writeAddress,
		persistence.KeyPaymentMethod:   s.writePaymentMethod,
	}
	var errs []error
	for _, key := range persistence.Keys {
		if _, ok := s.dirty[key]; ok {
			errs = append(errs, writers[key](ctx))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return domain.PersistenceWriteFailed(s.dirtyKeys(), err)
	}

	s.log(ctx).InfoContext(ctx, "pending cart writes flushed")
	return nil
}

// commit persists the touched keys, publishes the new snapshot and notifies
// listeners. A failed write keeps the in-memory change.
func (s *Store) commit(ctx context.Context, op Op, write func(context.Context) error) (domain.Snapshot, error) {
	var result error
	if err := write(ctx); err != nil {
		result = domain.PersistenceWriteFailed(s.dirtyKeys(), err)
		s.log(ctx).ErrorContext(ctx, "cart change kept in memory but not persisted",
			slog.String("op", string(op)),
			slog.String("error", err.Error()),
		)
		mutationsTotal.WithLabelValues(string(op), resultPersistFailed).Inc()
	} else {
		mutationsTotal.WithLabelValues(string(op), resultOK).Inc()
	}

	snap := s.publish()
	s.notify(ctx, Change{Op: op, Snapshot: snap})

	return copySnapshot(snap), result
}

func (s *Store) reject(op Op, err error) (domain.Snapshot, error) {
	mutationsTotal.WithLabelValues(string(op), resultRejected).Inc()
	return s.Snapshot(), err
}

func (s *Store) publish() domain.Snapshot {
	snap := domain.NewSnapshot(s.clientID, s.items, s.address, s.method)
	s.current.Store(&snap)
	return snap
}

// notify queues change for the current listeners. It runs under s.mu, so
// queue order is command order.
func (s *Store) notify(ctx context.Context, change Change) {
	if len(s.listeners) == 0 {
		return
	}
	d := delivery{
		ctx:       context.WithoutCancel(ctx),
		change:    change,
		listeners: slices.Clone(s.listeners),
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) >= maxPendingChanges {
		dropped := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		listenerDrops.Inc()
		s.log(ctx).WarnContext(ctx, "cart listeners behind, dropping oldest change",
			slog.String("op", string(dropped.change.Op)),
			slog.Int("pending", len(s.queue)),
		)
	}
	s.queue = append(s.queue, d)
	if !s.draining {
		s.draining = true
		s.idle = make(chan struct{})
		go s.deliver()
	}
}

// deliver hands queued changes to listeners until the queue is empty. At most
// one deliver runs per store.
func (s *Store) deliver() {
	for {
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			close(s.idle)
			s.queueMu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		for _, sub := range d.listeners {
			s.callListener(d.ctx, sub.fn, Change{Op: d.change.Op, Snapshot: copySnapshot(d.change.Snapshot)})
		}
	}
}

func (s *Store) callListener(ctx context.Context, fn Listener, change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).ErrorContext(ctx, "cart listener panicked",
				slog.String("op", string(change.Op)),
				slog.Any("panic", r),
			)
		}
	}()
	fn(ctx, change)
}

func (s *Store) writeItems(ctx context.Context) error {
	data, err := encodeItems(s.items)
	if err != nil {
		return err
	}
	return s.write(ctx, persistence.KeyCartItems, data)
}

func (s *Store) writeAddress(ctx context.Context) error {
	if s.address == nil {
		return s.remove(ctx, persistence.KeyShippingAddress)
	}
	data, err := encodeAddress(*s.address)
	if err != nil {
		return err
	}
	return s.write(ctx, persistence.KeyShippingAddress, data)
}

func (s *Store) writePaymentMethod(ctx context.Context) error {
	if s.method == "" {
		return s.remove(ctx, persistence.KeyPaymentMethod)
	}
	data, err := encodePaymentMethod(s.method)
	if err != nil {
		return err
	}
	return s.write(ctx, persistence.KeyPaymentMethod, data)
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	return s.track(key, s.persist.Set(ctx, key, data))
}

func (s *Store) remove(ctx context.Context, key string) error {
	return s.track(key, s.persist.Delete(ctx, key))
}

func (s *Store) track(key string, err error) error {
	if err != nil {
		s.dirty[key] = struct{}{}
		persistenceFailures.WithLabelValues(key).Inc()
		return fmt.Errorf("write %s: %w", key, err)
	}
	delete(s.dirty, key)
	return nil
}

func (s *Store) dirtyKeys() []string {
	keys := make([]string, 0, len(s.dirty))
	for _, key := range persistence.Keys {
		if _, ok := s.dirty[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *Store) hydrate(ctx context.Context) error {
	if raw, ok, err := s.load(ctx, persistence.KeyCartItems); err != nil {
		return err
	} else if ok {
		items, dropped, err := decodeItems(raw)
		if err != nil {
			s.discard(ctx, persistence.KeyCartItems, err)
		} else {
			for _, reason := range dropped {
				s.discard(ctx, persistence.KeyCartItems, errors.New(reason))
			}
			s.items = items
		}
	}

	if raw, ok, err := s.load(ctx, persistence.KeyShippingAddress); err != nil {
		return err
	} else if ok {
		addr, err := decodeAddress(raw)
		if err != nil {
			s.discard(ctx, persistence.KeyShippingAddress, err)
		} else {
			s.address = &addr
		}
	}

	if raw, ok, err := s.load(ctx, persistence.KeyPaymentMethod); err != nil {
		return err
	} else if ok {
		method, err := decodePaymentMethod(raw, s.methods)
		if err != nil {
			s.discard(ctx, persistence.KeyPaymentMethod, err)
		} else {
			s.method = method
		}
	}

	if s.items == nil {
		s.items = []domain.CartLineItem{}
	}
	s.log(ctx).DebugContext(ctx, "cart hydrated",
		slog.Int("items", len(s.items)),
		slog.Bool("has_address", s.address != nil),
		slog.Bool("has_payment_method", s.method != ""),
	)
	return nil
}

func (s *Store) load(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.persist.Get(ctx, key)
	switch {
	case errors.Is(err, persistence.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *Store) discard(ctx context.Context, key string, reason error) {
	hydrationRepairs.WithLabelValues(key).Inc()
	s.log(ctx).WarnContext(ctx, "discarding stored cart value",
		slog.String("key", key),
		slog.String("reason", reason.Error()),
	)
}

func (s *Store) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(logger.WithClientID(ctx, s.clientID), s.logger)
}

func copySnapshot(snap domain.Snapshot) domain.Snapshot {
	return domain.NewSnapshot(snap.ClientID, snap.Items, snap.ShippingAddress, snap.PaymentMethod)
}
