package cart

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront-cart/internal/domain"
	"github.com/utafrali/storefront-cart/internal/persistence"
)

// Eviction reasons recorded in cart_stores_evicted_total.
const (
	evictCapacity = "capacity"
	evictIdle     = "idle"
)

// evictCloseTimeout bounds the final flush of an evicted store.
const evictCloseTimeout = 10 * time.Second

// Registry holds open Stores by client id. Stores are hydrated on first use
// and closed, flushing pending writes, when they sit idle past the idle
// timeout or when the registry grows past its bound.
type Registry struct {
	backend     persistence.Backend
	methods     domain.PaymentMethodSet
	logger      *slog.Logger
	maxStores   int
	idleTimeout time.Duration
	now         func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	stores    map[string]*list.Element
	recent    *list.List // of *entry, most recently used first
	evicting  map[string]chan struct{}
	listeners []Listener
	closed    bool
	done      chan struct{}

	closing sync.WaitGroup
}

type entry struct {
	clientID string
	store    *Store
	lastUsed time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxStores bounds the stores held in memory. Opening one more closes the
// least recently used. Zero means no bound.
func WithMaxStores(n int) RegistryOption {
	return func(r *Registry) { r.maxStores = n }
}

// WithIdleTimeout closes stores unused for d. The next Get for such a client
// hydrates it again from the backend. Zero keeps idle stores open.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTimeout = d }
}

// NewRegistry creates a registry that opens stores on backend.
func NewRegistry(backend persistence.Backend, methods domain.PaymentMethodSet, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		backend:  backend,
		methods:  methods,
		logger:   logger,
		now:      time.Now,
		stores:   make(map[string]*list.Element),
		recent:   list.New(),
		evicting: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe attaches fn to every store, open now or opened later.
func (r *Registry) Subscribe(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, fn)
	for el := r.recent.Front(); el != nil; el = el.Next() {
		el.Value.(*entry).store.Subscribe(fn)
	}
}

// Get returns the store for clientID, opening it if needed. Concurrent first
// calls for the same client share one hydration.
func (r *Registry) Get(ctx context.Context, clientID string) (*Store, error) {
	if s, err := r.lookup(clientID); s != nil || err != nil {
		return s, err
	}

	v, err, _ := r.group.Do(clientID, func() (any, error) {
		if s, err := r.lookup(clientID); s != nil || err != nil {
			return s, err
		}

		// Hydration is shared by every waiting caller, so one caller
		// going away must not cancel it.
		openCtx := context.WithoutCancel(ctx)
		if err := r.awaitEviction(openCtx, clientID); err != nil {
			return nil, err
		}
		s, err := Open(openCtx, clientID, r.backend.Scope(clientID), r.logger, r.methods)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			if err := s.Close(ctx); err != nil {
				r.logger.ErrorContext(ctx, "cart flush after registry close failed",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
			}
			return nil, ErrClosed
		}
		for _, fn := range r.listeners {
			s.Subscribe(fn)
		}
		r.stores[clientID] = r.recent.PushFront(&entry{clientID: clientID, store: s, lastUsed: r.now()})
		storesOpen.Inc()

		for r.maxStores > 0 && r.recent.Len() > r.maxStores {
			r.evictLocked(r.recent.Back(), evictCapacity)
		}

		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// lookup returns the open store for clientID and marks it used. A store idle
// past the timeout is evicted and reported as absent.
func (r *Registry) lookup(clientID string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	el, ok := r.stores[clientID]
	if !ok {
		return nil, nil
	}
	e := el.Value.(*entry)
	now := r.now()
	if r.idle(e, now) {
		r.evictLocked(el, evictIdle)
		return nil, nil
	}
	e.lastUsed = now
	r.recent.MoveToFront(el)
	return e.store, nil
}

func (r *Registry) idle(e *entry, now time.Time) bool {
	return r.idleTimeout > 0 && now.Sub(e.lastUsed) > r.idleTimeout
}

// awaitEviction waits for a pending eviction of clientID so a new store never
// hydrates before the old one has flushed.
func (r *Registry) awaitEviction(ctx context.Context, clientID string) error {
	r.mu.Lock()
	flushed, ok := r.evicting[clientID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evictLocked drops el from the registry and closes its store in the
// background.
func (r *Registry) evictLocked(el *list.Element, reason string) {
	e := r.recent.Remove(el).(*entry)
	delete(r.stores, e.clientID)
	storesOpen.Dec()
	storesEvicted.WithLabelValues(reason).Inc()

	flushed := make(chan struct{})
	r.evicting[e.clientID] = flushed
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		defer func() {
			r.mu.Lock()
			if r.evicting[e.clientID] == flushed {
				delete(r.evicting, e.clientID)
			}
			r.mu.Unlock()
			close(flushed)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), evictCloseTimeout)
		defer cancel()
		if err := e.store.Close(ctx); err != nil {
			r.logger.ErrorContext(ctx, "evicted cart flush failed",
				slog.String("client_id", e.clientID),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.DebugContext(ctx, "cart evicted",
			slog.String("client_id", e.clientID),
			slog.String("reason", reason),
		)
	}()
}

// Sweep evicts every store idle past the timeout and returns how many it
// evicted.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.idleTimeout <= 0 {
		return 0
	}

	now := r.now()
	evicted := 0
	// recent is ordered by last use, so the idle stores sit at the back.
	for el := r.recent.Back(); el != nil && r.idle(el.Value.(*entry), now); el = r.recent.Back() {
		r.evictLocked(el, evictIdle)
		evicted++
	}
	return evicted
}

// Run sweeps idle stores until ctx is done or the registry is closed. It
// returns at once when no idle timeout is set.
func (r *Registry) Run(ctx context.Context) {
	if r.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(r.idleTimeout/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.InfoContext(ctx, "idle carts evicted", slog.Int("count", n))
			}
		}
	}
}

// Len returns the number of open stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recent.Len()
}

// Ping checks the persistence backend.
func (r *Registry) Ping(ctx context.Context) error {
	return r.backend.Ping(ctx)
}

// Close flushes and closes every open store and waits for evictions in
// flight. Writes that still fail are reported together; the registry is
// closed either way.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	entries := make([]*entry, 0, r.recent.Len())
	for el := r.recent.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*entry))
	}
	r.stores = make(map[string]*list.Element)
	r.recent.Init()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.store.Close(ctx); err != nil {
			r.logger.ErrorContext(ctx, "final cart flush failed",
				slog.String("client_id", e.clientID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
		storesOpen.Dec()
	}
	r.closing.Wait()

	r.logger.InfoContext(ctx, "cart registry closed", slog.Int("stores", len(entries)))
	return errors.Join(errs...)
}
