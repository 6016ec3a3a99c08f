package cart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mutation results recorded in cart_mutations_total.
const (
	resultOK            = "ok"
	resultRejected      = "rejected"
	resultPersistFailed = "persist_failed"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Cart commands by operation and result.",
		},
		[]string{"op", "result"},
	)

	persistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_persistence_failures_total",
			Help: "Failed durable writes by key.",
		},
		[]string{"key"},
	)

	hydrationRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_hydration_repairs_total",
			Help: "Stored values dropped or discarded while opening a cart, by key.",
		},
		[]string{"key"},
	)

	storesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_stores_open",
		Help: "Carts currently held in memory.",
	})

	storesEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_stores_evicted_total",
			Help: "Carts closed and dropped from memory, by reason.",
		},
		[]string{"reason"},
	)

	listenerDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_listener_drops_total",
		Help: "Changes dropped because listeners fell too far behind.",
	})
)
