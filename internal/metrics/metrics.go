package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carstyle_orders_created_total",
		Help: "Total number of rental orders successfully created.",
	})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carstyle_status_transitions_total",
		Help: "Total number of successful order status transitions.",
	},
		[]string{"status"},
	)

	OrdersDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carstyle_orders_deleted_total",
		Help: "Total number of orders physically deleted.",
	})

	TxRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carstyle_tx_retries_total",
		Help: "Total number of transaction retries caused by lock contention.",
	},
		[]string{"operation"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carstyle_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	CarCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carstyle_car_cache_items",
		Help: "Current number of cars held in the catalog cache.",
	})
)
