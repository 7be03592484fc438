package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart add/remove operations by outcome",
	}, []string{"op", "result"})

	CartCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_cache_lookups_total",
		Help: "Cart cache lookups by hit or miss",
	}, []string{"result"})

	CartMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_merges_total",
		Help: "Session carts reassigned to a user on sign-in",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	CheckoutRedirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_redirects_total",
		Help: "Checkout attempts sent back to a remediation step",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders successfully paid",
	}, []string{"kind"})

	DuplicateSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_settlements_total",
		Help: "Pay transitions rejected because the order was already paid",
	}, []string{"kind"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"kind", "reason"})

	StockOversoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_oversold_total",
		Help: "Stock decrements that left a product below zero",
	})

	OrdersDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_delivered_total",
		Help: "Total number of orders marked delivered",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Card processor webhook events by type and outcome",
	}, []string{"type", "outcome"})

	PaymentProcessorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_processor_latency_seconds",
		Help:    "Latency of calls to external payment processors",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor", "operation"})

	ReceiptsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_sent_total",
		Help: "Purchase receipts handed to the notification sender",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
