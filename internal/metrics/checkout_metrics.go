package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики для операций оформления покупки.
type CheckoutMetrics struct {
	// Счётчики исходов оформления
	checkoutStarted   prometheus.Counter
	checkoutFull      prometheus.Counter
	checkoutPartial   prometheus.Counter
	checkoutAllFailed prometheus.Counter
	checkoutRejected  prometheus.Counter

	// Компенсации при прерванном оформлении
	stockCompensations prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	// Счётчики событий
	receiptsIssued prometheus.Counter
	lowStockAlerts prometheus.Counter
	outboxEvents   prometheus.Counter
	cartRepairFail prometheus.Counter

	// Gauge для активных оформлений
	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик оформления.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_started_total",
			Help: "Total number of checkout attempts started",
		}),
		checkoutFull: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_fully_fulfilled_total",
			Help: "Total number of checkouts where every line was fulfilled",
		}),
		checkoutPartial: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_partially_fulfilled_total",
			Help: "Total number of checkouts fulfilled only partially",
		}),
		checkoutAllFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_all_failed_total",
			Help: "Total number of checkouts where no line could be fulfilled",
		}),
		checkoutRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_rejected_total",
			Help: "Total number of checkouts rejected before reservation",
		}),
		stockCompensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_stock_compensations_total",
			Help: "Total number of stock units returned after an aborted checkout",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		receiptsIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_receipts_issued_total",
			Help: "Total number of receipts issued",
		}),
		lowStockAlerts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_low_stock_alerts_total",
			Help: "Total number of low stock alerts raised",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		cartRepairFail: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_cart_repair_failures_total",
			Help: "Total number of cart updates that failed after receipt issuance",
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active",
			Help: "Number of currently running checkout operations",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает счётчик начатых оформлений.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
	m.activeCheckouts.Inc()
}

// RecordCheckoutFinished уменьшает количество активных оформлений.
func (m *CheckoutMetrics) RecordCheckoutFinished() {
	m.activeCheckouts.Dec()
}

// RecordFullyFulfilled увеличивает счётчик полностью выполненных оформлений.
func (m *CheckoutMetrics) RecordFullyFulfilled() {
	m.checkoutFull.Inc()
}

// RecordPartiallyFulfilled увеличивает счётчик частично выполненных оформлений.
func (m *CheckoutMetrics) RecordPartiallyFulfilled() {
	m.checkoutPartial.Inc()
}

// RecordAllFailed увеличивает счётчик оформлений без единой выполненной позиции.
func (m *CheckoutMetrics) RecordAllFailed() {
	m.checkoutAllFailed.Inc()
}

// RecordRejected увеличивает счётчик оформлений, отклонённых до резервирования.
func (m *CheckoutMetrics) RecordRejected() {
	m.checkoutRejected.Inc()
}

// RecordStockCompensation учитывает возврат зарезервированных единиц на склад.
func (m *CheckoutMetrics) RecordStockCompensation(units int) {
	m.stockCompensations.Add(float64(units))
}

// RecordCheckoutDuration записывает время выполнения оформления.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага оформления.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordReceiptIssued увеличивает счётчик выпущенных чеков.
func (m *CheckoutMetrics) RecordReceiptIssued() {
	m.receiptsIssued.Inc()
}

// RecordLowStockAlert увеличивает счётчик сигналов о низком остатке.
func (m *CheckoutMetrics) RecordLowStockAlert() {
	m.lowStockAlerts.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordCartRepairFailure учитывает сбой обновления корзины после выпуска чека.
func (m *CheckoutMetrics) RecordCartRepairFailure() {
	m.cartRepairFail.Inc()
}
