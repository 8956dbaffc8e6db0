package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market events stored"},
		[]string{"instrument", "kind"},
	)
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Market events rejected before reaching the store"},
		[]string{"reason"},
	)
	DecisionTicks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "decision_ticks_total", Help: "Decision loop iterations"},
	)
	DecisionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "decision_errors_total", Help: "Decision loop iterations that failed"},
	)
	TickOverruns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "decision_tick_overruns_total", Help: "Iterations that took longer than the interval"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted by the decision engine"},
		[]string{"action"},
	)
	ZeroFilled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "features_zero_filled_total", Help: "Schema features zero-filled because they were not computed"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	SupervisorRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "supervisor_restarts_total", Help: "Child restarts performed by the supervisor"},
	)
	SupervisorState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "supervisor_state", Help: "Current supervisor state (0 starting, 1 running, 2 backoff, 3 terminated)"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TicksDropped,
		DecisionTicks, DecisionErrors, TickOverruns,
		SignalsTotal, ZeroFilled, OrdersTotal,
		SupervisorRestarts, SupervisorState,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
