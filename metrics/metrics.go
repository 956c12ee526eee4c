package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Outcome string

const (
	Success Outcome = "success"
	Error   Outcome = "error"
)

func (O Outcome) String() string {
	return string(O)
}

func OutcomeOf(err error) Outcome {
	if err != nil {
		return Error
	}
	return Success
}

var (
	once          sync.Once
	registerOnce  sync.Once
	metricsRouter *chi.Mux

	releasesTotal        *prometheus.CounterVec
	nonceReplaysTotal    prometheus.Counter
	stepDuration         *prometheus.HistogramVec
	rpcRequestDuration   *prometheus.HistogramVec
	watcherDegraded      prometheus.Gauge
	watcherScannedHeight prometheus.Gauge
)

// Init starts the /metrics endpoint on metricsPort
func Init(metricsPort int) {
	once.Do(func() {
		register()
		initMetricsRouter(metricsPort)
	})
}

func initMetricsRouter(metricsPort int) {
	metricsRouter = chi.NewRouter()
	metricsRouter.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	go func() {
		metricsAddr := fmt.Sprintf(":%d", metricsPort)
		err := http.ListenAndServe(metricsAddr, metricsRouter)
		if err != nil {
			log.Fatal().Err(err).Msgf("error starting metrics server on %s", metricsAddr)
		}
	}()
}

// register creates the collectors. Recording before Init is fine, the
// values are just not exported.
func register() {
	registerOnce.Do(func() {
		defaultHistogramBucketsSeconds := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

		releasesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_releases_total",
				Help: "Release records moved into a status.",
			},
			[]string{"status"},
		)
		nonceReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_nonce_replays_total",
			Help: "Bridge requests short-circuited because the nonce was already handled.",
		})
		stepDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_pipeline_step_duration_seconds",
				Help:    "Duration of a pipeline step from build to confirmation.",
				Buckets: defaultHistogramBucketsSeconds,
			},
			[]string{"action", "outcome"},
		)
		rpcRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_casper_rpc_duration_seconds",
				Help:    "Casper node JSON-RPC call latency.",
				Buckets: defaultHistogramBucketsSeconds,
			},
			[]string{"method", "outcome"},
		)
		watcherDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_watcher_degraded",
			Help: "1 while the source chain subscription is down.",
		})
		watcherScannedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_watcher_scanned_block",
			Help: "Last source chain block fully scanned for deposits.",
		})

		prometheus.MustRegister(
			releasesTotal,
			nonceReplaysTotal,
			stepDuration,
			rpcRequestDuration,
			watcherDegraded,
			watcherScannedHeight,
		)
	})
}

func RecordRelease(status string) {
	register()
	releasesTotal.WithLabelValues(status).Inc()
}

func RecordNonceReplay() {
	register()
	nonceReplaysTotal.Inc()
}

func SetWatcherDegraded(degraded bool) {
	register()
	if degraded {
		watcherDegraded.Set(1)
		return
	}
	watcherDegraded.Set(0)
}

func SetScannedBlock(height uint64) {
	register()
	watcherScannedHeight.Set(float64(height))
}

// StartStepTimer measures one pipeline step
func StartStepTimer(action string) func(err error) {
	register()
	startTime := time.Now()
	return func(err error) {
		stepDuration.WithLabelValues(action, OutcomeOf(err).String()).Observe(time.Since(startTime).Seconds())
	}
}

// StartRPCTimer measures one node call
func StartRPCTimer(method string) func(err error) {
	register()
	startTime := time.Now()
	return func(err error) {
		rpcRequestDuration.WithLabelValues(method, OutcomeOf(err).String()).Observe(time.Since(startTime).Seconds())
	}
}
