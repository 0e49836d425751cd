package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "inkboard_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	rendersTotal  *prometheus.CounterVec
	renderLatency *prometheus.HistogramVec

	pushesTotal  *prometheus.CounterVec
	pushLatency  *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec

	schedulerState *prometheus.GaugeVec
	sleepMinutes   prometheus.Gauge
	discoveredDevs prometheus.Gauge
)

// Init registers metrics with the default Prometheus registry.
func Init() {
	registerOnce.Do(func() {
		rendersTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "renders_total",
				Help: "Total screen renders by screen and result",
			},
			[]string{"screen", "result"},
		)
		renderLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "render_latency_seconds",
				Help:    "Screen render latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"screen"},
		)

		pushesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pushes_total",
				Help: "Total image pushes by device and result",
			},
			[]string{"device", "result"},
		)
		pushLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "push_latency_seconds",
				Help:    "Image push latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Total cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		schedulerState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "scheduler_state",
				Help: "1 for the current scheduler state, 0 otherwise",
			},
			[]string{"state"},
		)
		sleepMinutes = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sleep_minutes",
				Help: "Minutes of the most recent inactive-window wait",
			},
		)
		discoveredDevs = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices",
				Help: "Number of target devices in the registry",
			},
		)

		prometheus.MustRegister(
			rendersTotal,
			renderLatency,
			pushesTotal,
			pushLatency,
			cacheLookups,
			schedulerState,
			sleepMinutes,
			discoveredDevs,
		)
	})
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// ObserveRender records one render attempt.
func ObserveRender(screen string, duration time.Duration, err error) {
	if rendersTotal != nil {
		rendersTotal.WithLabelValues(screen, result(err)).Inc()
	}
	if renderLatency != nil {
		renderLatency.WithLabelValues(screen).Observe(duration.Seconds())
	}
}

// ObservePush records one device push attempt.
func ObservePush(deviceID string, duration time.Duration, err error) {
	res := result(err)
	if pushesTotal != nil {
		pushesTotal.WithLabelValues(deviceID, res).Inc()
	}
	if pushLatency != nil {
		pushLatency.WithLabelValues(res).Observe(duration.Seconds())
	}
}

// IncCacheLookup counts a cache outcome such as "fresh" or "stale".
func IncCacheLookup(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(outcome).Inc()
	}
}

// SetSchedulerState marks state as current and clears the others.
func SetSchedulerState(state string, all ...string) {
	if schedulerState == nil {
		return
	}
	for _, s := range all {
		schedulerState.WithLabelValues(s).Set(0)
	}
	schedulerState.WithLabelValues(state).Set(1)
}

// SetSleepMinutes records the length of the current inactive wait.
func SetSleepMinutes(minutes int) {
	if sleepMinutes != nil {
		sleepMinutes.Set(float64(minutes))
	}
}

// SetDevices records the registry size.
func SetDevices(n int) {
	if discoveredDevs != nil {
		discoveredDevs.Set(float64(n))
	}
}
