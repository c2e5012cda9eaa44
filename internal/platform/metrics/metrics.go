package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the channel engine.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal            prometheus.Counter
	errorsTotal              prometheus.Counter
	channelsUp               prometheus.Gauge
	transcoderRestartsTotal  *prometheus.CounterVec
	scheduleGenerationsTotal *prometheus.CounterVec
	scheduleErrorsTotal      *prometheus.CounterVec
	adBreaksFilledTotal      *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the channel engine.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lineartv_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lineartv_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	channelsUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lineartv_channels_up",
		Help: "Number of channels whose transcoder process is currently running",
	})
	transcoderRestartsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lineartv_transcoder_restarts_total",
		Help: "Total number of transcoder restarts after an unexpected exit",
	}, []string{"channel"})
	scheduleGenerationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lineartv_schedule_generations_total",
		Help: "Total number of successfully generated daily schedules",
	}, []string{"channel"})
	scheduleErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lineartv_schedule_generation_errors_total",
		Help: "Total number of failed daily schedule generations",
	}, []string{"channel"})
	adBreaksFilledTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lineartv_ad_breaks_filled_total",
		Help: "Total number of ad breaks filled by the rotation engine",
	}, []string{"channel"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		channelsUp,
		transcoderRestartsTotal,
		scheduleGenerationsTotal,
		scheduleErrorsTotal,
		adBreaksFilledTotal,
	)

	return &Metrics{
		registry:                 registry,
		requestsTotal:            requestsTotal,
		errorsTotal:              errorsTotal,
		channelsUp:               channelsUp,
		transcoderRestartsTotal:  transcoderRestartsTotal,
		scheduleGenerationsTotal: scheduleGenerationsTotal,
		scheduleErrorsTotal:      scheduleErrorsTotal,
		adBreaksFilledTotal:      adBreaksFilledTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetChannelsUp sets the running channels gauge.
func (m *Metrics) SetChannelsUp(n int) {
	m.channelsUp.Set(float64(n))
}

// IncTranscoderRestarts increments the restart counter for a channel.
func (m *Metrics) IncTranscoderRestarts(channel string) {
	m.transcoderRestartsTotal.WithLabelValues(channel).Inc()
}

// IncScheduleGenerations increments the successful generation counter for a channel.
func (m *Metrics) IncScheduleGenerations(channel string) {
	m.scheduleGenerationsTotal.WithLabelValues(channel).Inc()
}

// IncScheduleErrors increments the failed generation counter for a channel.
func (m *Metrics) IncScheduleErrors(channel string) {
	m.scheduleErrorsTotal.WithLabelValues(channel).Inc()
}

// IncAdBreaksFilled increments the ad break counter for a channel.
func (m *Metrics) IncAdBreaksFilled(channel string) {
	m.adBreaksFilledTotal.WithLabelValues(channel).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. running channel count).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
