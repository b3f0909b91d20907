package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "noise_monitor_"

	AlertKindNewArea  = "new_area"
	AlertKindExisting = "existing"

	ClearResultCleared = "cleared"
	ClearResultStale   = "stale"
)

var (
	registerOnce sync.Once

	messagesReceived prometheus.Counter
	decodeErrors     *prometheus.CounterVec
	samplesRecorded  prometheus.Counter
	alertsTotal      *prometheus.CounterVec
	alertClears      *prometheus.CounterVec
	connectionEvents *prometheus.CounterVec
	historySamples   prometheus.Gauge
	connectionUp     prometheus.Gauge
)

// Init registers the collectors with the default registry. Helpers are no-ops
// until Init has run.
func Init() {
	registerOnce.Do(func() {
		messagesReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_received_total",
				Help: "Total MQTT messages handed to the ingestion engine",
			},
		)
		decodeErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_errors_total",
				Help: "Total dropped messages by decode failure reason",
			},
			[]string{"reason"},
		)
		samplesRecorded = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_recorded_total",
				Help: "Total noise samples appended to history",
			},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total alert events by area kind",
			},
			[]string{"kind"},
		)
		alertClears = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_clears_total",
				Help: "Total fired clear timers by outcome",
			},
			[]string{"result"},
		)
		connectionEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connection_events_total",
				Help: "Total broker connection events by type",
			},
			[]string{"event"},
		)
		historySamples = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "history_samples",
				Help: "Samples currently retained in the history store",
			},
		)
		connectionUp = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connection_up",
				Help: "1 while a broker session is established",
			},
		)

		prometheus.MustRegister(
			messagesReceived,
			decodeErrors,
			samplesRecorded,
			alertsTotal,
			alertClears,
			connectionEvents,
			historySamples,
			connectionUp,
		)
	})
}

func IncMessageReceived() {
	if messagesReceived != nil {
		messagesReceived.Inc()
	}
}

func IncDecodeError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(reason).Inc()
	}
}

func IncSampleRecorded(historyLen int) {
	if samplesRecorded != nil {
		samplesRecorded.Inc()
	}
	SetHistorySamples(historyLen)
}

func SetHistorySamples(n int) {
	if historySamples != nil {
		historySamples.Set(float64(n))
	}
}

func IncAlert(kind string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(kind).Inc()
	}
}

func IncAlertClear(result string) {
	if alertClears != nil {
		alertClears.WithLabelValues(result).Inc()
	}
}

func IncConnectionEvent(event string) {
	if connectionEvents != nil {
		connectionEvents.WithLabelValues(event).Inc()
	}
}

func SetConnectionUp(up bool) {
	if connectionUp == nil {
		return
	}
	if up {
		connectionUp.Set(1)
	} else {
		connectionUp.Set(0)
	}
}
