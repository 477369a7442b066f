package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homekit_combivox"

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "state",
	Help:      "HomeKit security system state, -1 when unknown",
})

var alarmByteGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "raw_state",
	Help:      "alarm byte of the status string",
})

var anomalyGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "anomaly",
	Help:      "anomaly byte of the status string",
})

var areaArmedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "area",
	Name:      "armed",
}, []string{"name"})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "zone",
	Name:      "open",
}, []string{"name"})

var bypassedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "zone",
	Name:      "bypassed",
}, []string{"name"})

var memoryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "zone",
	Name:      "alarm_memory",
}, []string{"name"})

var outputGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "output",
	Name:      "on",
}, []string{"name"})

var gsmSignalGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "gsm",
	Name:      "signal_percent",
})

var pollFailuresGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "poller",
	Name:      "consecutive_failures",
})

var unavailableGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "poller",
	Name:      "unavailable",
})

var commandCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "commands_total",
})

var commandErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "command_errors_total",
})

var httpRequestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "http_requests_total",
	Help:      "requests sent to the panel web interface",
}, []string{"code", "method"})

// instrumented counts every request the client sends to the panel.
func instrumented(rt http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(httpRequestCounter, rt)
}
