// Package metrics exports FTP client activity as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithMetrics(metrics.NewCollector(reg)),
//	)
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "ftpclient"

// Collector implements ftp.MetricsCollector on Prometheus vectors.
type Collector struct {
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	TransferBytes   *prometheus.CounterVec
	TransferSeconds *prometheus.HistogramVec
	DataConnections *prometheus.CounterVec
	DataConnectTime *prometheus.HistogramVec
	Connections     *prometheus.CounterVec
}

// NewCollector creates the metric vectors and registers them on reg. A nil
// reg leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "control",
				Name:      "commands_total",
				Help:      "Counter of completed commands by verb and reply code.",
			}, []string{"verb", "code"}),

		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "control",
				Name:      "command_seconds",
				Help:      "Time from writing a command to its completion reply.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			}, []string{"verb"}),

		TransferBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "data",
				Name:      "bytes_total",
				Help:      "Bytes moved over data connections.",
			}, []string{"verb"}),

		TransferSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "data",
				Name:      "transfer_seconds",
				Help:      "Duration of data transfers.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
			}, []string{"verb"}),

		DataConnections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "data",
				Name:      "connections_total",
				Help:      "Passive data connection attempts by outcome.",
			}, []string{"outcome"}),

		DataConnectTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "data",
				Name:      "connect_seconds",
				Help:      "Time to establish passive data connections.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),

		Connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "control",
				Name:      "connections_total",
				Help:      "Control connection attempts.",
			}, []string{"success", "reason"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.Commands,
			c.CommandDuration,
			c.TransferBytes,
			c.TransferSeconds,
			c.DataConnections,
			c.DataConnectTime,
			c.Connections,
		)
	}
	return c
}

func (c *Collector) RecordCommand(verb string, code int, duration time.Duration) {
	c.Commands.WithLabelValues(verb, strconv.Itoa(code)).Inc()
	c.CommandDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

func (c *Collector) RecordTransfer(verb string, bytes int64, duration time.Duration) {
	c.TransferBytes.WithLabelValues(verb).Add(float64(bytes))
	c.TransferSeconds.WithLabelValues(verb).Observe(duration.Seconds())
}

func (c *Collector) RecordDataConnection(outcome string, duration time.Duration) {
	c.DataConnections.WithLabelValues(outcome).Inc()
	c.DataConnectTime.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (c *Collector) RecordConnection(success bool, reason string) {
	c.Connections.WithLabelValues(strconv.FormatBool(success), reason).Inc()
}
