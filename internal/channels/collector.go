package channels

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	deploysDesc = prometheus.NewDesc("agentline_channel_deploys_total",
		"Successful channel deploys.", []string{"channel"}, nil)
	disconnectsDesc = prometheus.NewDesc("agentline_channel_disconnects_total",
		"Channel disconnects, explicit and unexpected.", []string{"channel"}, nil)
	reconnectsDesc = prometheus.NewDesc("agentline_channel_reconnect_attempts_total",
		"Reconnect attempts run by the supervisor.", []string{"channel"}, nil)
	receivedDesc = prometheus.NewDesc("agentline_channel_messages_received_total",
		"Inbound provider events received.", []string{"channel"}, nil)
	sentDesc = prometheus.NewDesc("agentline_channel_messages_sent_total",
		"Replies delivered to the provider.", []string{"channel"}, nil)
	failedDesc = prometheus.NewDesc("agentline_channel_messages_failed_total",
		"Replies that failed to send.", []string{"channel"}, nil)
	errorsDesc = prometheus.NewDesc("agentline_channel_errors_total",
		"Errors by channel and error code.", []string{"channel", "code"}, nil)
)

// Collector exposes the manager's per-channel counters to Prometheus.
type Collector struct {
	manager *Manager
}

// Collector returns a prometheus.Collector over the manager's channel
// metrics, suitable for registration on a metrics registry.
func (m *Manager) Collector() prometheus.Collector {
	return &Collector{manager: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- deploysDesc
	ch <- disconnectsDesc
	ch <- reconnectsDesc
	ch <- receivedDesc
	ch <- sentDesc
	ch <- failedDesc
	ch <- errorsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for kind := range c.manager.metrics {
		snap := c.manager.Metrics(kind)
		label := string(kind)

		ch <- prometheus.MustNewConstMetric(deploysDesc, prometheus.CounterValue, float64(snap.Deploys), label)
		ch <- prometheus.MustNewConstMetric(disconnectsDesc, prometheus.CounterValue, float64(snap.Disconnects), label)
		ch <- prometheus.MustNewConstMetric(reconnectsDesc, prometheus.CounterValue, float64(snap.ReconnectAttempts), label)
		ch <- prometheus.MustNewConstMetric(receivedDesc, prometheus.CounterValue, float64(snap.MessagesReceived), label)
		ch <- prometheus.MustNewConstMetric(sentDesc, prometheus.CounterValue, float64(snap.MessagesSent), label)
		ch <- prometheus.MustNewConstMetric(failedDesc, prometheus.CounterValue, float64(snap.MessagesFailed), label)

		for code, n := range snap.ErrorsByCode {
			ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(n), label, string(code))
		}
	}
}
