package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/harbor_relay/internal/delivery"
)

var (
	EnvelopesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrelay_envelopes_enqueued_total",
			Help: "Total number of envelopes accepted into the transport queue.",
		},
		[]string{"project"},
	)

	EnvelopesDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrelay_envelopes_delivered_total",
			Help: "Total number of envelopes acknowledged with a 2xx by the collector.",
		},
		[]string{"project"},
	)

	EnvelopesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrelay_envelopes_dropped_total",
			Help: "Total number of envelopes discarded without delivery, by reason.",
		},
		[]string{"reason"}, // queue_overflow, network_error, send_error, internal_sdk_error, transport_inactive
	)

	HTTPResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrelay_http_responses_total",
			Help: "Total number of collector responses by status code.",
		},
		[]string{"code"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harborrelay_delivery_latency_seconds",
			Help:    "Time spent in the HTTP call for one envelope.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"}, // delivered, failed
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harborrelay_queue_depth",
			Help: "Envelopes waiting in the transport queue.",
		},
	)

	ShutdownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborrelay_shutdowns_total",
			Help: "Transport shutdowns by result.",
		},
		[]string{"result"}, // success, timed_out
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harborrelay_nsq_channel_depth",
			Help: "Messages waiting in the relay's NSQ channel.",
		},
		[]string{"topic", "channel"},
	)

	NSQChannelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harborrelay_nsq_channel_inflight",
			Help: "Messages handed to the relay but not yet finished.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EnvelopesEnqueuedTotal,
		EnvelopesDeliveredTotal,
		EnvelopesDroppedTotal,
		HTTPResponsesTotal,
		DeliveryLatencySeconds,
		QueueDepth,
		ShutdownsTotal,
		NSQChannelDepth,
		NSQChannelInFlight,
	)
}

// RecordEnqueued counts an envelope accepted by Send
func RecordEnqueued(project string) {
	EnvelopesEnqueuedTotal.WithLabelValues(project).Inc()
}

// RecordDelivered counts a successful delivery and its latency
func RecordDelivered(project string, latency time.Duration) {
	EnvelopesDeliveredTotal.WithLabelValues(project).Inc()
	DeliveryLatencySeconds.WithLabelValues("delivered").Observe(latency.Seconds())
}

// RecordFailedAttempt observes the latency of an HTTP call that did not deliver
func RecordFailedAttempt(latency time.Duration) {
	DeliveryLatencySeconds.WithLabelValues("failed").Observe(latency.Seconds())
}

// RecordDropped counts a discarded envelope
func RecordDropped(reason delivery.Reason) {
	EnvelopesDroppedTotal.WithLabelValues(string(reason)).Inc()
}

// RecordHTTPResponse counts a collector response by status code
func RecordHTTPResponse(status int) {
	HTTPResponsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// SetQueueDepth updates the queue depth gauge
func SetQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// RecordShutdown counts a shutdown outcome
func RecordShutdown(result string) {
	ShutdownsTotal.WithLabelValues(result).Inc()
}

// UpdateNSQChannel records the backlog of the channel the relay consumes
func UpdateNSQChannel(topic, channel string, depth, inFlight int64) {
	NSQChannelDepth.WithLabelValues(topic, channel).Set(float64(depth))
	NSQChannelInFlight.WithLabelValues(topic, channel).Set(float64(inFlight))
}
