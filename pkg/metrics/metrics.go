package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ItemsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_items_read_total",
			Help: "Number of items decoded from the destination",
		},
		[]string{"destination", "kind"}, // kind: object|map|text|envelope
	)
	ReadTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_read_timeouts_total",
			Help: "Number of reads that ended the stream because no message arrived in time",
		},
		[]string{"destination"},
	)
	ReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_read_errors_total",
			Help: "Number of failed reads",
		},
		[]string{"destination", "reason"}, // receive|decode|validation|unsupported|wire
	)
	MessagesFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_filtered_total",
			Help: "Number of messages dropped by the consumer filter expression",
		},
		[]string{"destination"},
	)
	ConsumerReleaseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mq_consumer_release_failures_total",
			Help: "Number of consumer close failures swallowed on teardown",
		},
	)
)

var (
	ChunksWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_chunks_written_total",
			Help: "Number of chunks handed to the item writer",
		},
	)
	ItemsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_items_written_total",
			Help: "Number of items written",
		},
	)
	ItemsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_skipped_total",
			Help: "Number of items skipped by the skip policy",
		},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

// MustRegister — регистрирует метрики в дефолтном реестре; повторный вызов — no-op.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ItemsRead, ReadTimeouts, ReadErrors, MessagesFiltered, ConsumerReleaseFailures,
			ChunksWritten, ItemsWritten, ItemsSkipped,
		)
	})
}
