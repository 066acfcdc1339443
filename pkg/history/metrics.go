package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeRetained = "retained"
	outcomeDropped  = "dropped"
	outcomeSubject  = "subject"
)

var (
	messagesAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muc_history_messages_total",
		Help: "Messages offered to room history by outcome",
	}, []string{"outcome"})

	messagesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muc_history_evictions_total",
		Help: "Messages evicted to honour a retention bound",
	})

	replayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muc_history_replay_duration_seconds",
		Help:    "Time to copy and order a room history for playback",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~160ms
	})

	replayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muc_history_replay_failures_total",
		Help: "Replays rejected because a retained message had no delay stamp",
	})

	stateTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muc_history_state_transfers_total",
		Help: "State transfer encodes and decodes by result",
	}, []string{"direction", "result"})
)
