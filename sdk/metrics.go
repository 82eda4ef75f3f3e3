package assistant

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the client's counters. Dropped records matter most: the
// decoder tolerates malformed records in production, so protocol drift on
// the backend only shows up here.
type metrics struct {
	droppedRecords prometheus.Counter
	chatTurns      prometheus.Counter
	chatFailures   prometheus.Counter
	voiceConnects  prometheus.Counter
	voiceFailures  prometheus.Counter
}

// newMetrics creates the counter set and registers it on reg when reg is
// non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		droppedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_stream_dropped_records_total",
			Help: "Malformed stream records skipped by the decoder.",
		}),
		chatTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_chat_turns_total",
			Help: "Chat turns sent to the streaming endpoint.",
		}),
		chatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_chat_failures_total",
			Help: "Chat turns that ended in a synthesized failure message.",
		}),
		voiceConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_voice_connects_total",
			Help: "Voice session connection attempts.",
		}),
		voiceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_voice_failures_total",
			Help: "Voice session attempts that ended in the error state.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.droppedRecords, m.chatTurns, m.chatFailures, m.voiceConnects, m.voiceFailures)
	}
	return m
}
