package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Recorder on a prometheus registry.
type Prometheus struct {
	connectionEvents *prometheus.CounterVec
	messagesPosted   *prometheus.CounterVec
	messageLength    *prometheus.HistogramVec
	pushOutcomes     *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// NewPrometheus registers the sync subsystem's collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		connectionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_connection_events_total",
			Help: "Connection lifecycle events by type and room",
		}, []string{"event", "room"}),
		messagesPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_messages_posted_total",
			Help: "Messages durably appended by room",
		}, []string{"room"}),
		messageLength: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatsync_message_length_chars",
			Help:    "Message body length distribution",
			Buckets: []float64{10, 25, 50, 100, 250, 500},
		}, []string{"room"}),
		pushOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_push_outcomes_total",
			Help: "Per-connection broadcast outcomes by room and result",
		}, []string{"room", "outcome"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatsync_dispatch_duration_seconds",
			Help:    "Room fan-out duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"room"}),
	}
}

func (p *Prometheus) ConnectionEvent(event, roomID string) {
	p.connectionEvents.WithLabelValues(event, roomID).Inc()
}

func (p *Prometheus) MessagePosted(roomID string, textLen int) {
	p.messagesPosted.WithLabelValues(roomID).Inc()
	p.messageLength.WithLabelValues(roomID).Observe(float64(textLen))
}

func (p *Prometheus) PushOutcome(roomID, outcome string) {
	p.pushOutcomes.WithLabelValues(roomID, outcome).Inc()
}

func (p *Prometheus) DispatchDuration(roomID string, d time.Duration) {
	p.dispatchDuration.WithLabelValues(roomID).Observe(d.Seconds())
}

var _ Recorder = (*Prometheus)(nil)
