// Package metrics exposes relay counters and gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bken/signaling/internal/core"
)

// StatsFunc reports the registry counts sampled by the gauges.
type StatsFunc func() core.Stats

// Metrics holds every collector on its own registry so tests and multiple
// servers in one process do not collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	Events           *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	SignalsForwarded prometheus.Counter
	Dropped          prometheus.Counter
	RoomsExpired     prometheus.Counter
	RoomTransitions  *prometheus.CounterVec
}

// New registers the collectors. stats backs the room and session gauges and
// connections backs the connection gauge; either may be nil.
func New(stats StatsFunc, connections func() int) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_events_total",
			Help: "Inbound client events by name.",
		}, []string{"event"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_errors_total",
			Help: "Error events sent to clients by code.",
		}, []string{"code"}),
		SignalsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_signals_forwarded_total",
			Help: "Signal payloads relayed between peers.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_dropped_messages_total",
			Help: "Outbound messages discarded because the client queue was full or gone.",
		}),
		RoomsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_rooms_expired_total",
			Help: "Rooms torn down after reaching their lifetime.",
		}),
		RoomTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_room_transitions_total",
			Help: "Room lifecycle transitions by kind.",
		}, []string{"kind"}),
	}

	if stats != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signaling_rooms",
			Help: "Rooms currently registered.",
		}, func() float64 { return float64(stats().RoomCount) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signaling_sessions",
			Help: "Reconnection sessions currently held.",
		}, func() float64 { return float64(stats().SessionCount) })
	}
	if connections != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signaling_connections",
			Help: "Live transport connections.",
		}, func() float64 { return float64(connections()) })
	}
	return m
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Event(name string) {
	m.Events.WithLabelValues(name).Inc()
}

func (m *Metrics) Error(code string) {
	m.Errors.WithLabelValues(code).Inc()
}

func (m *Metrics) SignalForwarded() {
	m.SignalsForwarded.Inc()
}

// MessageDropped matches the hub drop hook.
func (m *Metrics) MessageDropped(string) {
	m.Dropped.Inc()
}

// ObserveRoom implements core.Observer.
func (m *Metrics) ObserveRoom(ev core.RoomEvent) {
	m.RoomTransitions.WithLabelValues(ev.Kind).Inc()
	if ev.Kind == core.KindExpired {
		m.RoomsExpired.Inc()
	}
}

// RunStatsLog logs registry counts every interval until ctx is canceled.
// Quiet intervals with no rooms and no sessions are skipped.
func RunStatsLog(ctx context.Context, stats StatsFunc, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats()
			if s.RoomCount == 0 && s.SessionCount == 0 {
				continue
			}
			logger.Info("stats",
				zap.Int("rooms", s.RoomCount),
				zap.Int("bound_clients", s.ClientCount),
				zap.Int("sessions", s.SessionCount),
				zap.Duration("uptime", s.Uptime))
		}
	}
}
