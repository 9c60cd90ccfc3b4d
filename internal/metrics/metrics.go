// Package metrics Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cinematch"

// Metrics 匹配引擎与广播中心的指标集合
type Metrics struct {
	Swipes          *prometheus.CounterVec
	Matches         prometheus.Counter
	RoundsCompleted prometheus.Counter
	DeckBuilds      *prometheus.CounterVec
	ChatMessages    prometheus.Counter
	Subscribers     *prometheus.GaugeVec
	DroppedConns    prometheus.Counter
}

// New 创建指标并注册到 reg。测试中传入独立的 prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Swipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swipes_total",
			Help:      "Swipes recorded, by action and store outcome.",
		}, []string{"action", "outcome"}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Group matches created.",
		}),
		RoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Rounds in which every active member reached the quota.",
		}),
		DeckBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deck_builds_total",
			Help:      "Deck requests, by source.",
		}, []string{"source"}),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages persisted.",
		}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Connections currently subscribed, by room kind.",
		}, []string{"kind"}),
		DroppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_dropped_connections_total",
			Help:      "Connections dropped because their send queue was full.",
		}),
	}

	reg.MustRegister(
		m.Swipes,
		m.Matches,
		m.RoundsCompleted,
		m.DeckBuilds,
		m.ChatMessages,
		m.Subscribers,
		m.DroppedConns,
	)
	return m
}

// NewNop 不注册到任何 registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
