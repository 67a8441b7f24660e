package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livechat_connections",
		Help: "Open sockets on this relay instance by role.",
	}, []string{"role"})

	framesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_frames_total",
		Help: "Frames accepted from clients by type.",
	}, []string{"type"})

	droppedFramesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livechat_dropped_frames_total",
		Help: "Inbound frames dropped before routing, by reason.",
	}, []string{"reason"})

	slowConsumersMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livechat_slow_consumers_total",
		Help: "Sockets disconnected because their send buffer was full.",
	})
)
