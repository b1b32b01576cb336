package common

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
)

type MetricsService struct {
	Registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	rejections          *prometheus.CounterVec
	notificationsFailed prometheus.Counter
}

func NewMetricsService(_ do.Injector) (*MetricsService, error) {
	return NewMetrics(), nil
}

func NewMetrics() *MetricsService {
	registry := prometheus.NewRegistry()

	result := &MetricsService{
		Registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "transitions_total",
			Help:      "Committed state transitions by entity and resulting status.",
		}, []string{"entity", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "rejections_total",
			Help:      "Rejected commands by error kind.",
		}, []string{"kind"}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "notifications_failed_total",
			Help:      "Events that could not be handed to the notification sink.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		result.transitions,
		result.rejections,
		result.notificationsFailed,
	)

	return result
}

func (s *MetricsService) Transition(entity, status string) {
	s.transitions.WithLabelValues(entity, status).Inc()
}

func (s *MetricsService) Rejected(kind Kind) {
	s.rejections.WithLabelValues(string(kind)).Inc()
}

func (s *MetricsService) NotificationFailed() {
	s.notificationsFailed.Inc()
}

func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}
