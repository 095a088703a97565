package service

import (
	"strconv"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts which read path served each fetch and how slot validations
// were decided. A nil *Metrics records nothing.
type Metrics struct {
	fetches     *prometheus.CounterVec
	validations *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coworking",
			Subsystem: "availability",
			Name:      "booking_fetches_total",
			Help:      "Booking list fetches by source (cache, optimized, fallback) and degradation.",
		}, []string{"source", "degraded"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coworking",
			Subsystem: "availability",
			Name:      "slot_validations_total",
			Help:      "Slot lock validations by deciding side and verdict.",
		}, []string{"source", "valid"}),
	}
	reg.MustRegister(m.fetches, m.validations)
	return m
}

func (m *Metrics) observeFetch(res *domain.FetchResult) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(string(res.Source), strconv.FormatBool(res.Degraded)).Inc()
}

func (m *Metrics) observeValidation(res *domain.ValidationResult) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(string(res.Source), strconv.FormatBool(res.Valid)).Inc()
}
