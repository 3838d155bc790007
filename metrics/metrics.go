// Package metrics holds the Prometheus collectors of browser sessions.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/browser-session/api"
)

const namespace = "browser_session"

// Outcomes of actions and launches.
const (
	OutcomeOK         = "ok"
	OutcomeRejected   = "rejected"
	OutcomeTimeout    = "timeout"
	OutcomeNavigation = "navigation_error"
	OutcomeLaunch     = "launch_error"
	OutcomeBackend    = "backend_error"
	OutcomeError      = "error"
)

// Metrics are the collectors sessions report to. A nil *Metrics is valid
// and reports nothing.
type Metrics struct {
	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	Launches       *prometheus.CounterVec
	TeardownFaults *prometheus.CounterVec
	Active         *prometheus.GaugeVec
}

// New creates the session collectors and registers them with reg. With a
// nil reg they are created but not registered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Number of session actions by backend, action and outcome.",
		}, []string{"backend", "action", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of session actions, screenshot included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"backend", "action"}),
		Launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Number of backend launches by outcome.",
		}, []string{"backend", "outcome"}),
		TeardownFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_faults_total",
			Help:      "Number of faults while closing sessions.",
		}, []string{"backend"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "Number of launched sessions.",
		}, []string{"backend"}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.Actions, m.ActionDuration, m.Launches, m.TeardownFaults, m.Active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveAction records an action that took d and ended with err.
func (m *Metrics) ObserveAction(backend api.BackendKind, action string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(string(backend), action, Outcome(err)).Inc()
	m.ActionDuration.WithLabelValues(string(backend), action).Observe(d.Seconds())
}

// ObserveLaunch records a launch that ended with err.
func (m *Metrics) ObserveLaunch(backend api.BackendKind, err error) {
	if m == nil {
		return
	}
	m.Launches.WithLabelValues(string(backend), Outcome(err)).Inc()
	if err == nil {
		m.Active.WithLabelValues(string(backend)).Inc()
	}
}

// ObserveClose records a launched session that closed with faults.
func (m *Metrics) ObserveClose(backend api.BackendKind, faults int) {
	if m == nil {
		return
	}
	m.Active.WithLabelValues(string(backend)).Dec()
	if faults > 0 {
		m.TeardownFaults.WithLabelValues(string(backend)).Add(float64(faults))
	}
}

// Outcome classifies err into an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, api.ErrAction):
		return OutcomeRejected
	case errors.Is(err, api.ErrActionTimeout):
		return OutcomeTimeout
	case errors.Is(err, api.ErrNavigation):
		return OutcomeNavigation
	case errors.Is(err, api.ErrLaunch):
		return OutcomeLaunch
	case errors.Is(err, api.ErrBackend):
		return OutcomeBackend
	}
	return OutcomeError
}
