// Package metrics exposes the gateway's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kin_sessions_active",
		Help: "Number of live chat sessions.",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kin_turns_total",
		Help: "Completed turns by outcome.",
	}, []string{"outcome"})

	InterruptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kin_interrupts_total",
		Help: "Client interrupts that superseded an in-flight generation.",
	})

	CollaboratorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kin_collaborator_failures_total",
		Help: "External collaborator call failures by stage.",
	}, []string{"stage"})
)
