package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptSubmissions counts submission client calls by outcome:
	// "accepted", "rejected", "invalid_context".
	AttemptSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eplay",
		Subsystem: "submit",
		Name:      "attempts_total",
		Help:      "Attempt submissions by outcome.",
	}, []string{"outcome"})

	// ChannelDropped counts frame messages dropped on receipt, by reason:
	// "unknown" (outside the vocabulary), "origin" (sender not allowed).
	ChannelDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eplay",
		Subsystem: "channel",
		Name:      "dropped_messages_total",
		Help:      "Frame messages dropped without effect.",
	}, []string{"reason"})
)
