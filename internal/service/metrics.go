package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analysisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docledger_analysis_total",
		Help: "Analysis submissions by outcome",
	}, []string{"outcome"})

	extractionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docledger_extraction_total",
		Help: "Extraction runs by source and status",
	}, []string{"source", "status"})

	creditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docledger_credits_debited_total",
		Help: "Credits charged for successful analyses",
	})

	creditsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docledger_credits_granted_total",
		Help: "Credits granted through the admin path",
	}, []string{"reason"})

	analysisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docledger_analysis_duration_seconds",
		Help:    "End-to-end analysis latency",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})
)
