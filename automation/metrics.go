package automation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	running = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytrelay_automation_running",
		Help: "Users with a live monitoring loop.",
	})

	cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_automation_cycles_total",
		Help: "Monitoring cycles by result (ok, idle, error).",
	}, []string{"result"})

	channelChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_automation_channel_checks_total",
		Help: "Channel upload counts by the backend that answered.",
	}, []string{"source"})

	videosFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytrelay_automation_videos_found_total",
		Help: "New uploads detected on monitored channels.",
	})

	transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytrelay_automation_transfers_total",
		Help: "Transfers started by the poller, by outcome.",
	}, []string{"outcome"})
)
