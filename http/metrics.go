package http

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytrelay_http_requests_total",
	Help: "Outbound HTTP requests by destination host and status code (0 for transport errors).",
}, []string{"host", "code"})

func observe(url string, status int) {
	requestsTotal.WithLabelValues(extractDomain(url), strconv.Itoa(status)).Inc()
}
