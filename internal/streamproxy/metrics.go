package streamproxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "music_proxy_requests_total",
			Help: "Stream requests by response class.",
		},
		[]string{"result"},
	)

	streamBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "music_proxy_bytes_total",
		Help: "Bytes relayed to clients.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "music_proxy_active_streams",
		Help: "Streams currently being relayed.",
	})
)
