package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentkit",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "torrentkit",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentkit",
		Name:      "active_torrents",
		Help:      "Number of torrents currently tracked by the session.",
	})

	TorrentsAddedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentkit",
		Name:      "torrents_added_total",
		Help:      "Torrent add attempts by outcome.",
	}, []string{"outcome"})

	TorrentsRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentkit",
		Name:      "torrents_removed_total",
		Help:      "Total number of torrents removed from the session.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentkit",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentkit",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentkit",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrents.",
	})

	BuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentkit",
		Name:      "metadata_builds_total",
		Help:      "Torrent metadata builds by outcome.",
	}, []string{"outcome"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTorrents,
		TorrentsAddedTotal,
		TorrentsRemovedTotal,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		BuildsTotal,
	)
}
