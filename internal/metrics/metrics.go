// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "room_relay"

// Admission results.
const (
	AdmissionAccepted = "accepted"
	AdmissionRejected = "rejected"
	AdmissionFailed   = "handshake_failed"
)

var (
	// MessagesRelayed counts client frames fanned out to peers.
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_relayed_total",
		Help:      "Client frames accepted for fan-out.",
	})

	// FramesDropped counts frames not enqueued because the recipient was already gone.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because the recipient outbox was closed.",
	})

	// Admissions counts connection attempts by result.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Connection attempts by admission result.",
	}, []string{"result"})

	// RelayDuration observes how long admitted connections stayed in their room.
	RelayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "relay_duration_seconds",
		Help:      "Lifetime of admitted connections.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
)

// Occupancy is what the registry gauges are computed from.
type Occupancy interface {
	Total() int
	RoomCount() int
}

// RegisterOccupancy registers gauges that read the live registry on scrape.
// Registering again is a no-op.
func RegisterOccupancy(o Occupancy) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Participants currently in any room.",
		}, func() float64 { return float64(o.Total()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one participant.",
		}, func() float64 { return float64(o.RoomCount()) }),
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// Handler exposes Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
