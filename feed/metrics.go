package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_events_dispatched_total",
		Help: "Change feed events fanned out to consumers, by table.",
	}, []string{"table"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_events_dropped_total",
		Help: "Change feed events discarded before dispatch, by cause.",
	}, []string{"cause"})

	publishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_publish_errors_total",
		Help: "Failed change publications, by transport.",
	}, []string{"transport"})
)

func init() {
	prometheus.MustRegister(eventsDispatched, eventsDropped, publishErrors)
}
