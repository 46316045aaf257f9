// Package metrics exposes the Prometheus collectors of a node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors updated by a node. Each node registers its
// own collectors, so that several nodes can run in one process.
type Metrics struct {
	// Message metrics
	MsgsReceived *prometheus.CounterVec
	MsgsSent     *prometheus.CounterVec
	MsgsDropped  *prometheus.CounterVec
	SendFailures prometheus.Counter
	Bounces      *prometheus.CounterVec

	// Membership metrics
	Decisions *prometheus.CounterVec
	Members   prometheus.Gauge
	Elders    prometheus.Gauge
	IsElder   prometheus.Gauge

	// Section metrics
	DkgSessions   *prometheus.CounterVec
	Handovers     prometheus.Counter
	ChainLen      prometheus.Gauge
	KnownSections prometheus.Gauge

	// Data metrics
	ClientRequests *prometheus.CounterVec
	Chunks         prometheus.Gauge
	Maps           prometheus.Gauge
}

// New creates the collectors and registers them with registry, or with the
// default registerer if registry is nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		MsgsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_messages_received_total",
			Help: "Messages received, by kind",
		}, []string{"kind"}),
		MsgsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_messages_sent_total",
			Help: "Messages sent, by kind",
		}, []string{"kind"}),
		MsgsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_messages_dropped_total",
			Help: "Messages dropped, by error kind",
		}, []string{"reason"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sectiond_send_failures_total",
			Help: "Messages that could not be delivered",
		}),
		Bounces: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_ae_bounces_total",
			Help: "Anti-entropy replies sent, by action",
		}, []string{"action"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_membership_decisions_total",
			Help: "Membership decisions applied, by state",
		}, []string{"state"}),
		Members: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_section_members",
			Help: "Joined members of our section",
		}),
		Elders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_section_elders",
			Help: "Elders of our section",
		}),
		IsElder: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_is_elder",
			Help: "1 if this node is an elder",
		}),

		DkgSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_dkg_sessions_total",
			Help: "DKG sessions, by result",
		}, []string{"result"}),
		Handovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "sectiond_handovers_total",
			Help: "Section keys installed by handover",
		}),
		ChainLen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_section_chain_length",
			Help: "Length of the chain from genesis to our section key",
		}),
		KnownSections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_known_sections",
			Help: "Sections in our prefix map",
		}),

		ClientRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sectiond_client_requests_total",
			Help: "Client commands and queries handled, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Chunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_stored_chunks",
			Help: "Chunks held by this node",
		}),
		Maps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sectiond_stored_maps",
			Help: "Structured maps held by this node",
		}),
	}
}

// NewUnregistered returns collectors registered with a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
