package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum-optimism/optimism/op-service/eth"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const Namespace = "hera"

type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	RecordL1Ref(name string, ref eth.L1BlockRef)
	RecordGenesisReached()
	RecordAcknowledgedHeight(height uint64)
	RecordValidationOutcome(verdict string)
	RecordLastValidatedHeight(height uint64)
}

// Metrics implements the Metricer interface with a prometheus registry.
type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  opmetrics.Factory

	opmetrics.RefMetrics

	info *prometheus.GaugeVec
	up   prometheus.Gauge

	genesisReached       prometheus.Gauge
	acknowledgedHeight   prometheus.Gauge
	acknowledgmentsTotal prometheus.Counter
	validationOutcomes   *prometheus.CounterVec
	lastValidatedHeight  prometheus.Gauge
}

var _ Metricer = (*Metrics)(nil)

// implements the Registry getter, for metrics HTTP server to hook into
var _ opmetrics.RegistryMetricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName

	registry := opmetrics.NewRegistry()
	factory := opmetrics.With(registry)

	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		RefMetrics: opmetrics.MakeRefMetrics(ns, factory),

		info: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if hera has finished starting up",
		}),
		genesisReached: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "genesis_reached",
			Help:      "1 once the L1 chain has reached the rollup genesis anchor",
		}),
		acknowledgedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "acknowledged_height",
			Help:      "Last L1 height acknowledged back to the host node",
		}),
		acknowledgmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "acknowledgments_total",
			Help:      "Count of finished-height acknowledgments sent to the host node",
		}),
		validationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "validation_outcomes_total",
			Help:      "Count of payload validation attempts by outcome",
		}, []string{
			"verdict",
		}),
		lastValidatedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "last_validated_height",
			Help:      "Highest L2 block height validated successfully",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Document() []opmetrics.DocumentedMetric {
	return m.factory.Document()
}

// RecordInfo sets a pseudo-metric that contains versioning and config info.
func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

// RecordUp sets the up metric to 1.
func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordL1Ref(name string, ref eth.L1BlockRef) {
	m.RecordRef("l1", name, ref.Number, ref.Time, ref.Hash)
}

func (m *Metrics) RecordGenesisReached() {
	m.genesisReached.Set(1)
}

func (m *Metrics) RecordAcknowledgedHeight(height uint64) {
	m.acknowledgedHeight.Set(float64(height))
	m.acknowledgmentsTotal.Inc()
}

func (m *Metrics) RecordValidationOutcome(verdict string) {
	m.validationOutcomes.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RecordLastValidatedHeight(height uint64) {
	m.lastValidatedHeight.Set(float64(height))
}
