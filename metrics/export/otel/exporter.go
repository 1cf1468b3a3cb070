// Package otel bridges claimgate counters to OpenTelemetry. [NewExporter]
// registers one Int64ObservableCounter per metric; a single callback reads a
// [claimgate.MetricsSnapshot] on each collection cycle. The caller owns the
// MeterProvider; this package never mutates source state.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/arvolo/claimgate"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	Snapshot() claimgate.MetricsSnapshot
}

type observedCounter struct {
	id         claimgate.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter keeps the instrument registration alive until [Exporter.Close].
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
}

// NewExporter registers observable counters for every claimgate metric on
// meter, reading values from source.
func NewExporter(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source, counters: make([]observedCounter, 0, claimgate.MetricCount)}
	observables := make([]metric.Observable, 0, claimgate.MetricCount)

	for id := claimgate.MetricID(0); int(id) < claimgate.MetricCount; id++ {
		ins, err := meter.Int64ObservableCounter(id.Name())
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", id.Name(), err)
		}
		e.counters = append(e.counters, observedCounter{id: id, instrument: ins})
		observables = append(observables, ins)
	}

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register metrics callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.Snapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
