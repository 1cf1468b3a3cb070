package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/arvolo/claimgate"
)

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum: %T", name, met.Data)
			}
			if len(sum.DataPoints) != 1 {
				t.Fatalf("metric %s: expected one data point, got %d", name, len(sum.DataPoints))
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("claimgate-test")

	m := claimgate.NewMetrics()
	m.Inc(claimgate.MetricSessionSaved)
	m.Inc(claimgate.MetricSessionSaved)
	m.Inc(claimgate.MetricSessionSaved)
	m.Inc(claimgate.MetricAuthDenied)

	exp, err := NewExporter(meter, m)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if v := counterValue(t, rm, claimgate.MetricSessionSaved.Name()); v != 3 {
		t.Fatalf("saved counter: expected 3, got %d", v)
	}
	if v := counterValue(t, rm, claimgate.MetricAuthDenied.Name()); v != 1 {
		t.Fatalf("denied counter: expected 1, got %d", v)
	}
	if v := counterValue(t, rm, claimgate.MetricTokenIssued.Name()); v != 0 {
		t.Fatalf("untouched counter: expected 0, got %d", v)
	}

	// A later collection cycle sees counter growth.
	m.Inc(claimgate.MetricSessionSaved)
	rm = metricdata.ResourceMetrics{}
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("second Collect failed: %v", err)
	}
	if v := counterValue(t, rm, claimgate.MetricSessionSaved.Name()); v != 4 {
		t.Fatalf("saved counter after growth: expected 4, got %d", v)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("claimgate-test")

	if _, err := NewExporter(nil, claimgate.NewMetrics()); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterCloseUnregisters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("claimgate-test")

	m := claimgate.NewMetrics()
	m.Inc(claimgate.MetricSessionSaved)

	exp, err := NewExporter(meter, m)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect after Close failed: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				t.Fatalf("metric %s still observed after Close", met.Name)
			}
		}
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("claimgate-test")

	m := claimgate.NewMetrics()
	exp, err := NewExporter(meter, m)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(claimgate.MetricTokenIssued)
			}
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}()
	}
	wg.Wait()
}
