package utils

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Metrics is an in-process meter provider whose counters are read back on
// demand rather than exported.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// Counter is one collected data point.
type Counter struct {
	Name  string
	Value int64
}

func NewMetrics() *Metrics {
	reader := sdkmetric.NewManualReader()
	return &Metrics{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:   reader,
	}
}

// Provider returns the underlying provider, e.g. for otel.SetMeterProvider.
func (m *Metrics) Provider() *sdkmetric.MeterProvider {
	return m.provider
}

func (m *Metrics) Meter(name string) metric.Meter {
	return m.provider.Meter(name)
}

// Counters collects every int64 sum. Data points with attributes are named
// "metric{key=value,...}". The result is sorted by name.
func (m *Metrics) Counters(ctx context.Context) ([]Counter, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("metrics: collect: %w", err)
	}

	var out []Counter
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				name := md.Name
				if dp.Attributes.Len() > 0 {
					name += "{" + dp.Attributes.Encoded(attribute.DefaultEncoder()) + "}"
				}
				out = append(out, Counter{Name: name, Value: dp.Value})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
