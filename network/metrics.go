package network

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "coffee-guru/network"

type orchestratorMetrics struct {
	requests  metric.Int64Counter
	retries   metric.Int64Counter
	coalesced metric.Int64Counter
	queued    metric.Int64Counter
}

func newOrchestratorMetrics(m metric.Meter) orchestratorMetrics {
	if m == nil {
		return orchestratorMetrics{}
	}
	requests, _ := m.Int64Counter("orchestrator.requests", metric.WithDescription("Physical completion calls by outcome"))
	retries, _ := m.Int64Counter("orchestrator.retries", metric.WithDescription("Repeated attempts after a timeout"))
	coalesced, _ := m.Int64Counter("orchestrator.coalesced", metric.WithDescription("Callers attached to an in-flight execution"))
	queued, _ := m.Int64Counter("orchestrator.queued", metric.WithDescription("Requests buffered while offline"))
	return orchestratorMetrics{
		requests:  requests,
		retries:   retries,
		coalesced: coalesced,
		queued:    queued,
	}
}

func (m orchestratorMetrics) recordRequest(ctx context.Context, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsTimeout(err):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	addCounter(ctx, m.requests, attribute.String("outcome", outcome))
}

func (m orchestratorMetrics) recordRetry(ctx context.Context) {
	addCounter(ctx, m.retries)
}

func (m orchestratorMetrics) recordCoalesced(ctx context.Context) {
	addCounter(ctx, m.coalesced)
}

func (m orchestratorMetrics) recordQueued(ctx context.Context) {
	addCounter(ctx, m.queued)
}

func addCounter(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
