package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all trackd metric instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	MutationDuration metric.Float64Histogram
	QueryDuration    metric.Float64Histogram
	MutationsTotal   metric.Int64Counter
	MutationRejects  metric.Int64Counter
	AuditFailures    metric.Int64Counter
	AuditPurged      metric.Int64Counter
	WSClients        metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("trackd.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MutationDuration, err = meter.Float64Histogram("trackd.mutation.duration",
		metric.WithDescription("Mutation pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("trackd.query.duration",
		metric.WithDescription("Listing query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MutationsTotal, err = meter.Int64Counter("trackd.mutations.total",
		metric.WithDescription("Committed mutations"),
	)
	if err != nil {
		return nil, err
	}

	m.MutationRejects, err = meter.Int64Counter("trackd.mutations.rejects",
		metric.WithDescription("Mutations rejected by a pipeline gate"),
	)
	if err != nil {
		return nil, err
	}

	m.AuditFailures, err = meter.Int64Counter("trackd.audit.failures",
		metric.WithDescription("Failed audit emissions"),
	)
	if err != nil {
		return nil, err
	}

	m.AuditPurged, err = meter.Int64Counter("trackd.audit.purged",
		metric.WithDescription("Audit records removed by retention sweeps"),
	)
	if err != nil {
		return nil, err
	}

	m.WSClients, err = meter.Int64UpDownCounter("trackd.ws.clients",
		metric.WithDescription("Connected audit stream clients"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
