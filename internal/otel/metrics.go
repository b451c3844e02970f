package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all clawgate metric instruments.
type Metrics struct {
	Rotations          metric.Int64Counter
	CredentialFailures metric.Int64Counter
	Restarts           metric.Int64Counter
	SchedulerRuns      metric.Int64Counter
	SchedulerErrors    metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	RateLimitRejects   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Rotations, err = meter.Int64Counter("clawgate.rotations",
		metric.WithDescription("Credential rotations performed"),
	)
	if err != nil {
		return nil, err
	}

	m.CredentialFailures, err = meter.Int64Counter("clawgate.credential.failures",
		metric.WithDescription("Credentials marked failed"),
	)
	if err != nil {
		return nil, err
	}

	m.Restarts, err = meter.Int64Counter("clawgate.restarts",
		metric.WithDescription("Process restart attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerRuns, err = meter.Int64Counter("clawgate.scheduler.runs",
		metric.WithDescription("Scheduled maintenance task executions"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerErrors, err = meter.Int64Counter("clawgate.scheduler.errors",
		metric.WithDescription("Scheduled maintenance task failures"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("clawgate.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("clawgate.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
