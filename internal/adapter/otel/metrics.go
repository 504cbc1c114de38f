package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "driftline"

// Metrics holds all driftline metric instruments.
type Metrics struct {
	CommandsExecuted metric.Int64Counter
	CommandsRejected metric.Int64Counter
	AppendConflicts  metric.Int64Counter
	EventsAppended   metric.Int64Counter
	EventsPublished  metric.Int64Counter
	StreamSessions   metric.Int64UpDownCounter
	CommandDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.CommandsExecuted, err = meter.Int64Counter("driftline.commands.executed",
		metric.WithDescription("Number of commands executed successfully"))
	if err != nil {
		return nil, err
	}

	m.CommandsRejected, err = meter.Int64Counter("driftline.commands.rejected",
		metric.WithDescription("Number of commands rejected by validation or domain rules"))
	if err != nil {
		return nil, err
	}

	m.AppendConflicts, err = meter.Int64Counter("driftline.append.conflicts",
		metric.WithDescription("Number of optimistic-lock conflicts on append"))
	if err != nil {
		return nil, err
	}

	m.EventsAppended, err = meter.Int64Counter("driftline.events.appended",
		metric.WithDescription("Number of events appended to the store"))
	if err != nil {
		return nil, err
	}

	m.EventsPublished, err = meter.Int64Counter("driftline.events.published",
		metric.WithDescription("Number of events published to the bus"))
	if err != nil {
		return nil, err
	}

	m.StreamSessions, err = meter.Int64UpDownCounter("driftline.stream.sessions",
		metric.WithDescription("Number of live streaming sessions"))
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("driftline.command.duration_seconds",
		metric.WithDescription("Command execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
