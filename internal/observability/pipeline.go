package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the location-sync pipeline instruments
type PipelineMetrics struct {
	eventsApplied     metric.Int64Counter
	eventsDropped     metric.Int64Counter
	reconnectAttempts metric.Int64Counter
	streamClients     metric.Int64UpDownCounter
	trackedDevices    metric.Int64UpDownCounter
}

// NewPipelineMetrics creates the pipeline instruments
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(instrumentationName)

	eventsApplied, err := meter.Int64Counter(
		"tracker.events.applied",
		metric.WithDescription("Location events folded into the device store"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter(
		"tracker.events.dropped",
		metric.WithDescription("Location events dropped before reaching the store"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, err
	}

	reconnectAttempts, err := meter.Int64Counter(
		"tracker.connection.reconnect_attempts",
		metric.WithDescription("Automatic push-channel reconnect attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	streamClients, err := meter.Int64UpDownCounter(
		"tracker.stream.clients",
		metric.WithDescription("Connected dashboard stream clients"),
		metric.WithUnit("{clients}"),
	)
	if err != nil {
		return nil, err
	}

	trackedDevices, err := meter.Int64UpDownCounter(
		"tracker.devices.tracked",
		metric.WithDescription("Devices currently held in the store"),
		metric.WithUnit("{devices}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		eventsApplied:     eventsApplied,
		eventsDropped:     eventsDropped,
		reconnectAttempts: reconnectAttempts,
		streamClients:     streamClients,
		trackedDevices:    trackedDevices,
	}, nil
}

// EventApplied counts one accepted location event
func (m *PipelineMetrics) EventApplied() {
	m.eventsApplied.Add(context.Background(), 1)
}

// EventDropped counts one dropped event with its drop reason
func (m *PipelineMetrics) EventDropped(reason string) {
	m.eventsDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// ReconnectAttempt counts one automatic reconnect attempt
func (m *PipelineMetrics) ReconnectAttempt() {
	m.reconnectAttempts.Add(context.Background(), 1)
}

// StreamClientConnected adjusts the connected-client gauge
func (m *PipelineMetrics) StreamClientConnected(delta int64) {
	m.streamClients.Add(context.Background(), delta)
}

// DeviceCount adjusts the tracked-device gauge
func (m *PipelineMetrics) DeviceCount(delta int64) {
	m.trackedDevices.Add(context.Background(), delta)
}
