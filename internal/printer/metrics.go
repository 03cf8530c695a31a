package printer

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "tillprint/printer"

type metrics struct {
	documents metric.Int64Counter
	chunks    metric.Int64Counter
	attempts  metric.Int64Counter
	bytes     metric.Int64Histogram
}

func newMetrics(m metric.Meter) (*metrics, error) {
	if m == nil {
		m = noop.NewMeterProvider().Meter(meterName)
	}

	var (
		out metrics
		err error
	)
	out.documents, err = m.Int64Counter("tillprint.print.documents",
		metric.WithDescription("Documents fully written to the printer"))
	if err != nil {
		return nil, err
	}
	out.chunks, err = m.Int64Counter("tillprint.print.chunks",
		metric.WithDescription("Chunks accepted by the printer link"))
	if err != nil {
		return nil, err
	}
	out.attempts, err = m.Int64Counter("tillprint.reconnect.attempts",
		metric.WithDescription("Automatic reconnection attempts"))
	if err != nil {
		return nil, err
	}
	out.bytes, err = m.Int64Histogram("tillprint.print.bytes",
		metric.WithDescription("Size of printed command streams"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}
