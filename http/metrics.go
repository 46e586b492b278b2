package http

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
	logger = otelslog.NewLogger(instrumentationName)

	connectionsActive  metric.Int64UpDownCounter
	connectionsAborted metric.Int64Counter
	requestsRegistered metric.Int64Counter
	responsesStarted   metric.Int64Counter
	writeUnits         metric.Int64Counter
	bytesWritten       metric.Int64Counter
	pipelineStalls     metric.Int64Counter
	pipelineDepth      metric.Int64Histogram
)

func init() {
	var err error

	connectionsActive, err = meter.Int64UpDownCounter("causeway.connections.active",
		metric.WithDescription("Number of open client connections"),
		metric.WithUnit("{connection}"))
	if err != nil {
		panic(err)
	}

	connectionsAborted, err = meter.Int64Counter("causeway.connections.aborted",
		metric.WithDescription("Connections torn down with responses still pending"),
		metric.WithUnit("{connection}"))
	if err != nil {
		panic(err)
	}

	requestsRegistered, err = meter.Int64Counter("causeway.requests",
		metric.WithDescription("Requests registered with a connection pipeline"),
		metric.WithUnit("{request}"))
	if err != nil {
		panic(err)
	}

	responsesStarted, err = meter.Int64Counter("causeway.responses",
		metric.WithDescription("Responses whose status line was written"),
		metric.WithUnit("{response}"))
	if err != nil {
		panic(err)
	}

	writeUnits, err = meter.Int64Counter("causeway.write_units",
		metric.WithDescription("Write units handed to the socket"),
		metric.WithUnit("{unit}"))
	if err != nil {
		panic(err)
	}

	bytesWritten, err = meter.Int64Counter("causeway.bytes_written",
		metric.WithDescription("Response bytes written to clients"),
		metric.WithUnit("By"))
	if err != nil {
		panic(err)
	}

	pipelineStalls, err = meter.Int64Counter("causeway.pipeline.stalls",
		metric.WithDescription("Times a connection stopped reading because its pipeline was full"),
		metric.WithUnit("{stall}"))
	if err != nil {
		panic(err)
	}

	pipelineDepth, err = meter.Int64Histogram("causeway.pipeline.depth",
		metric.WithDescription("Outstanding requests on a connection when a new one is registered"),
		metric.WithUnit("{request}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64))
	if err != nil {
		panic(err)
	}
}
