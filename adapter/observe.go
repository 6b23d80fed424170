package adapter

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/metrics"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// instrumentationName identifies the spans created by this package.
const instrumentationName = "github.com/CaliLuke/go-sqlwrap/adapter"

// env is shared by every wrapper created from one DataSource or Driver.
type env struct {
	vendor       *driver.Vendor
	metrics      *metrics.Metrics
	ownMetrics   bool
	tracer       oteltrace.Tracer
	cacheEnabled bool
}

// op is one instrumented vendor call.
type op struct {
	span     oteltrace.Span
	res      resource
	name     string
	started  time.Time
	recorder *metrics.Metrics
}

func (e *env) start(ctx context.Context, res resource, name string) (context.Context, *op) {
	ctx, span := e.tracer.Start(ctx, res.name+" "+name,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("db.system", e.vendor.Name),
			attribute.String("db.operation", name),
		),
	)
	return ctx, &op{span: span, res: res, name: name, started: time.Now(), recorder: e.metrics}
}

// end finishes the span and records the outcome. It returns err unchanged.
func (o *op) end(err error) error {
	defer o.span.End()
	if errors.Is(err, sqldriver.ErrSkip) || err == io.EOF {
		return err
	}
	o.recorder.Observe(o.res.name, o.name, time.Since(o.started), err)
	if err != nil {
		if state := sqlerr.State(err); state != "" {
			o.span.SetAttributes(attribute.String("db.sql_state", state))
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	return err
}
