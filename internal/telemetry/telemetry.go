// Package telemetry 链路追踪
package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options 追踪参数
type Options struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
	Environment string
}

// ShutdownFunc 刷出未发送的 span
type ShutdownFunc func(ctx context.Context) error

// Setup 初始化全局 TracerProvider，未开启时返回空操作
func Setup(ctx context.Context, o Options) (ShutdownFunc, error) {
	if !o.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if o.ServiceName == "" {
		o.ServiceName = "planverse"
	}
	ratio := o.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(o.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", o.ServiceName),
		attribute.String("deployment.environment", o.Environment),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Wrap 为 HTTP 入口加上服务端 span，SSE 长连接不记录
func Wrap(h http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(h, operation,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/api/v1/events"
		}),
	)
}
