package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartClientSpanInjectsTraceContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	header := http.Header{}
	_, span := StartClientSpan(context.Background(), "api.submit_progress", propagation.HeaderCarrier(header))
	EndSpan(span, errors.New("boom"))

	assert.NotEmpty(t, header.Get("Traceparent"))
	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		assert.Equal(t, "api.submit_progress", spans[0].Name())
		assert.Equal(t, "boom", spans[0].Status().Description)
	}
}
