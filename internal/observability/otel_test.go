package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/config"
)

// keepGlobals restores the otel globals after the test.
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabled(insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "go-dm-backend-test",
		SampleRatio: 1,
	}
}

func shutdownQuickly(t *testing.T, fn func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_ = fn(ctx)
}

func TestSetupOTel_DisabledIsNoop(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false, Endpoint: "ignored:4317"}, "v0")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())

	_, span := Tracer().Start(context.Background(), "ws.identify")
	assert.False(t, span.IsRecording(), "spans are dropped without a provider")
	span.End()
}

func TestSetupOTel_InstallsProviderAndPropagator(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		t.Run(map[bool]string{true: "insecure", false: "tls"}[insecure], func(t *testing.T) {
			keepGlobals(t)

			shutdown, err := SetupOTel(context.Background(), enabled(insecure), "v1.2.3")
			require.NoError(t, err)
			defer shutdownQuickly(t, shutdown)

			_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			require.True(t, ok)

			ctx, span := Tracer().Start(context.Background(), "ws.send_message", trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			require.True(t, span.SpanContext().IsValid())

			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			assert.NotEmpty(t, carrier.Get("traceparent"))

			remote := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), carrier))
			assert.Equal(t, span.SpanContext().TraceID(), remote.TraceID())
		})
	}
}

func TestSetupOTel_CanceledContext(t *testing.T) {
	keepGlobals(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The gRPC client connects lazily, so setup does not need a live ctx.
	shutdown, err := SetupOTel(ctx, enabled(true), "v0")
	require.NoError(t, err)
	shutdownQuickly(t, shutdown)
}

func TestSetupOTel_FailuresLeaveGlobalsAlone(t *testing.T) {
	cases := []struct {
		name  string
		patch func() func()
	}{
		{"exporter", func() func() {
			orig := newOTLPExporterFn
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
			return func() { newOTLPExporterFn = orig }
		}},
		{"resource", func() func() {
			orig := newServiceResourceFn
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
			return func() { newServiceResourceFn = orig }
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepGlobals(t)
			defer tc.patch()()

			tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
			_, err := SetupOTel(context.Background(), enabled(true), "v0")
			require.Error(t, err)
			assert.Equal(t, tp, otel.GetTracerProvider())
			assert.Equal(t, prop, otel.GetTextMapPropagator())
		})
	}
}
