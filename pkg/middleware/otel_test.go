package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-dev/eventbroker/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return sr, tp.Tracer("test")
}

func attrValue(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestOpenTelemetry_SpanPerCall(t *testing.T) {
	sr, tracer := newRecorder(t)

	var sawSpan bool
	h := Chain(func(ctx context.Context, req *protocol.Request) (any, error) {
		sawSpan = trace.SpanContextFromContext(ctx).IsValid()
		return "ok", nil
	}, OpenTelemetry(
		WithTracer(tracer),
		WithIncludeUserID(true),
		WithAttributeExtractor(func(*protocol.Request) []attribute.KeyValue {
			return []attribute.KeyValue{attribute.String("test.attr", "ok")}
		}),
	))

	_, err := h(context.Background(), &protocol.Request{
		Mode:      protocol.ModeFunction,
		Target:    "echo",
		Path:      "/ws/functions/echo",
		UserID:    "u1",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !sawSpan {
		t.Fatal("handler context carried no span")
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "function echo" {
		t.Fatalf("span name = %q", span.Name())
	}
	for key, want := range map[string]string{
		"eventbroker.target":     "echo",
		"eventbroker.user_id":    "u1",
		"eventbroker.session_id": "s1",
		"test.attr":              "ok",
	} {
		if got, ok := attrValue(span, key); !ok || got != want {
			t.Errorf("attribute %s = %q, want %q", key, got, want)
		}
	}
	if span.Status().Code != codes.Ok {
		t.Fatalf("status = %v, want Ok", span.Status().Code)
	}
}

func TestOpenTelemetry_RecordsError(t *testing.T) {
	sr, tracer := newRecorder(t)
	wantErr := errors.New("boom")

	h := Chain(func(ctx context.Context, req *protocol.Request) (any, error) {
		return nil, wantErr
	}, OpenTelemetry(WithTracer(tracer)))

	_, err := h(context.Background(), &protocol.Request{Mode: protocol.ModeEvent, Target: "btn", UserID: "u1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error {
		t.Fatalf("status = %v, want Error", span.Status().Code)
	}
	if _, ok := attrValue(span, "eventbroker.user_id"); ok {
		t.Fatal("user id recorded without WithIncludeUserID")
	}
}

func TestOpenTelemetry_FilterSkipsTracing(t *testing.T) {
	sr, tracer := newRecorder(t)

	called := false
	h := Chain(func(ctx context.Context, req *protocol.Request) (any, error) {
		called = true
		return nil, nil
	}, OpenTelemetry(
		WithTracer(tracer),
		WithRequestFilter(func(req *protocol.Request) bool { return req.Target != "heartbeat" }),
	))

	h(context.Background(), &protocol.Request{Mode: protocol.ModeEvent, Target: "heartbeat"})
	if !called {
		t.Fatal("next not called")
	}
	if n := len(sr.Ended()); n != 0 {
		t.Fatalf("ended spans = %d, want 0", n)
	}
}
