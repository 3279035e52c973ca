package core

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTask_DispatchSpans verifies one span per dispatched message
// Given: A task with a recording tracer
// When: A succeeding and a failing user message are dispatched
// Then: INIT, both messages and EXIT produce spans and the failing one is marked as an error
func TestTask_DispatchSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	task := NewTaskFunc(func(ctx context.Context, msg *Message) error {
		if msg.Payload() == "fail" {
			return goerrors.New("refused")
		}
		return nil
	}, &TaskConfig{
		Name:   "traced",
		Logger: NewNoOpLogger(),
		Tracer: provider.Tracer("msgtask-test"),
	})
	if err := task.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ok := NewWaitableMessage(MessageTypeUser, PriorityHigh, "ok")
	if err := task.Post(ok, time.Second); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if _, err := task.SendAndWait(MessageTypeUser, "fail", PriorityNormal, time.Second); err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	if err := task.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 4 {
		t.Fatalf("len(spans) = %d, want 4 (INIT, two user messages, EXIT)", len(spans))
	}

	user := spans[1]
	if user.Name() != "msgtask.dispatch" {
		t.Errorf("span name = %q, want msgtask.dispatch", user.Name())
	}
	attrs := attribute.NewSet(user.Attributes()...)
	v, found := attrs.Value("msgtask.message.id")
	if !found {
		t.Fatal("span has no msgtask.message.id attribute")
	}
	if v.AsString() != ok.ID().String() {
		t.Errorf("msgtask.message.id = %q, want %q", v.AsString(), ok.ID().String())
	}
	if v, _ := attrs.Value("msgtask.message.priority"); v.AsString() != "high" {
		t.Errorf("msgtask.message.priority = %q, want high", v.AsString())
	}

	if code := user.Status().Code; code != codes.Unset {
		t.Errorf("succeeding span status = %v, want Unset", code)
	}
	if code := spans[2].Status().Code; code != codes.Error {
		t.Errorf("failing span status = %v, want Error", code)
	}
}
