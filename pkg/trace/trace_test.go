package trace

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStartSpanPopulatesFields(t *testing.T) {
	tracer := NewTracer("go-llarp", NewNoopExporter(), AlwaysSample())

	ctx, span := tracer.StartSpan(context.Background(), OpPathBuild, SpanKindClient)
	if span == nil {
		t.Fatal("StartSpan returned nil span with AlwaysSample")
	}
	if span.Name != OpPathBuild {
		t.Errorf("span name = %q, want %q", span.Name, OpPathBuild)
	}
	if span.Kind != SpanKindClient {
		t.Errorf("span kind = %q, want client", span.Kind)
	}
	if span.TraceID == "" || span.SpanID == "" {
		t.Error("trace/span ids not generated")
	}
	if span.Attributes["service.name"] != "go-llarp" {
		t.Errorf("service.name attribute = %v, want go-llarp", span.Attributes["service.name"])
	}

	if got := FromContext(ctx); got != span {
		t.Error("FromContext did not return the started span")
	}
}

func TestStartSpanNotSampled(t *testing.T) {
	tracer := NewTracer("go-llarp", NewNoopExporter(), NeverSample())

	ctx, span := tracer.StartSpan(context.Background(), OpIntrosetLookup, SpanKindClient)
	if span != nil {
		t.Fatal("NeverSample still produced a span")
	}
	if FromContext(ctx) != nil {
		t.Error("unsampled span leaked into context")
	}
}

func TestChildSpanInheritsTrace(t *testing.T) {
	tracer := NewTracer("go-llarp", NewNoopExporter(), AlwaysSample())

	ctx, parent := tracer.StartSpan(context.Background(), OpFlowEstablish, SpanKindClient)
	_, child := tracer.StartSpan(ctx, OpIntrosetLookup, SpanKindInternal)

	if child.TraceID != parent.TraceID {
		t.Errorf("child trace id = %q, want parent's %q", child.TraceID, parent.TraceID)
	}
	if child.ParentID != parent.SpanID {
		t.Errorf("child parent id = %q, want %q", child.ParentID, parent.SpanID)
	}
}

func TestSpanEndSetsDuration(t *testing.T) {
	tracer := NewTracer("go-llarp", NewNoopExporter(), AlwaysSample())
	_, span := tracer.StartSpan(context.Background(), OpLinkHandshake, SpanKindServer)

	time.Sleep(5 * time.Millisecond)
	span.End()

	if span.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", span.Duration)
	}
	if span.EndTime.IsZero() {
		t.Error("end time not set")
	}
}

func TestRecordErrorMarksStatus(t *testing.T) {
	tracer := NewTracer("go-llarp", NewNoopExporter(), AlwaysSample())
	_, span := tracer.StartSpan(context.Background(), OpIntrosetPublish, SpanKindClient)

	span.RecordError(errors.New("publish not acknowledged"))

	if span.Status != StatusError {
		t.Errorf("status = %q after RecordError, want error", span.Status)
	}
	if len(span.Events) != 1 || span.Events[0].Name != "error" {
		t.Fatalf("expected one error event, got %v", span.Events)
	}
}

func TestSpanNilReceiversAreSafe(t *testing.T) {
	// An unsampled span is nil; every method must tolerate that.
	var span *Span
	span.End()
	span.SetStatus(StatusOK, "")
	span.SetAttribute("first_hop", "abc")
	span.SetAttributes(map[string]interface{}{"hops": 3})
	span.AddEvent("noop", nil)
	span.RecordError(errors.New("ignored"))
}

func TestWithSpanRecordsError(t *testing.T) {
	collector := &collectingExporter{}
	tracer := NewTracer("go-llarp", collector, AlwaysSample())

	wantErr := errors.New("hop rejected path build")
	err := WithSpan(context.Background(), tracer, OpPathBuild, SpanKindClient, func(ctx context.Context, span *Span) error {
		span.SetAttribute("hops", 3)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithSpan error = %v, want %v", err, wantErr)
	}

	if len(collector.spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(collector.spans))
	}
	got := collector.spans[0]
	if got.Name != OpPathBuild {
		t.Errorf("exported span name = %q, want %q", got.Name, OpPathBuild)
	}
	if got.Status != StatusError {
		t.Errorf("exported span status = %q, want error", got.Status)
	}
	if got.Attributes["hops"] != 3 {
		t.Errorf("hops attribute = %v, want 3", got.Attributes["hops"])
	}
}

func TestWithSpanSuccess(t *testing.T) {
	collector := &collectingExporter{}
	tracer := NewTracer("go-llarp", collector, AlwaysSample())

	err := WithSpan(context.Background(), tracer, OpFlowEstablish, SpanKindServer, func(ctx context.Context, span *Span) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithSpan error = %v, want nil", err)
	}
	if len(collector.spans) != 1 || collector.spans[0].Status != StatusOK {
		t.Fatalf("expected one ok span, got %v", collector.spans)
	}
}

// collectingExporter keeps exported spans in memory for assertions.
type collectingExporter struct {
	spans []*Span
}

func (c *collectingExporter) Export(span *Span) error {
	c.spans = append(c.spans, span)
	return nil
}

func (c *collectingExporter) Close() error { return nil }
