package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// spanRecord is the flat JSON form a finished span is exported as: one
// line per operation, with the overlay identifiers (first_hop, path,
// convo_tag and friends) carried in the attrs map the components set.
type spanRecord struct {
	Trace      string                 `json:"trace"`
	Span       string                 `json:"span"`
	Parent     string                 `json:"parent,omitempty"`
	Op         string                 `json:"op"`
	Kind       SpanKind               `json:"kind"`
	Start      string                 `json:"start"`
	DurationMs float64                `json:"duration_ms"`
	Status     SpanStatus             `json:"status"`
	Attrs      map[string]interface{} `json:"attrs,omitempty"`
	Events     []string               `json:"events,omitempty"`
}

func recordOf(span *Span) *spanRecord {
	rec := &spanRecord{
		Trace:      span.TraceID,
		Span:       span.SpanID,
		Parent:     span.ParentID,
		Op:         span.Name,
		Kind:       span.Kind,
		Start:      span.StartTime.Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMs: float64(span.Duration.Microseconds()) / 1000,
		Status:     span.Status,
		Attrs:      span.Attributes,
	}
	for _, ev := range span.Events {
		rec.Events = append(rec.Events, ev.Name)
	}
	return rec
}

// NoopExporter drops every span after timing. The default when tracing
// output is not wanted.
type NoopExporter struct{}

// NewNoopExporter creates a noop exporter.
func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

// Export does nothing.
func (e *NoopExporter) Export(span *Span) error { return nil }

// Close does nothing.
func (e *NoopExporter) Close() error { return nil }

// WriterExporter writes one JSON record per finished span to an
// io.Writer. It is the backing for both the stdout and file exporters.
type WriterExporter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
}

// NewWriterExporter creates an exporter writing span records to writer.
func NewWriterExporter(writer io.Writer, pretty bool) *WriterExporter {
	return &WriterExporter{writer: writer, pretty: pretty}
}

// Export writes the span's record as one JSON line (or an indented block
// when pretty).
func (e *WriterExporter) Export(span *Span) error {
	if span == nil {
		return nil
	}

	rec := recordOf(span)
	var data []byte
	var err error
	if e.pretty {
		data, err = json.MarshalIndent(rec, "", "  ")
	} else {
		data, err = json.Marshal(rec)
	}
	if err != nil {
		return fmt.Errorf("trace: marshal span record: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("trace: write span record: %w", err)
	}
	return nil
}

// Close does nothing; the writer's lifetime belongs to the caller.
func (e *WriterExporter) Close() error { return nil }

// NewStdoutExporter creates an exporter writing span records to stdout,
// used by the router binary at debug log level.
func NewStdoutExporter(pretty bool) *WriterExporter {
	return NewWriterExporter(os.Stdout, pretty)
}

// FileExporter appends span records to a file it owns.
type FileExporter struct {
	WriterExporter
	file *os.File
}

// NewFileExporter creates an exporter appending span records to filename.
func NewFileExporter(filename string, pretty bool) (*FileExporter, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open trace file: %w", err)
	}
	e := &FileExporter{file: file}
	e.writer = file
	e.pretty = pretty
	return e, nil
}

// Close closes the underlying file.
func (e *FileExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file != nil {
		return e.file.Close()
	}
	return nil
}
