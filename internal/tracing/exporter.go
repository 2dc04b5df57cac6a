package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// FileExporter appends one JSON line per finished phase span. Every line
// carries the run id of the invocation so that traces join the run=... field
// of the log.
type FileExporter struct {
	mu    sync.Mutex
	file  *os.File
	runID string
}

// NewFileExporter opens path for appending, creating parent directories.
func NewFileExporter(path, runID string) (*FileExporter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- configured trace path
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return &FileExporter{file: f, runID: runID}, nil
}

// SpanRecord is the JSON line written for a span. The asset attributes every
// phase sets are lifted to top-level fields; the rest stay in Attributes.
type SpanRecord struct {
	Run        string         `json:"run,omitempty"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Phase      string         `json:"phase"`
	Start      time.Time      `json:"start"`
	DurationMs float64        `json:"duration_ms"`
	Failed     bool           `json:"failed,omitempty"`
	Error      string         `json:"error,omitempty"`
	Chain      string         `json:"chain,omitempty"`
	File       string         `json:"file,omitempty"`
	Dir        string         `json:"dir,omitempty"`
	Count      *int64         `json:"count,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}

	enc := json.NewEncoder(e.file)
	for _, span := range spans {
		if err := enc.Encode(e.record(span)); err != nil {
			return fmt.Errorf("writing span %s: %w", span.Name(), err)
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Sync()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	e.file = nil
	return err
}

func (e *FileExporter) record(span sdktrace.ReadOnlySpan) SpanRecord {
	sc := span.SpanContext()
	rec := SpanRecord{
		Run:        e.runID,
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		Phase:      span.Name(),
		Start:      span.StartTime().UTC(),
		DurationMs: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
	}
	if span.Parent().IsValid() {
		rec.ParentID = span.Parent().SpanID().String()
	}
	if status := span.Status(); status.Code == codes.Error {
		rec.Failed = true
		rec.Error = status.Description
	}

	for _, kv := range span.Attributes() {
		switch kv.Key {
		case AttrChain:
			rec.Chain = kv.Value.AsString()
		case AttrFile:
			rec.File = kv.Value.AsString()
		case AttrDir:
			rec.Dir = kv.Value.AsString()
		case AttrCount:
			n := kv.Value.AsInt64()
			rec.Count = &n
		case AttrErrorMessage, AttrRunID:
			// already carried by Error and Run
		default:
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]any)
			}
			rec.Attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
	}
	return rec
}
