// Package models defines the core record types shared across the beacon
// server: traces, spans, replay runs, and prompt versions.
//
// All timestamps are seconds since the Unix epoch stored as float64, matching
// the wire format emitted by the SDKs. A span with a nil EndTime and status
// StatusUnset is "in flight": the emitter will rewrite it under the same
// span_id once the underlying operation finishes.
package models

import "fmt"

// SpanType classifies the unit of work a span records.
type SpanType string

const (
	SpanTypeLLMCall       SpanType = "llm_call"
	SpanTypeToolUse       SpanType = "tool_use"
	SpanTypeAgentStep     SpanType = "agent_step"
	SpanTypeBrowserAction SpanType = "browser_action"
	SpanTypeFileOperation SpanType = "file_operation"
	SpanTypeShellCommand  SpanType = "shell_command"
	SpanTypeChain         SpanType = "chain"
	SpanTypeCustom        SpanType = "custom"
)

// SpanTypes lists every valid span type.
var SpanTypes = []SpanType{
	SpanTypeLLMCall,
	SpanTypeToolUse,
	SpanTypeAgentStep,
	SpanTypeBrowserAction,
	SpanTypeFileOperation,
	SpanTypeShellCommand,
	SpanTypeChain,
	SpanTypeCustom,
}

// Valid reports whether t is a known span type.
func (t SpanType) Valid() bool {
	for _, known := range SpanTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the outcome of a span or the rollup status of a trace.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	StatusUnset Status = "unset"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOK || s == StatusError || s == StatusUnset
}

// Annotation is a free-form note attached to a span by a human reviewer.
type Annotation struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	CreatedAt float64 `json:"created_at"`
}

// Span is one observed unit of work within a trace.
type Span struct {
	SpanID       string         `json:"span_id"`
	TraceID      string         `json:"trace_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	SpanType     SpanType       `json:"span_type"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartTime    float64        `json:"start_time"`
	EndTime      *float64       `json:"end_time"`
	Attributes   map[string]any `json:"attributes"`
	Annotations  []Annotation   `json:"annotations,omitempty"`
	SDKLanguage  string         `json:"sdk_language,omitempty"`
}

// IsRoot reports whether the span is the root of its trace.
func (s *Span) IsRoot() bool {
	return s.ParentSpanID == ""
}

// InFlight reports whether the span is awaiting its completing write.
func (s *Span) InFlight() bool {
	return s.EndTime == nil && s.Status == StatusUnset
}

// DurationMS returns the span duration in milliseconds, or 0 while in flight.
func (s *Span) DurationMS() float64 {
	if s.EndTime == nil {
		return 0
	}
	return (*s.EndTime - s.StartTime) * 1000
}

// Validate checks the fields required for ingestion.
func (s *Span) Validate() error {
	if s.SpanID == "" {
		return fmt.Errorf("span_id is required")
	}
	if s.TraceID == "" {
		return fmt.Errorf("trace_id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !s.SpanType.Valid() {
		return fmt.Errorf("unknown span_type %q", s.SpanType)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	return nil
}

// AttrFloat reads a numeric attribute, treating anything non-numeric as zero.
func (s *Span) AttrFloat(key string) float64 {
	switch v := s.Attributes[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// AttrInt reads an integer attribute, treating anything non-numeric as zero.
func (s *Span) AttrInt(key string) int64 {
	switch v := s.Attributes[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// AttrString reads a string attribute, returning "" for anything else.
func (s *Span) AttrString(key string) string {
	v, _ := s.Attributes[key].(string)
	return v
}
