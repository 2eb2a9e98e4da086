// Package otlp converts between the native span record and the OTLP JSON
// trace encoding (resourceSpans / scopeSpans / spans).
package otlp

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/haasonsaas/beacon/pkg/models"
)

// ExportRequest is the top level of an OTLP JSON trace payload.
type ExportRequest struct {
	ResourceSpans []ResourceSpan `json:"resourceSpans"`
}

// ResourceSpan groups spans under the resource that produced them.
type ResourceSpan struct {
	Resource   Resource    `json:"resource"`
	ScopeSpans []ScopeSpan `json:"scopeSpans"`
}

// Resource carries resource-level attributes such as service.name.
type Resource struct {
	Attributes []Attribute `json:"attributes"`
}

// ScopeSpan groups spans under an instrumentation scope.
type ScopeSpan struct {
	Scope Scope  `json:"scope"`
	Spans []Span `json:"spans"`
}

// Scope identifies the instrumentation library.
type Scope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Span is the OTLP JSON span shape. Times are nanosecond strings; intValue
// attributes are also strings, per the proto3 JSON mapping.
type Span struct {
	TraceID           string      `json:"traceId"`
	SpanID            string      `json:"spanId"`
	ParentSpanID      string      `json:"parentSpanId,omitempty"`
	Name              string      `json:"name"`
	Kind              int         `json:"kind,omitempty"`
	StartTimeUnixNano string      `json:"startTimeUnixNano"`
	EndTimeUnixNano   string      `json:"endTimeUnixNano,omitempty"`
	Attributes        []Attribute `json:"attributes,omitempty"`
	Status            SpanStatus  `json:"status"`
}

// Attribute is one typed key-value pair.
type Attribute struct {
	Key   string    `json:"key"`
	Value AttrValue `json:"value"`
}

// AttrValue is the OTLP typed value wrapper. Exactly one field is set;
// pointers distinguish an absent field from a zero value so bools and zero
// numbers survive the round trip.
type AttrValue struct {
	StringValue *string     `json:"stringValue,omitempty"`
	IntValue    *string     `json:"intValue,omitempty"`
	DoubleValue *float64    `json:"doubleValue,omitempty"`
	BoolValue   *bool       `json:"boolValue,omitempty"`
	ArrayValue  *ArrayValue `json:"arrayValue,omitempty"`

	raw json.RawMessage
}

// ArrayValue holds a list of typed values.
type ArrayValue struct {
	Values []AttrValue `json:"values"`
}

// SpanStatus mirrors the OTLP status message. Code 0 is unset, 1 is ok,
// 2 is error.
type SpanStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (v *AttrValue) UnmarshalJSON(data []byte) error {
	type plain AttrValue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = AttrValue(p)
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Native unwraps the typed value into a plain Go value. Unknown wrappers
// (kvlistValue, bytesValue, future additions) stringify to their JSON text.
func (v AttrValue) Native() any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntValue != nil:
		n, err := strconv.ParseInt(*v.IntValue, 10, 64)
		if err != nil {
			return *v.IntValue
		}
		return n
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BoolValue != nil:
		return *v.BoolValue
	case v.ArrayValue != nil:
		out := make([]any, 0, len(v.ArrayValue.Values))
		for _, elem := range v.ArrayValue.Values {
			out = append(out, elem.Native())
		}
		return out
	case len(v.raw) > 0:
		return string(v.raw)
	default:
		return nil
	}
}

// wrapValue converts a plain Go value into the typed wrapper. Integral
// float64s become intValue so numbers decoded from JSON keep their shape.
func wrapValue(value any) AttrValue {
	switch v := value.(type) {
	case string:
		return AttrValue{StringValue: &v}
	case bool:
		return AttrValue{BoolValue: &v}
	case int:
		s := strconv.FormatInt(int64(v), 10)
		return AttrValue{IntValue: &s}
	case int64:
		s := strconv.FormatInt(v, 10)
		return AttrValue{IntValue: &s}
	case float64:
		if v == float64(int64(v)) {
			s := strconv.FormatInt(int64(v), 10)
			return AttrValue{IntValue: &s}
		}
		return AttrValue{DoubleValue: &v}
	case []any:
		arr := &ArrayValue{Values: make([]AttrValue, 0, len(v))}
		for _, elem := range v {
			arr.Values = append(arr.Values, wrapValue(elem))
		}
		return AttrValue{ArrayValue: arr}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s := fmt.Sprintf("%v", v)
			return AttrValue{StringValue: &s}
		}
		s := string(data)
		return AttrValue{StringValue: &s}
	}
}

// Decode flattens an OTLP payload into native span records. Spans missing
// either traceId or spanId are dropped. The span_type attribute selects the
// native type (unknown values fall back to custom) and is removed from the
// attribute map afterwards.
func Decode(req *ExportRequest) []models.Span {
	var out []models.Span
	for _, rs := range req.ResourceSpans {
		sdkLanguage := resourceString(rs.Resource.Attributes, "telemetry.sdk.language")
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				if span.TraceID == "" || span.SpanID == "" {
					continue
				}
				out = append(out, decodeSpan(span, sdkLanguage))
			}
		}
	}
	return out
}

func decodeSpan(span Span, sdkLanguage string) models.Span {
	attrs := make(map[string]any, len(span.Attributes))
	for _, attr := range span.Attributes {
		attrs[attr.Key] = attr.Value.Native()
	}

	spanType := models.SpanTypeCustom
	if raw, ok := attrs[models.AttrSpanType].(string); ok {
		if t := models.SpanType(raw); t.Valid() {
			spanType = t
		}
	}
	delete(attrs, models.AttrSpanType)

	status := models.StatusUnset
	errorMessage := ""
	switch span.Status.Code {
	case 1:
		status = models.StatusOK
	case 2:
		status = models.StatusError
		if msg, ok := attrs[models.AttrErrorMessage].(string); ok && msg != "" {
			errorMessage = msg
		} else {
			errorMessage = span.Status.Message
		}
	}

	return models.Span{
		SpanID:       span.SpanID,
		TraceID:      span.TraceID,
		ParentSpanID: span.ParentSpanID,
		Name:         span.Name,
		SpanType:     spanType,
		Status:       status,
		ErrorMessage: errorMessage,
		StartTime:    nanosToSeconds(span.StartTimeUnixNano),
		EndTime:      nanosToSecondsPtr(span.EndTimeUnixNano),
		Attributes:   attrs,
		SDKLanguage:  sdkLanguage,
	}
}

// Encode wraps native spans in the OTLP structure: one resource carrying the
// trace name as service.name, one scope per payload.
func Encode(trace *models.Trace, spans []models.Span) *ExportRequest {
	encoded := make([]Span, 0, len(spans))
	for _, span := range spans {
		encoded = append(encoded, encodeSpan(span))
	}
	serviceName := "beacon"
	if trace != nil && trace.Name != "" {
		serviceName = trace.Name
	}
	return &ExportRequest{
		ResourceSpans: []ResourceSpan{{
			Resource: Resource{Attributes: []Attribute{
				{Key: "service.name", Value: wrapValue(serviceName)},
			}},
			ScopeSpans: []ScopeSpan{{
				Scope: Scope{Name: "beacon"},
				Spans: encoded,
			}},
		}},
	}
}

func encodeSpan(span models.Span) Span {
	attrs := make([]Attribute, 0, len(span.Attributes)+2)
	attrs = append(attrs, Attribute{
		Key:   models.AttrSpanType,
		Value: wrapValue(string(span.SpanType)),
	})
	for _, key := range sortedKeys(span.Attributes) {
		attrs = append(attrs, Attribute{Key: key, Value: wrapValue(span.Attributes[key])})
	}

	status := SpanStatus{}
	switch span.Status {
	case models.StatusOK:
		status.Code = 1
	case models.StatusError:
		status.Code = 2
		status.Message = span.ErrorMessage
		if span.ErrorMessage != "" {
			attrs = append(attrs, Attribute{
				Key:   models.AttrErrorMessage,
				Value: wrapValue(span.ErrorMessage),
			})
		}
	}

	return Span{
		TraceID:           span.TraceID,
		SpanID:            span.SpanID,
		ParentSpanID:      span.ParentSpanID,
		Name:              span.Name,
		StartTimeUnixNano: secondsToNanos(span.StartTime),
		EndTimeUnixNano:   endNanos(span.EndTime),
		Attributes:        attrs,
		Status:            status,
	}
}

// nanosToSeconds parses an OTLP nanosecond string into float seconds. Whole
// seconds and the sub-second remainder convert separately; a single float64
// division at epoch scale cannot resolve nanoseconds.
func nanosToSeconds(nanoStr string) float64 {
	if nanoStr == "" {
		return 0
	}
	nanos, err := strconv.ParseInt(nanoStr, 10, 64)
	if err != nil {
		return 0
	}
	sec := nanos / int64(time.Second)
	frac := nanos % int64(time.Second)
	return float64(sec) + float64(frac)/float64(time.Second)
}

// nanosToSecondsPtr maps a zero or missing end time to nil, meaning the span
// is still in flight.
func nanosToSecondsPtr(nanoStr string) *float64 {
	if nanoStr == "" || nanoStr == "0" {
		return nil
	}
	sec := nanosToSeconds(nanoStr)
	if sec == 0 {
		return nil
	}
	return &sec
}

func secondsToNanos(seconds float64) string {
	sec := int64(seconds)
	frac := int64(math.Round((seconds - float64(sec)) * float64(time.Second)))
	if frac >= int64(time.Second) {
		sec++
		frac -= int64(time.Second)
	}
	return strconv.FormatInt(sec*int64(time.Second)+frac, 10)
}

func endNanos(end *float64) string {
	if end == nil {
		return ""
	}
	return secondsToNanos(*end)
}

func resourceString(attrs []Attribute, key string) string {
	for _, attr := range attrs {
		if attr.Key == key {
			if s, ok := attr.Value.Native().(string); ok {
				return s
			}
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
