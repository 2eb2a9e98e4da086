package otlp

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/haasonsaas/beacon/pkg/models"
)

func strp(s string) *string { return &s }

func floatp(f float64) *float64 { return &f }

func TestDecodeSpan(t *testing.T) {
	payload := `{
		"resourceSpans": [{
			"resource": {"attributes": [
				{"key": "telemetry.sdk.language", "value": {"stringValue": "python"}}
			]},
			"scopeSpans": [{
				"scope": {"name": "beacon-sdk", "version": "0.1.0"},
				"spans": [{
					"traceId": "trace-1",
					"spanId": "span-1",
					"name": "chat",
					"startTimeUnixNano": "1700000000000000000",
					"endTimeUnixNano": "1700000002500000000",
					"attributes": [
						{"key": "span_type", "value": {"stringValue": "llm_call"}},
						{"key": "llm.model", "value": {"stringValue": "gpt-4o"}},
						{"key": "llm.tokens.total", "value": {"intValue": "150"}},
						{"key": "llm.cost_usd", "value": {"doubleValue": 0.002}},
						{"key": "cached", "value": {"boolValue": false}}
					],
					"status": {"code": 1}
				}]
			}]
		}]
	}`

	var req ExportRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	spans := Decode(&req)
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	span := spans[0]
	if span.SpanID != "span-1" || span.TraceID != "trace-1" {
		t.Errorf("ids = %s/%s", span.SpanID, span.TraceID)
	}
	if span.SpanType != models.SpanTypeLLMCall {
		t.Errorf("span_type = %s", span.SpanType)
	}
	if _, present := span.Attributes["span_type"]; present {
		t.Error("span_type should be removed from attributes")
	}
	if span.Status != models.StatusOK {
		t.Errorf("status = %s", span.Status)
	}
	if span.StartTime != 1700000000.0 {
		t.Errorf("start_time = %v", span.StartTime)
	}
	if span.EndTime == nil || *span.EndTime != 1700000002.5 {
		t.Errorf("end_time = %v", span.EndTime)
	}
	if span.SDKLanguage != "python" {
		t.Errorf("sdk_language = %q", span.SDKLanguage)
	}
	if got := span.Attributes["llm.tokens.total"]; got != int64(150) {
		t.Errorf("intValue decoded as %T %v", got, got)
	}
	if got := span.Attributes["llm.cost_usd"]; got != 0.002 {
		t.Errorf("doubleValue decoded as %v", got)
	}
	if got := span.Attributes["cached"]; got != false {
		t.Errorf("boolValue decoded as %T %v", got, got)
	}
}

func TestDecodeErrorStatus(t *testing.T) {
	withErrorAttr := Span{
		TraceID:           "t",
		SpanID:            "s",
		Name:              "op",
		StartTimeUnixNano: "1000000000",
		Status:            SpanStatus{Code: 2, Message: "fallback"},
		Attributes: []Attribute{
			{Key: "error.message", Value: AttrValue{StringValue: strp("boom")}},
		},
	}
	span := decodeSpan(withErrorAttr, "")
	if span.Status != models.StatusError || span.ErrorMessage != "boom" {
		t.Errorf("got status=%s message=%q, want error/boom", span.Status, span.ErrorMessage)
	}

	withErrorAttr.Attributes = nil
	span = decodeSpan(withErrorAttr, "")
	if span.ErrorMessage != "fallback" {
		t.Errorf("message = %q, want status.message fallback", span.ErrorMessage)
	}
}

func TestDecodeInFlight(t *testing.T) {
	span := decodeSpan(Span{
		TraceID:           "t",
		SpanID:            "s",
		Name:              "op",
		StartTimeUnixNano: "1000000000",
		EndTimeUnixNano:   "0",
	}, "")
	if span.EndTime != nil {
		t.Errorf("end_time = %v, want nil for zero nano string", *span.EndTime)
	}
	if span.Status != models.StatusUnset {
		t.Errorf("status = %s", span.Status)
	}
}

func TestDecodeDropsSpansWithoutIDs(t *testing.T) {
	req := &ExportRequest{ResourceSpans: []ResourceSpan{{
		ScopeSpans: []ScopeSpan{{Spans: []Span{
			{TraceID: "", SpanID: "s", Name: "a"},
			{TraceID: "t", SpanID: "", Name: "b"},
			{TraceID: "t", SpanID: "s", Name: "c", StartTimeUnixNano: "1"},
		}}},
	}}}
	spans := Decode(req)
	if len(spans) != 1 || spans[0].Name != "c" {
		t.Fatalf("got %d spans, want only the complete one", len(spans))
	}
}

func TestDecodeUnknownSpanTypeBecomesCustom(t *testing.T) {
	span := decodeSpan(Span{
		TraceID:           "t",
		SpanID:            "s",
		Name:              "op",
		StartTimeUnixNano: "1000000000",
		Attributes: []Attribute{
			{Key: "span_type", Value: AttrValue{StringValue: strp("quantum")}},
		},
	}, "")
	if span.SpanType != models.SpanTypeCustom {
		t.Errorf("span_type = %s, want custom", span.SpanType)
	}
}

func TestUnknownWrapperStringifies(t *testing.T) {
	var value AttrValue
	if err := json.Unmarshal([]byte(`{"kvlistValue":{"values":[]}}`), &value); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := value.Native().(string)
	if !ok || got == "" {
		t.Fatalf("unknown wrapper decoded as %T %v, want JSON string", value.Native(), got)
	}
}

func TestTimestampPrecision(t *testing.T) {
	if got := secondsToNanos(1700000001.25); got != "1700000001250000000" {
		t.Errorf("secondsToNanos(1700000001.25) = %s", got)
	}
	if got := nanosToSeconds("1700000001250000000"); got != 1700000001.25 {
		t.Errorf("nanosToSeconds = %v", got)
	}

	// Epoch-scale values with sub-second fractions must survive the string
	// conversion exactly.
	for _, sec := range []float64{
		1700000000,
		1700000001.25,
		1700000002.125,
		1756166400.5,
		0.75,
	} {
		if got := nanosToSeconds(secondsToNanos(sec)); got != sec {
			t.Errorf("round trip %v -> %v", sec, got)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	original := models.Span{
		SpanID:       "span-1",
		TraceID:      "trace-1",
		ParentSpanID: "root-1",
		Name:         "llm step",
		SpanType:     models.SpanTypeLLMCall,
		Status:       models.StatusError,
		ErrorMessage: "rate limited",
		StartTime:    1700000000,
		EndTime:      floatp(1700000001.25),
		Attributes: map[string]any{
			"llm.model":        "gpt-4o",
			"llm.tokens.total": int64(42),
			"llm.cost_usd":     0.015,
			"cached":           true,
			"labels":           []any{"a", "b"},
		},
	}

	req := Encode(nil, []models.Span{original})

	// Through JSON, the way a real OTLP sender would deliver it.
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var parsed ExportRequest
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	spans := Decode(&parsed)
	if len(spans) != 1 {
		t.Fatalf("got %d spans", len(spans))
	}
	got := spans[0]

	if got.SpanID != original.SpanID || got.TraceID != original.TraceID ||
		got.ParentSpanID != original.ParentSpanID || got.Name != original.Name {
		t.Errorf("identity fields changed: %+v", got)
	}
	if got.SpanType != original.SpanType || got.Status != original.Status ||
		got.ErrorMessage != original.ErrorMessage {
		t.Errorf("type/status changed: %+v", got)
	}
	if got.StartTime != original.StartTime || got.EndTime == nil || *got.EndTime != *original.EndTime {
		t.Errorf("times changed: start=%v end=%v", got.StartTime, got.EndTime)
	}
	for key, want := range original.Attributes {
		if !reflect.DeepEqual(got.Attributes[key], want) {
			t.Errorf("attribute %s = %#v, want %#v", key, got.Attributes[key], want)
		}
	}
}
