package models

// Trace is the rooted set of spans sharing a trace_id, together with the
// derived rollup columns maintained by the store's aggregator. Callers never
// write the derived fields directly; they are recomputed on every span write.
type Trace struct {
	TraceID      string            `json:"trace_id"`
	Name         string            `json:"name"`
	StartTime    float64           `json:"start_time"`
	EndTime      *float64          `json:"end_time"`
	SpanCount    int               `json:"span_count"`
	Status       Status            `json:"status"`
	TotalCostUSD float64           `json:"total_cost_usd"`
	TotalTokens  int64             `json:"total_tokens"`
	Tags         map[string]string `json:"tags"`
	SDKLanguage  string            `json:"sdk_language,omitempty"`
	CreatedAt    float64           `json:"created_at"`
}

// ReplayRun records a re-execution of an llm_call span with modified inputs.
// It is cascade-deleted with the original span and trace.
type ReplayRun struct {
	ReplayID      string         `json:"replay_id"`
	SpanID        string         `json:"span_id"`
	TraceID       string         `json:"trace_id"`
	ModifiedInput map[string]any `json:"modified_input"`
	NewOutput     string         `json:"new_output"`
	Diff          ReplayDiff     `json:"diff"`
	CreatedAt     float64        `json:"created_at"`
}

// ReplayDiff compares the original completion with the replayed one.
type ReplayDiff struct {
	Old     string `json:"old_completion"`
	New     string `json:"new_completion"`
	Changed bool   `json:"changed"`
}

// PromptVersion is a saved revision of an llm_call span's prompt text.
type PromptVersion struct {
	VersionID  string  `json:"version_id"`
	SpanID     string  `json:"span_id"`
	PromptText string  `json:"prompt_text"`
	Label      string  `json:"label,omitempty"`
	CreatedAt  float64 `json:"created_at"`
}
