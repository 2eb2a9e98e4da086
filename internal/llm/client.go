// Package llm gives the server one interface over the OpenAI, Anthropic, and
// Google completion APIs: non-streaming text completion with optional tool
// calling, normalized tool-call records, and a per-model cost table.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// requestTimeout bounds every provider HTTP call.
const requestTimeout = 60 * time.Second

// Message is one turn in a conversation. Role is "system", "user",
// "assistant", or "tool"; tool messages carry the result of a prior tool
// call and reference it by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a normalized tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSchema describes a tool offered to the model. Parameters is a JSON
// Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSchema
	Temperature *float64
	MaxTokens   int
}

// Response is the normalized completion result. Raw preserves the provider's
// assistant message verbatim for callers that need to replay it (Anthropic's
// content blocks in particular).
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	ToolCalls    []ToolCall
	FinishReason string
	Raw          json.RawMessage
}

// Client is one provider backend.
type Client interface {
	Provider() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// UpstreamError wraps a provider API failure so the HTTP layer can map it to
// a 502 with a truncated body.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Registry holds one configured client per provider.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds clients for every provider with a configured key.
func NewRegistry(openaiKey, anthropicKey, googleKey string) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client)}
	if openaiKey != "" {
		r.clients["openai"] = NewOpenAIClient(openaiKey)
	}
	if anthropicKey != "" {
		r.clients["anthropic"] = NewAnthropicClient(anthropicKey)
	}
	if googleKey != "" {
		c, err := NewGoogleClient(googleKey)
		if err != nil {
			return nil, err
		}
		r.clients["google"] = c
	}
	return r, nil
}

// NewRegistryWith builds a registry from prebuilt clients; tests use it to
// inject scripted providers.
func NewRegistryWith(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

// ForProvider returns the client for a provider name.
func (r *Registry) ForProvider(provider string) (Client, error) {
	c, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("llm: provider %q is not configured", provider)
	}
	return c, nil
}

// ForModel resolves the model to a provider and returns its client.
func (r *Registry) ForModel(model string) (Client, error) {
	provider := ResolveProvider(model)
	if provider == "" {
		return nil, fmt.Errorf("llm: cannot resolve provider for model %q", model)
	}
	return r.ForProvider(provider)
}

// modelProviders maps exact model names to providers; prefixes below catch
// unknown variants.
var modelProviders = map[string]string{
	"gpt-4o":                     "openai",
	"gpt-4o-mini":                "openai",
	"gpt-4-turbo":                "openai",
	"gpt-4":                      "openai",
	"gpt-3.5-turbo":              "openai",
	"o1":                         "openai",
	"o3":                         "openai",
	"o3-mini":                    "openai",
	"o4-mini":                    "openai",
	"claude-sonnet-4-5":          "anthropic",
	"claude-opus-4-1":            "anthropic",
	"claude-3-5-sonnet-20241022": "anthropic",
	"claude-3-5-haiku-20241022":  "anthropic",
	"gemini-2.0-flash":           "google",
	"gemini-1.5-pro":             "google",
	"gemini-1.5-flash":           "google",
}

// ResolveProvider maps a model name to its provider, falling back to prefix
// rules for unknown variants. Returns "" when nothing matches.
func ResolveProvider(model string) string {
	if p, ok := modelProviders[model]; ok {
		return p
	}
	switch {
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	}
	return ""
}
