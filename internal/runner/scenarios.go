package runner

import "github.com/haasonsaas/beacon/internal/llm"

// Scenario is one scripted agent run. The catalog is fixed at compile time;
// there is no runtime registration.
type Scenario struct {
	Key          string           `json:"key"`
	DisplayName  string           `json:"display_name"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	SystemPrompt string           `json:"system_prompt"`
	UserMessage  string           `json:"user_message"`
	Tools        []llm.ToolSchema `json:"tools"`
	MaxSteps     int              `json:"max_steps"`
}

const defaultMaxSteps = 5

var scenarios = []Scenario{
	{
		Key:          "research-assistant",
		DisplayName:  "Research Assistant",
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are a research assistant. Use the tools to gather sources before answering.",
		UserMessage:  "Summarize the current state of WebAssembly outside the browser.",
		Tools: []llm.ToolSchema{
			{
				Name:        "web_search",
				Description: "Search the web and return a list of result snippets.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string", "description": "Search query"},
					},
					"required": []any{"query"},
				},
			},
			{
				Name:        "read_page",
				Description: "Fetch a URL and return its readable text.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url": map[string]any{"type": "string", "description": "Page URL"},
					},
					"required": []any{"url"},
				},
			},
		},
		MaxSteps: defaultMaxSteps,
	},
	{
		Key:          "code-reviewer",
		DisplayName:  "Code Reviewer",
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "You review Go code for correctness and style. Read the files before commenting.",
		UserMessage:  "Review the changes in internal/store and flag anything risky.",
		Tools: []llm.ToolSchema{
			{
				Name:        "read_file",
				Description: "Read a file from the repository.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path": map[string]any{"type": "string", "description": "File path"},
					},
					"required": []any{"path"},
				},
			},
			{
				Name:        "run_tests",
				Description: "Run the test suite for a package and return the output.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"package": map[string]any{"type": "string", "description": "Package path"},
					},
					"required": []any{"package"},
				},
			},
		},
		MaxSteps: defaultMaxSteps,
	},
	{
		Key:          "trip-planner",
		DisplayName:  "Trip Planner",
		Provider:     "google",
		Model:        "gemini-2.0-flash",
		SystemPrompt: "You plan trips. Check the weather and flight options before proposing an itinerary.",
		UserMessage:  "Plan a long weekend in Lisbon in October.",
		Tools: []llm.ToolSchema{
			{
				Name:        "get_weather",
				Description: "Get the forecast for a city.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"city": map[string]any{"type": "string", "description": "City name"},
					},
					"required": []any{"city"},
				},
			},
			{
				Name:        "find_flights",
				Description: "Search flights between two cities.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"from": map[string]any{"type": "string"},
						"to":   map[string]any{"type": "string"},
					},
					"required": []any{"from", "to"},
				},
			},
		},
		MaxSteps: defaultMaxSteps,
	},
}

// Scenarios lists the catalog in declaration order.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// Lookup finds a scenario by key.
func Lookup(key string) (Scenario, bool) {
	for _, sc := range scenarios {
		if sc.Key == key {
			return sc, true
		}
	}
	return Scenario{}, false
}

// simulatedOutputs are the canned tool results, keyed by tool name. Output
// depends only on the tool name so runs are reproducible.
var simulatedOutputs = map[string]string{
	"web_search":   `[{"title":"WASI 0.2 ships","snippet":"The component model reaches stable releases across runtimes."}]`,
	"read_page":    "WebAssembly runtimes such as wasmtime and wazero now target server workloads.",
	"read_file":    "package store\n\nfunc Open(path string) (*Store, error) { /* elided */ }",
	"run_tests":    "ok  	internal/store	0.412s",
	"get_weather":  `{"city":"Lisbon","forecast":"sunny","high_c":24,"low_c":16}`,
	"find_flights": `[{"carrier":"TAP","depart":"Fri 08:10","return":"Mon 21:35","price_eur":184}]`,
}

// simulateTool returns the canned output for a tool.
func simulateTool(name string) string {
	if out, ok := simulatedOutputs[name]; ok {
		return out
	}
	return `{"result":"done"}`
}
