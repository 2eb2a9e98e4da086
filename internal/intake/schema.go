package intake

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type spanSchemaRegistry struct {
	once    sync.Once
	initErr error
	span    *jsonschema.Schema
}

var spanSchemas spanSchemaRegistry

func initSpanSchema() error {
	spanSchemas.once.Do(func() {
		compiled, err := jsonschema.CompileString("span", spanSchema)
		if err != nil {
			spanSchemas.initErr = err
			return
		}
		spanSchemas.span = compiled
	})
	return spanSchemas.initErr
}

func validateSpanPayload(raw json.RawMessage) error {
	if err := initSpanSchema(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return spanSchemas.span.Validate(payload)
}

const spanSchema = `{
  "type": "object",
  "required": ["span_id", "trace_id", "name", "span_type", "start_time"],
  "properties": {
    "span_id": { "type": "string", "minLength": 1 },
    "trace_id": { "type": "string", "minLength": 1 },
    "parent_span_id": { "type": "string" },
    "name": { "type": "string", "minLength": 1 },
    "span_type": {
      "enum": ["llm_call", "tool_use", "agent_step", "browser_action", "file_operation", "shell_command", "chain", "custom"]
    },
    "status": { "enum": ["ok", "error", "unset"] },
    "error_message": { "type": "string" },
    "start_time": { "type": "number" },
    "end_time": { "type": ["number", "null"] },
    "attributes": { "type": "object" },
    "sdk_language": { "type": "string" }
  },
  "additionalProperties": true
}`
