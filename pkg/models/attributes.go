package models

// Well-known attribute keys carried on spans. The aggregator reads the llm.*
// cost and token keys; the exporters and UI read the rest.
const (
	AttrLLMProvider     = "llm.provider"
	AttrLLMModel        = "llm.model"
	AttrLLMPrompt       = "llm.prompt"
	AttrLLMCompletion   = "llm.completion"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrLLMTokensTotal  = "llm.tokens.total"
	AttrLLMCostUSD      = "llm.cost_usd"
	AttrLLMTemperature  = "llm.temperature"
	AttrLLMMaxTokens    = "llm.max_tokens"
	AttrLLMFinishReason = "llm.finish_reason"
	AttrLLMToolCalls    = "llm.tool_calls"

	AttrToolName   = "tool.name"
	AttrToolInput  = "tool.input"
	AttrToolOutput = "tool.output"

	AttrBrowserAction     = "browser.action"
	AttrBrowserURL        = "browser.url"
	AttrBrowserSelector   = "browser.selector"
	AttrBrowserValue      = "browser.value"
	AttrBrowserScreenshot = "browser.screenshot"

	AttrFileOperation = "file.operation"
	AttrFilePath      = "file.path"
	AttrFileContent   = "file.content"
	AttrFileSizeBytes = "file.size_bytes"

	AttrShellCommand    = "shell.command"
	AttrShellStdout     = "shell.stdout"
	AttrShellStderr     = "shell.stderr"
	AttrShellReturnCode = "shell.returncode"

	AttrChainType   = "chain.type"
	AttrChainInput  = "chain.input"
	AttrChainOutput = "chain.output"

	AttrAgentFramework = "agent.framework"
	AttrAgentStepName  = "agent.step_name"
	AttrAgentInput     = "agent.input"
	AttrAgentOutput    = "agent.output"
	AttrAgentThought   = "agent.thought"

	AttrSpanType     = "span_type"
	AttrErrorMessage = "error.message"
)
