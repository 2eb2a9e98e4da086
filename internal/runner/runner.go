// Package runner drives scripted LLM tool-calling loops to produce demo
// traces. Spans are written through the intake pipeline, so a run is
// indistinguishable from SDK traffic: in-flight llm_call spans appear first
// and are rewritten in place once the provider answers.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/beacon/internal/intake"
	"github.com/haasonsaas/beacon/internal/llm"
	"github.com/haasonsaas/beacon/internal/metrics"
	"github.com/haasonsaas/beacon/pkg/models"
)

// maxErrorLength bounds the error message written to the root span.
const maxErrorLength = 500

// Runner launches background scenario runs.
type Runner struct {
	pipeline *intake.Pipeline
	registry *llm.Registry
	logger   *slog.Logger
	nowFn    func() float64
}

// New creates a runner.
func New(pipeline *intake.Pipeline, registry *llm.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline: pipeline,
		registry: registry,
		logger:   logger,
		nowFn:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Launch starts a scenario in the background and returns the new trace id
// immediately. The run is not cancellable; it finishes or fails on its own.
func (r *Runner) Launch(key string) (string, error) {
	scenario, ok := Lookup(key)
	if !ok {
		return "", fmt.Errorf("runner: unknown scenario %q", key)
	}
	traceID := uuid.NewString()
	go r.run(context.Background(), scenario, traceID)
	return traceID, nil
}

// run executes the tool-calling loop. All spans hang off a single root
// agent_step span; the root is finalized last with the run's outcome.
func (r *Runner) run(ctx context.Context, scenario Scenario, traceID string) {
	rootID := uuid.NewString()
	root := &models.Span{
		SpanID:    rootID,
		TraceID:   traceID,
		Name:      scenario.DisplayName,
		SpanType:  models.SpanTypeAgentStep,
		Status:    models.StatusUnset,
		StartTime: r.nowFn(),
		Attributes: map[string]any{
			models.AttrAgentFramework: "beacon-runner",
			models.AttrAgentStepName:  scenario.Key,
			models.AttrAgentInput:     scenario.UserMessage,
		},
	}
	if err := r.emit(ctx, root); err != nil {
		r.logger.Error("scenario failed to start", "scenario", scenario.Key, "error", err)
		metrics.AgentRuns.WithLabelValues("error").Inc()
		return
	}

	client, err := r.registry.ForProvider(scenario.Provider)
	if err != nil {
		r.fail(ctx, root, err)
		return
	}

	messages := []llm.Message{{Role: "user", Content: scenario.UserMessage}}
	maxSteps := scenario.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	var finalText string
	for step := 0; step < maxSteps; step++ {
		resp, err := r.llmStep(ctx, scenario, client, traceID, rootID, messages)
		if err != nil {
			r.fail(ctx, root, err)
			return
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		finalText = resp.Text

		if len(resp.ToolCalls) == 0 {
			break
		}
		for _, call := range resp.ToolCalls {
			output := simulateTool(call.Name)
			if err := r.emitToolSpan(ctx, traceID, rootID, call, output); err != nil {
				r.fail(ctx, root, err)
				return
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	end := r.nowFn()
	root.EndTime = &end
	root.Status = models.StatusOK
	root.Attributes[models.AttrAgentOutput] = finalText
	if err := r.emit(ctx, root); err != nil {
		r.logger.Error("scenario failed to finalize", "scenario", scenario.Key, "error", err)
		metrics.AgentRuns.WithLabelValues("error").Inc()
		return
	}

	r.logger.Info("scenario completed", "scenario", scenario.Key, "trace_id", traceID)
	metrics.AgentRuns.WithLabelValues("ok").Inc()
}

// llmStep runs one provider call with two-phase span emission: the in-flight
// span goes out before the call, then the same span_id is rewritten with the
// full result.
func (r *Runner) llmStep(ctx context.Context, scenario Scenario, client llm.Client, traceID, rootID string, messages []llm.Message) (*llm.Response, error) {
	span := &models.Span{
		SpanID:       uuid.NewString(),
		TraceID:      traceID,
		ParentSpanID: rootID,
		Name:         scenario.Model,
		SpanType:     models.SpanTypeLLMCall,
		Status:       models.StatusUnset,
		StartTime:    r.nowFn(),
		Attributes: map[string]any{
			models.AttrLLMProvider: scenario.Provider,
			models.AttrLLMModel:    scenario.Model,
			models.AttrLLMPrompt:   messages[len(messages)-1].Content,
		},
	}
	if err := r.emit(ctx, span); err != nil {
		return nil, err
	}

	resp, err := client.Complete(ctx, &llm.Request{
		Model:    scenario.Model,
		System:   scenario.SystemPrompt,
		Messages: messages,
		Tools:    scenario.Tools,
	})

	end := r.nowFn()
	span.EndTime = &end
	if err != nil {
		span.Status = models.StatusError
		span.ErrorMessage = truncate(err.Error())
		if emitErr := r.emit(ctx, span); emitErr != nil {
			r.logger.Error("failed to record llm error", "error", emitErr)
		}
		return nil, err
	}

	span.Status = models.StatusOK
	span.Attributes[models.AttrLLMCompletion] = resp.Text
	span.Attributes[models.AttrLLMTokensInput] = resp.InputTokens
	span.Attributes[models.AttrLLMTokensOutput] = resp.OutputTokens
	span.Attributes[models.AttrLLMTokensTotal] = resp.InputTokens + resp.OutputTokens
	span.Attributes[models.AttrLLMCostUSD] = llm.Cost(scenario.Model, resp.InputTokens, resp.OutputTokens)
	span.Attributes[models.AttrLLMFinishReason] = resp.FinishReason
	if len(resp.ToolCalls) > 0 {
		span.Attributes[models.AttrLLMToolCalls] = toolCallRecords(resp.ToolCalls)
	}
	if err := r.emit(ctx, span); err != nil {
		return nil, err
	}
	return resp, nil
}

// emitToolSpan writes a completed tool_use span parented on the root.
func (r *Runner) emitToolSpan(ctx context.Context, traceID, rootID string, call llm.ToolCall, output string) error {
	start := r.nowFn()
	end := r.nowFn()
	return r.emit(ctx, &models.Span{
		SpanID:       uuid.NewString(),
		TraceID:      traceID,
		ParentSpanID: rootID,
		Name:         call.Name,
		SpanType:     models.SpanTypeToolUse,
		Status:       models.StatusOK,
		StartTime:    start,
		EndTime:      &end,
		Attributes: map[string]any{
			models.AttrToolName:   call.Name,
			models.AttrToolInput:  call.Arguments,
			models.AttrToolOutput: output,
		},
	})
}

// fail finalizes the root span as error with a truncated message.
func (r *Runner) fail(ctx context.Context, root *models.Span, cause error) {
	end := r.nowFn()
	root.EndTime = &end
	root.Status = models.StatusError
	root.ErrorMessage = truncate(cause.Error())
	if err := r.emit(ctx, root); err != nil {
		r.logger.Error("failed to finalize failed run", "error", err)
	}
	r.logger.Error("scenario failed", "trace_id", root.TraceID, "error", cause)
	metrics.AgentRuns.WithLabelValues("error").Inc()
}

func (r *Runner) emit(ctx context.Context, span *models.Span) error {
	_, err := r.pipeline.Apply(ctx, span)
	return err
}

func toolCallRecords(calls []llm.ToolCall) []any {
	out := make([]any, 0, len(calls))
	for _, call := range calls {
		out = append(out, map[string]any{
			"id":        call.ID,
			"name":      call.Name,
			"arguments": call.Arguments,
		})
	}
	return out
}

func truncate(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	return s[:maxErrorLength]
}
