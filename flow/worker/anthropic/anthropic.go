// Package anthropic provides a flow.Worker backed by Anthropic's Claude
// API for agent task nodes.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jharlan/flowgraph-go/flow"
)

// DefaultModel is the Claude model used when none is specified.
const DefaultModel = "claude-3-5-sonnet-20241022"

// Worker executes agent tasks by sending the task description, inputs
// and upstream results to Claude and parsing a structured JSON verdict.
//
// The model is instructed to answer with a single JSON object, either
//
//	{"result": {...}}
//
// when it can complete the task, or
//
//	{"input_required": {"question": "..."}}
//
// when it needs information only the caller can supply. The latter
// parks the node in PAUSED_FOR_INPUT; the resumed input arrives on the
// next attempt through task.Input.
//
// Worker is safe for concurrent use; the underlying SDK client handles
// concurrent requests.
type Worker struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude-backed worker.
//
// Parameters:
//   - apiKey: Anthropic API key. If empty, reads ANTHROPIC_API_KEY from
//     the environment.
//   - model: Claude model name. If empty, DefaultModel is used.
func New(apiKey, model string) (*Worker, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key not provided and ANTHROPIC_API_KEY not set")
		}
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Worker{
		client:    &client,
		model:     model,
		maxTokens: 4096,
	}, nil
}

// Execute implements flow.Worker.
func (w *Worker) Execute(ctx context.Context, task flow.Task, rc *flow.RunContext) (flow.Outcome, error) {
	prompt := buildPrompt(task, rc)

	message, err := w.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(w.model),
		MaxTokens: w.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return flow.Outcome{}, classifyAPIError(err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	outcome, err := parseVerdict(responseText)
	if err != nil {
		return flow.Outcome{}, err
	}
	if outcome.Kind == flow.OutcomeSuccess {
		outcome.Payload["tokens"] = int(message.Usage.InputTokens + message.Usage.OutputTokens)
		outcome.Payload["model"] = w.model
	}
	return outcome, nil
}

// buildPrompt renders the task, its structured inputs and the payloads
// of completed upstream nodes into one instruction block.
func buildPrompt(task flow.Task, rc *flow.RunContext) string {
	var sb strings.Builder

	sb.WriteString("You are one worker in a multi-agent workflow.\n\n")
	if rc.Query != "" {
		sb.WriteString("Overall request: ")
		sb.WriteString(rc.Query)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Your task: ")
	sb.WriteString(task.Description)
	sb.WriteString("\n")

	if len(task.Input) > 0 {
		if data, err := json.Marshal(task.Input); err == nil {
			sb.WriteString("\nTask inputs:\n")
			sb.Write(data)
			sb.WriteString("\n")
		}
	}

	if results := rc.Results(); len(results) > 0 {
		if data, err := json.Marshal(results); err == nil {
			sb.WriteString("\nResults from completed upstream tasks, keyed by task name:\n")
			sb.Write(data)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nAnswer with ONLY one JSON object, no additional text.\n")
	sb.WriteString(`If you can complete the task: {"result": {"summary": "...", ...}}` + "\n")
	sb.WriteString(`If you need information only the requester can supply: {"input_required": {"question": "..."}}`)
	return sb.String()
}

// parseVerdict extracts the worker verdict from the model's reply,
// tolerating surrounding prose around the JSON object.
func parseVerdict(responseText string) (flow.Outcome, error) {
	text := responseText
	var verdict struct {
		Result        map[string]interface{} `json:"result"`
		InputRequired map[string]interface{} `json:"input_required"`
	}

	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		jsonStart := strings.Index(text, "{")
		jsonEnd := strings.LastIndex(text, "}")
		if jsonStart == -1 || jsonEnd == -1 || jsonStart >= jsonEnd {
			return flow.Outcome{}, fmt.Errorf("no JSON object found in model response")
		}
		if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &verdict); err != nil {
			return flow.Outcome{}, fmt.Errorf("failed to parse model response: %w", err)
		}
	}

	if verdict.InputRequired != nil {
		return flow.NeedInput(verdict.InputRequired), nil
	}
	if verdict.Result == nil {
		verdict.Result = map[string]interface{}{}
	}
	return flow.Success(verdict.Result), nil
}

// classifyAPIError maps SDK errors onto the engine's retry semantics:
// rate limits and timeouts come back as plain errors (retryable under a
// policy that opts in), permanent configuration problems are annotated
// so callers can spot them.
func classifyAPIError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "401") ||
		strings.Contains(errMsg, "403") ||
		strings.Contains(errMsg, "authentication") ||
		strings.Contains(errMsg, "api_key") {
		return fmt.Errorf("anthropic API key rejected: %w", err)
	}

	if strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "rate_limit") ||
		strings.Contains(errMsg, "too many requests") {
		return fmt.Errorf("anthropic rate limited: %w", err)
	}

	return fmt.Errorf("anthropic API error: %w", err)
}

// Retryable reports whether an error from this worker is worth another
// attempt. Suitable as a flow.RetryPolicy predicate.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "rate limited") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "529") ||
		strings.Contains(msg, "503")
}
