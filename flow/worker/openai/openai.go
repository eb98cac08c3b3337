// Package openai provides a flow.Worker backed by OpenAI's chat models
// for agent task nodes.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jharlan/flowgraph-go/flow"
)

// DefaultModel is the chat model used when none is specified.
const DefaultModel = "gpt-4o"

// Worker executes agent tasks by sending the task description, inputs
// and upstream results to an OpenAI chat model in JSON mode and parsing
// a structured verdict.
//
// The model answers with one JSON object: {"result": {...}} to complete
// the task or {"input_required": {"question": "..."}} to park the node
// in PAUSED_FOR_INPUT until the caller resumes it with input.
//
// Worker is safe for concurrent use.
type Worker struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-backed worker.
//
// Parameters:
//   - apiKey: OpenAI API key. If empty, reads OPENAI_API_KEY from the
//     environment.
//   - model: chat model name (e.g. "gpt-4o", "gpt-4-turbo"). If empty,
//     DefaultModel is used.
func New(apiKey, model string) (*Worker, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("openai API key not provided and OPENAI_API_KEY not set")
		}
	}
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Worker{
		client: &client,
		model:  model,
	}, nil
}

// Execute implements flow.Worker.
func (w *Worker) Execute(ctx context.Context, task flow.Task, rc *flow.RunContext) (flow.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return flow.Outcome{}, err
	}

	prompt := buildPrompt(task, rc)

	completion, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(w.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
		Temperature: openai.Float(1.0),
	})
	if err != nil {
		return flow.Outcome{}, fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return flow.Outcome{}, errors.New("no response from OpenAI API")
	}

	outcome, err := parseVerdict(completion.Choices[0].Message.Content)
	if err != nil {
		return flow.Outcome{}, err
	}
	if outcome.Kind == flow.OutcomeSuccess {
		outcome.Payload["tokens"] = int(completion.Usage.TotalTokens)
		outcome.Payload["model"] = w.model
	}
	return outcome, nil
}

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

	sb.WriteString("\nAnswer with one JSON object.\n")
	sb.WriteString(`If you can complete the task: {"result": {"summary": "...", ...}}` + "\n")
	sb.WriteString(`If you need information only the requester can supply: {"input_required": {"question": "..."}}`)
	return sb.String()
}

func parseVerdict(content string) (flow.Outcome, error) {
	// JSON mode still occasionally wraps output in a code fence.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdict struct {
		Result        map[string]interface{} `json:"result"`
		InputRequired map[string]interface{} `json:"input_required"`
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return flow.Outcome{}, fmt.Errorf("failed to parse model response: %w", err)
	}

	if verdict.InputRequired != nil {
		return flow.NeedInput(verdict.InputRequired), nil
	}
	if verdict.Result == nil {
		verdict.Result = map[string]interface{}{}
	}
	return flow.Success(verdict.Result), nil
}

// Retryable reports whether an error from this worker is worth another
// attempt. Suitable as a flow.RetryPolicy predicate.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "503")
}
