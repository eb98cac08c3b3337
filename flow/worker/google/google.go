// Package google provides a flow.Worker backed by Google's Gemini API
// for agent task nodes.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jharlan/flowgraph-go/flow"
)

// DefaultModel is the Gemini model used when none is specified.
const DefaultModel = "gemini-1.5-flash"

// Worker executes agent tasks by sending the task description, inputs
// and upstream results to a Gemini model configured for JSON output and
// parsing a structured verdict.
//
// The model answers with one JSON object: {"result": {...}} to complete
// the task or {"input_required": {"question": "..."}} to park the node
// in PAUSED_FOR_INPUT until the caller resumes it with input.
//
// Close should be called when the worker is no longer needed; it
// releases the underlying Gemini client.
type Worker struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed worker.
//
// Parameters:
//   - apiKey: Google API key. If empty, reads GOOGLE_API_KEY from the
//     environment.
//   - model: Gemini model name (e.g. "gemini-1.5-flash", "gemini-pro").
//     If empty, DefaultModel is used.
func New(ctx context.Context, apiKey, model string) (*Worker, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, errors.New("google API key not provided and GOOGLE_API_KEY not set")
		}
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &Worker{
		client: client,
		model:  model,
	}, nil
}

// Close releases the underlying Gemini client.
func (w *Worker) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// Execute implements flow.Worker.
func (w *Worker) Execute(ctx context.Context, task flow.Task, rc *flow.RunContext) (flow.Outcome, error) {
	prompt := buildPrompt(task, rc)

	model := w.client.GenerativeModel(w.model)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return flow.Outcome{}, classifyAPIError(err)
	}

	responseText, tokens := extractResponse(resp)
	if responseText == "" {
		return flow.Outcome{}, errors.New("empty response from Google API")
	}

	outcome, err := parseVerdict(responseText)
	if err != nil {
		return flow.Outcome{}, err
	}
	if outcome.Kind == flow.OutcomeSuccess {
		outcome.Payload["tokens"] = tokens
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

// extractResponse pulls the text of the first candidate and the total
// token count from a Gemini response.
func extractResponse(resp *genai.GenerateContentResponse) (string, int) {
	if resp == nil {
		return "", 0
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	if len(resp.Candidates) == 0 {
		return "", tokens
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", tokens
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), tokens
}

func parseVerdict(responseText string) (flow.Outcome, error) {
	var verdict struct {
		Result        map[string]interface{} `json:"result"`
		InputRequired map[string]interface{} `json:"input_required"`
	}
	if err := json.Unmarshal([]byte(responseText), &verdict); err != nil {
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

// classifyAPIError annotates Gemini SDK errors so permanent
// configuration problems are distinguishable from transient ones.
func classifyAPIError(err error) error {
	lowerMsg := strings.ToLower(err.Error())

	if strings.Contains(lowerMsg, "api key") ||
		strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "unauthorized") {
		return fmt.Errorf("google API key rejected: %w", err)
	}

	if strings.Contains(lowerMsg, "rate limit") ||
		strings.Contains(lowerMsg, "quota") ||
		strings.Contains(lowerMsg, "too many requests") ||
		strings.Contains(lowerMsg, "resource_exhausted") {
		return fmt.Errorf("google rate limited: %w", err)
	}

	return fmt.Errorf("google API error: %w", err)
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
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "unavailable")
}
