package agentdriver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"

	"github.com/featbench/featbench/internal/ferrors"
	"github.com/featbench/featbench/internal/harness"
	"github.com/featbench/featbench/internal/patch"
)

// APIDirectDriver is not one of the CLI-wrapping agents: instead of
// installing and shelling out to an agent binary, it calls the model
// provider's API directly with the problem statement and the repository
// name, asking for a single unified diff in response. This
// trades an agent's multi-turn tool use for a much cheaper one-shot
// baseline, useful for calibrating a harness run against a raw model
// capability floor before paying for a full agent loop.
type APIDirectDriver struct {
	Config Config
}

func (d *APIDirectDriver) Name() string { return "api-direct" }

// Install is a no-op: there is no CLI to place in the container, only API
// calls made from the host process.
func (d *APIDirectDriver) Install(exec patch.Executor, workdir string) error {
	return nil
}

const directPromptTemplate = `You are given a GitHub issue to resolve in the repository %s.

Problem statement:
%s

Respond with ONLY a unified diff (git diff format) that resolves the issue.
Do not include any explanation, markdown fences, or commentary before or
after the diff.`

func (d *APIDirectDriver) Run(exec patch.Executor, repoWorkdir, problemStatement, instanceID, repoName string) (bool, string, error) {
	prompt := fmt.Sprintf(directPromptTemplate, repoName, problemStatement)

	var diff string
	var usage harness.TokenUsage
	var err error
	switch d.Config.Provider {
	case "openai":
		diff, usage, err = d.callOpenAI(prompt)
	default:
		diff, usage, err = d.callAnthropic(prompt)
	}
	if err != nil {
		return false, "", ferrors.AgentExecution(err, "calling %s directly", d.Config.Provider)
	}

	// The SDK response's usage is recorded as a trailing event in the
	// output so ParseTokens reads exact counts later; the model was
	// billed even when it produced no usable diff.
	diff = extractDiff(diff)
	output := diff + "\n" + usageEvent(usage)
	if strings.TrimSpace(diff) == "" {
		return false, output, nil
	}

	patchPath := repoWorkdir + "/patch.diff"
	encoded := base64.StdEncoding.EncodeToString([]byte(diff))
	writeCmd := fmt.Sprintf("echo %s | base64 -d > %s", encoded, patchPath)
	if exitCode, cmdOutput, writeErr := exec.Execute(writeCmd, repoWorkdir, false, false, 30); writeErr != nil || exitCode != 0 {
		return false, output, ferrors.AgentExecution(writeErr, "writing patch.diff: %s", cmdOutput)
	}

	return true, output, nil
}

// usageEvent serializes token usage as a one-line JSON event in the same
// shape claude-code's result event uses, so the shared reverse-scan
// extractor can read it back.
func usageEvent(u harness.TokenUsage) string {
	counts := map[string]int{}
	if u.InputTokens != nil {
		counts["input_tokens"] = *u.InputTokens
	}
	if u.OutputTokens != nil {
		counts["output_tokens"] = *u.OutputTokens
	}
	data, err := json.Marshal(map[string]any{"usage": counts})
	if err != nil {
		return ""
	}
	return string(data)
}

func (d *APIDirectDriver) callAnthropic(prompt string) (string, harness.TokenUsage, error) {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(d.Config.APIKey)}
	if d.Config.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(d.Config.BaseURL))
	}
	client := anthropicsdk.NewClient(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	msg, err := client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(d.Config.Model),
		MaxTokens: 8192,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", harness.TokenUsage{}, err
	}

	usage := harness.TokenUsage{
		InputTokens:  intPtr(int(msg.Usage.InputTokens)),
		OutputTokens: intPtr(int(msg.Usage.OutputTokens)),
		TotalTokens:  intPtr(int(msg.Usage.InputTokens + msg.Usage.OutputTokens)),
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), usage, nil
}

func (d *APIDirectDriver) callOpenAI(prompt string) (string, harness.TokenUsage, error) {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(d.Config.APIKey)}
	if d.Config.BaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(d.Config.BaseURL))
	}
	client := openaisdk.NewClient(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	resp, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(d.Config.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", harness.TokenUsage{}, err
	}

	usage := harness.TokenUsage{
		InputTokens:  intPtr(int(resp.Usage.PromptTokens)),
		OutputTokens: intPtr(int(resp.Usage.CompletionTokens)),
		TotalTokens:  intPtr(int(resp.Usage.TotalTokens)),
	}
	if len(resp.Choices) == 0 {
		return "", usage, nil
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// extractDiff trims any fenced-code-block wrapping a model might add
// despite being asked not to.
func extractDiff(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) > 2 {
			lines = lines[1:]
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[:len(lines)-1]
			}
			s = strings.Join(lines, "\n")
		}
	}
	return s
}

func (d *APIDirectDriver) ParseTokens(log string) harness.TokenUsage {
	// The usage event here is the one Run recorded from the SDK response,
	// so the counts are exact rather than scraped from a CLI log.
	return lastJSONObjectWithUsage(log, "input_tokens", "output_tokens")
}

func (d *APIDirectDriver) PrepareResources() ([]Resource, error) { return nil, nil }
