// Package claude is a built-in analyzer that asks Claude for a threat
// assessment of an object. For samples the model may inspect the content
// through the sample tools before answering.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/extract"
	"github.com/linnemanlabs/warden/internal/tools"
)

const (
	// Name is the registered service name.
	Name = "claude"

	// Version is recorded on every task this analyzer starts.
	Version = "1.0.0"

	maxTokens     = 2048
	maxPreviewStr = 50

	// MaxToolRounds bounds tool calls per run
	MaxToolRounds = 12

	// MaxTotalTokens bounds input plus output tokens per run
	MaxTotalTokens = 60000
)

const systemPrompt = `You are a malware and threat-intelligence analyst.
You receive the attributes of one object from a threat-intelligence repository.
When tools are offered you may use them to inspect the sample content
(strings, hex ranges, single-byte XOR encodings) before answering.
Your final reply must start with a line of the form
"VERDICT: <malicious|suspicious|benign|unknown>" followed by a short justification.`

// Verdicts a response may carry.
var verdicts = []string{"malicious", "suspicious", "benign", "unknown"}

// messageSender is the slice of the SDK messages service the analyzer needs.
type messageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Assessment is the parsed model reply.
type Assessment struct {
	Verdict      string
	Summary      string
	InputTokens  int64
	OutputTokens int64
	ToolCalls    int

	// Stopped is set when a budget ended the conversation early
	Stopped string
}

// Analyzer implements analysis.Analyzer on top of the Claude API.
type Analyzer struct {
	messages messageSender
	model    string
	rec      analysis.TaskRecorder
	logger   log.Logger
}

// New creates an Analyzer using apiKey and model.
func New(apiKey, model string, rec analysis.TaskRecorder, logger log.Logger) *Analyzer {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newAnalyzer(&client.Messages, model, rec, logger)
}

func newAnalyzer(m messageSender, model string, rec analysis.TaskRecorder, logger log.Logger) *Analyzer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Analyzer{messages: m, model: model, rec: rec, logger: logger}
}

// Name implements analysis.Analyzer.
func (a *Analyzer) Name() string { return Name }

// Run implements analysis.Analyzer.
func (a *Analyzer) Run(ctx context.Context, c analysis.Context) error {
	typ, id, analyst := string(c.ObjectType()), c.ObjectID(), c.User()

	start := a.rec.StartTask(ctx, typ, id, Name, Version, analyst)
	if !start.Success {
		return fmt.Errorf("start task: %s: %w", start.Message, start.Err)
	}
	aid := start.AnalysisID

	prompt, err := buildPrompt(c)
	if err != nil {
		a.rec.AddLog(ctx, typ, id, aid, "could not build prompt: "+err.Error(), "error", analyst)
		a.rec.FinishTask(ctx, typ, id, aid, "error", analyst)
		return err
	}

	var reg *tools.Registry
	if fc, ok := c.(*analysis.FileContext); ok && len(fc.Data) > 0 {
		reg = tools.NewSampleRegistry(fc.Data)
	}

	as, err := a.converse(ctx, prompt, reg, a.logger.With("object_id", id, "analysis_id", aid))
	if err != nil {
		a.rec.AddLog(ctx, typ, id, aid, "claude request failed: "+err.Error(), "error", analyst)
		a.rec.FinishTask(ctx, typ, id, aid, "error", analyst)
		return fmt.Errorf("claude messages: %w", err)
	}

	if as.Stopped != "" {
		a.rec.AddLog(ctx, typ, id, aid, "conversation stopped: "+as.Stopped, "warning", analyst)
	}
	a.rec.AddLog(ctx, typ, id, aid, as.Summary, "info", analyst)
	if out := a.rec.AddResult(ctx, typ, id, aid, as.Verdict, "assessment", a.model, analyst); !out.Success {
		a.rec.FinishTask(ctx, typ, id, aid, "error", analyst)
		return fmt.Errorf("add result: %s: %w", out.Message, out.Err)
	}

	a.logger.Info(ctx, "claude assessment recorded",
		"object_id", id,
		"analysis_id", aid,
		"verdict", as.Verdict,
		"tokens_in", as.InputTokens,
		"tokens_out", as.OutputTokens,
		"tool_calls", as.ToolCalls,
	)
	if out := a.rec.FinishTask(ctx, typ, id, aid, "completed", analyst); !out.Success {
		return fmt.Errorf("finish task: %s: %w", out.Message, out.Err)
	}
	return nil
}

// converse runs the model until it answers without asking for a tool, or a
// budget runs out. reg may be nil, in which case no tools are offered.
func (a *Analyzer) converse(ctx context.Context, prompt string, reg *tools.Registry, L log.Logger) (Assessment, error) {
	var toolDefs []anthropic.ToolUnionParam
	if reg != nil {
		var err error
		if toolDefs, err = toSDKTools(reg.ToToolDefs()); err != nil {
			return Assessment{}, err
		}
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	var as Assessment
	for {
		if as.ToolCalls >= MaxToolRounds {
			L.Warn(ctx, "claude hit tool call limit", "limit", MaxToolRounds)
			as.Stopped = "tool call budget exhausted"
			break
		}
		if as.InputTokens+as.OutputTokens >= MaxTotalTokens {
			L.Warn(ctx, "claude hit token limit", "limit", MaxTotalTokens)
			as.Stopped = "token budget exhausted"
			break
		}

		msg, err := a.messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: maxTokens,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     toolDefs,
		})
		if err != nil {
			return as, err
		}

		turn := fromSDKResponse(msg)
		as.InputTokens += turn.InputTokens
		as.OutputTokens += turn.OutputTokens
		if turn.Summary != "" {
			as.Summary = turn.Summary
		}

		L.Info(ctx, "claude response",
			"stop_reason", msg.StopReason,
			"input_tokens", turn.InputTokens,
			"output_tokens", turn.OutputTokens,
		)

		if msg.StopReason != anthropic.StopReasonToolUse {
			break
		}

		messages = append(messages, assistantTurn(msg))
		var results []anthropic.ContentBlockParamUnion
		for i := range msg.Content {
			block := &msg.Content[i]
			if block.Type != "tool_use" {
				continue
			}
			as.ToolCalls++
			L.Info(ctx, "executing tool", "tool", block.Name, "call_number", as.ToolCalls)
			results = append(results, runTool(ctx, reg, block, L))
		}
		if len(results) == 0 {
			break
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	as.Verdict = parseVerdict(as.Summary)
	return as, nil
}

// assistantTurn echoes the text and tool_use blocks of msg back as the
// assistant message of the next request.
func assistantTurn(msg *anthropic.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for i := range msg.Content {
		b := &msg.Content[i]
		switch b.Type {
		case "text":
			blocks = append(blocks, anthropic.NewTextBlock(b.Text))
		case "tool_use":
			blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
		}
	}
	return anthropic.NewAssistantMessage(blocks...)
}

// runTool executes one tool_use block. Failures are returned to the model
// as error results so it can adjust its next call.
func runTool(ctx context.Context, reg *tools.Registry, block *anthropic.ContentBlockUnion, L log.Logger) anthropic.ContentBlockParamUnion {
	if reg == nil {
		return anthropic.NewToolResultBlock(block.ID, "no tools are available for this object", true)
	}
	tool, ok := reg.Get(block.Name)
	if !ok {
		return anthropic.NewToolResultBlock(block.ID, "unknown tool: "+block.Name, true)
	}
	out, err := tool.Execute(ctx, block.Input)
	if err != nil {
		L.Warn(ctx, "tool execution failed", "tool", block.Name, "error", err)
		return anthropic.NewToolResultBlock(block.ID, "tool error: "+err.Error(), true)
	}
	return anthropic.NewToolResultBlock(block.ID, string(out), false)
}

// toSDKTools converts tool definitions to SDK tool params.
func toSDKTools(defs []tools.ToolDef) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", d.Name, err)
		}
		tp := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return out, nil
}

// buildPrompt renders the object attributes without prior analysis, plus a
// preview of strings for file contexts.
func buildPrompt(c analysis.Context) (string, error) {
	attrs := make(map[string]any, len(c.Attributes()))
	for k, v := range c.Attributes() {
		if k == "analysis" {
			continue
		}
		attrs[k] = v
	}
	body, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Object type: %s\n\nAttributes:\n%s\n", c.ObjectType(), body)
	if fc, ok := c.(*analysis.FileContext); ok && len(fc.Data) > 0 {
		strs := extract.ASCII(fc.Data)
		sb.WriteString("\nFirst printable strings:\n")
		for _, s := range strs[:min(maxPreviewStr, len(strs))] {
			sb.WriteString(s)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// fromSDKResponse joins the text blocks of msg and extracts the verdict line.
func fromSDKResponse(msg *anthropic.Message) Assessment {
	var parts []string
	for i := range msg.Content {
		if msg.Content[i].Type == "text" {
			parts = append(parts, msg.Content[i].Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))

	return Assessment{
		Verdict:      parseVerdict(text),
		Summary:      text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
}

func parseVerdict(text string) string {
	for line := range strings.Lines(text) {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "VERDICT:")
		if !ok {
			continue
		}
		v := strings.ToLower(strings.TrimSpace(rest))
		for _, known := range verdicts {
			if v == known {
				return v
			}
		}
		break
	}
	return "unknown"
}
