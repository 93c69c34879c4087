// Package llm implements the reasoner port over an OpenAI-compatible
// chat completion endpoint.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/chalkline-ai/chalkline/internal/domain/agent"
	"github.com/chalkline-ai/chalkline/internal/domain/tool"
)

// Config holds the reasoner connection settings.
type Config struct {
	// Model is the chat model name.
	Model string
	// APIKey authenticates against the endpoint.
	APIKey string
	// BaseURL overrides the endpoint, e.g. for a local gateway.
	BaseURL string
	// Temperature for sampling. Zero keeps answers deterministic-ish.
	Temperature float64
}

// Reasoner implements agent.Reasoner over langchaingo's OpenAI client.
type Reasoner struct {
	model       llms.Model
	temperature float64
	logger      *slog.Logger
}

var _ agent.Reasoner = (*Reasoner)(nil)

// NewReasoner creates a reasoner from config.
func NewReasoner(cfg Config, logger *slog.Logger) (*Reasoner, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return &Reasoner{model: client, temperature: cfg.Temperature, logger: logger}, nil
}

// NewReasonerWithModel wraps an existing model, used by tests to inject
// a fake.
func NewReasonerWithModel(model llms.Model, logger *slog.Logger) *Reasoner {
	return &Reasoner{model: model, logger: logger}
}

// Reason converts the transcript, invokes the model, and classifies
// the response as either tool requests or a final answer.
func (r *Reasoner) Reason(ctx context.Context, transcript []agent.Message, tools []tool.Descriptor, allowTools bool) (*agent.Step, error) {
	msgs, err := toModelMessages(transcript)
	if err != nil {
		return nil, err
	}

	opts := []llms.CallOption{llms.WithTemperature(r.temperature)}
	if allowTools && len(tools) > 0 {
		modelTools, err := toModelTools(tools)
		if err != nil {
			return nil, err
		}
		opts = append(opts, llms.WithTools(modelTools))
	}

	resp, err := r.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0]

	step := &agent.Step{
		Answer: choice.Content,
		Raw: agent.Message{
			Role:    agent.RoleAssistant,
			Content: choice.Content,
		},
	}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		req := agent.ToolRequest{
			CallID:    tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: json.RawMessage(tc.FunctionCall.Arguments),
		}
		step.Requests = append(step.Requests, req)
	}
	step.Raw.Requests = step.Requests

	r.logger.Debug("reasoner step",
		"tool_requests", len(step.Requests),
		"answer_len", len(step.Answer))
	return step, nil
}

// toModelMessages converts the domain transcript to langchaingo messages.
func toModelMessages(transcript []agent.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(transcript))
	for _, m := range transcript {
		switch m.Role {
		case agent.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))

		case agent.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))

		case agent.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, req := range m.Requests {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   req.CallID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      req.Name,
						Arguments: string(req.Arguments),
					},
				})
			}
			out = append(out, mc)

		case agent.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.CallID,
					Name:       m.ToolName,
					Content:    m.Content,
				}},
			})

		default:
			return nil, fmt.Errorf("unknown transcript role %q", m.Role)
		}
	}
	return out, nil
}

// toModelTools converts tool descriptors to langchaingo tool definitions.
func toModelTools(tools []tool.Descriptor) ([]llms.Tool, error) {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.InputSchema, &params); err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", t.Name, err)
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}
