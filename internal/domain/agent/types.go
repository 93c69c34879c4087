// Package agent contains the domain types of the reasoning loop: the
// conversation transcript, tool call requests and observations, and
// the turn outcome.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chalkline-ai/chalkline/internal/domain/tool"
)

// MessageRole labels who produced a transcript entry.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one entry of the conversation transcript handed to the
// reasoner. Tool observations carry the CallID they answer.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	// CallID links a RoleTool observation to the request it answers.
	CallID string `json:"call_id,omitempty"`
	// ToolName is set on RoleTool observations.
	ToolName string `json:"tool_name,omitempty"`
	// Requests echoes the tool requests an assistant message carried,
	// so the transcript round-trips through the reasoner.
	Requests []ToolRequest `json:"requests,omitempty"`
}

// ToolRequest is one tool invocation the reasoner asked for.
type ToolRequest struct {
	// CallID is the reasoner-assigned identifier for this invocation.
	CallID string `json:"call_id"`
	// Name is the operation name from the catalog.
	Name string `json:"name"`
	// Arguments is the raw argument object as emitted by the reasoner.
	Arguments json.RawMessage `json:"arguments"`
}

// Step is one reasoner output: either a batch of tool requests or a
// final answer. Exactly one of Requests and Answer is meaningful.
type Step struct {
	// Requests are the tool invocations to dispatch, in the order the
	// reasoner emitted them. Empty means the reasoner answered.
	Requests []ToolRequest
	// Answer is the final response text when Requests is empty.
	Answer string
	// Raw is the assistant transcript entry to append for this step.
	Raw Message
}

// Reasoner is the outbound port to the language model. Implementations
// must honor ctx cancellation.
type Reasoner interface {
	// Reason produces the next step given the transcript and the tool
	// catalog. When allowTools is false the reasoner must produce a
	// final answer without requesting tools.
	Reason(ctx context.Context, transcript []Message, tools []tool.Descriptor, allowTools bool) (*Step, error)
}

// ToolCallRecord is the audit-visible record of one dispatched call.
type ToolCallRecord struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Outcome   string         `json:"outcome"`
	ErrorCode tool.ErrorCode `json:"error_code,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Outcome values for ToolCallRecord.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// TurnResult is the final product of one orchestrated turn.
type TurnResult struct {
	// Answer is the assistant's response text.
	Answer string `json:"answer"`
	// ToolCalls records every dispatched call in request order across
	// all rounds.
	ToolCalls []ToolCallRecord `json:"tool_calls"`
	// Rounds is how many reasoning rounds ran.
	Rounds int `json:"rounds"`
	// Truncated is true when the turn ended on budget or deadline
	// exhaustion rather than a natural final answer.
	Truncated bool `json:"truncated"`
}
