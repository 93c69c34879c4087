package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/chalkline-ai/chalkline/internal/domain/agent"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
	"github.com/chalkline-ai/chalkline/internal/domain/policy"
	"github.com/chalkline-ai/chalkline/internal/domain/tenant"
	"github.com/chalkline-ai/chalkline/internal/domain/validation"
)

// maxRequestBodySize is the maximum allowed request body size (64 KB).
// Questions are short; anything larger is a client bug.
const maxRequestBodySize = 64 << 10

// TurnRunner is the handler's view of the orchestrator.
type TurnRunner interface {
	Turn(ctx context.Context, claims auth.Claims, question string) (*agent.TurnResult, error)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Question string `json:"question"`
}

// ToolCallView is one dispatched tool call in a chat response.
type ToolCallView struct {
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ChatResponse is the body of a successful chat turn.
type ChatResponse struct {
	Answer    string         `json:"answer"`
	Rounds    int            `json:"rounds"`
	Truncated bool           `json:"truncated"`
	ToolCalls []ToolCallView `json:"tool_calls"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// ChatHandler serves the question-answering endpoint. Authentication
// happens in middleware; the handler only runs with claims in context.
type ChatHandler struct {
	runner    TurnRunner
	metrics   *Metrics
	sanitizer *validation.Sanitizer
}

// NewChatHandler creates the chat endpoint handler. metrics may be nil.
func NewChatHandler(runner TurnRunner, metrics *Metrics) *ChatHandler {
	return &ChatHandler{
		runner:    runner,
		metrics:   metrics,
		sanitizer: validation.NewSanitizer(),
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "empty request body")
		default:
			writeError(w, http.StatusBadRequest, "malformed request body")
		}
		return
	}
	question, err := h.sanitizer.SanitizeQuestion(req.Question)
	if err != nil {
		var qErr *validation.QuestionError
		if errors.As(err, &qErr) {
			writeError(w, http.StatusBadRequest, qErr.Message)
		} else {
			writeError(w, http.StatusBadRequest, "invalid question")
		}
		return
	}

	logger := LoggerFromContext(r.Context())
	result, err := h.runner.Turn(r.Context(), claims, question)
	if err != nil {
		h.recordTurn(claims, "error")
		switch {
		case errors.Is(err, auth.ErrInvalidClaims):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, tenant.ErrTenantNotFound):
			// The key authenticated but its tenant has no partition.
			// A deployment gap, not a client error.
			logger.Error("authenticated tenant has no partition", "tenant", claims.TenantID)
			writeError(w, http.StatusServiceUnavailable, "school data unavailable")
		case errors.Is(err, policy.ErrConfigurationDefect):
			logger.Error("policy configuration defect", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful to write.
			return
		default:
			logger.Error("turn failed", "error", err)
			writeError(w, http.StatusBadGateway, "assistant unavailable")
		}
		return
	}

	h.recordTurn(claims, turnStatus(result))
	if h.metrics != nil {
		h.metrics.TurnRounds.Observe(float64(result.Rounds))
		for _, call := range result.ToolCalls {
			h.metrics.ToolCallsTotal.WithLabelValues(call.Name, call.Outcome).Inc()
		}
	}

	logger.Info("turn completed",
		"role", claims.Role,
		"rounds", result.Rounds,
		"tool_calls", len(result.ToolCalls),
		"truncated", result.Truncated,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(toChatResponse(result))
}

func (h *ChatHandler) recordTurn(claims auth.Claims, status string) {
	if h.metrics == nil {
		return
	}
	h.metrics.TurnsTotal.WithLabelValues(string(claims.Role), status).Inc()
}

func turnStatus(result *agent.TurnResult) string {
	if result.Truncated {
		return "truncated"
	}
	return "ok"
}

func toChatResponse(result *agent.TurnResult) ChatResponse {
	resp := ChatResponse{
		Answer:    result.Answer,
		Rounds:    result.Rounds,
		Truncated: result.Truncated,
		ToolCalls: make([]ToolCallView, 0, len(result.ToolCalls)),
	}
	for _, call := range result.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCallView{
			Name:       call.Name,
			Outcome:    call.Outcome,
			ErrorCode:  string(call.ErrorCode),
			DurationMS: call.Duration.Milliseconds(),
		})
	}
	return resp
}
