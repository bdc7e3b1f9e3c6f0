// turn.go implements the conversation turn controller: the loop that takes
// one user message through optimize → model call → tool execution → second
// optimize → follow-up call. The turn is an explicit short-lived state
// machine; the summary cache travels through it as a value and is persisted
// before each model request that depends on it.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/chatwin/pkg/chatwin/models"
)

// turnState tracks where a turn is in its lifecycle.
type turnState int

const (
	stateAwaitingFirstResponse turnState = iota
	stateExecutingTools
	stateAwaitingFinalResponse
	stateDone
)

// completionClient is the slice of LLMClient the controller needs; swapped
// for a stub in tests.
type completionClient interface {
	CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*LLMResponse, error)
}

// TurnPersistence receives history appends and cache updates. Satisfied by
// *Store; nil disables persistence.
type TurnPersistence interface {
	AppendMessage(conversationID string, seq int, m Message) error
	SaveSummaryCache(conversationID string, cache *SummaryCache) error
}

// TurnController drives one conversation turn at a time. Callers must
// serialize turns per session; the controller itself keeps no per-turn
// state between calls.
type TurnController struct {
	llm       completionClient
	optimizer *Optimizer
	tools     *ToolExecutor
	registry  *models.Registry
	persist   TurnPersistence
	logger    *slog.Logger

	model                string
	systemPrompt         string
	targetTokenLimit     int
	summarizationEnabled bool
}

// NewTurnController wires a controller from its collaborators. persist may
// be nil for ephemeral conversations.
func NewTurnController(
	llm completionClient,
	optimizer *Optimizer,
	tools *ToolExecutor,
	registry *models.Registry,
	persist TurnPersistence,
	cfg *Config,
	logger *slog.Logger,
) *TurnController {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnController{
		llm:                  llm,
		optimizer:            optimizer,
		tools:                tools,
		registry:             registry,
		persist:              persist,
		logger:               logger.With("component", "turn"),
		model:                cfg.Model,
		systemPrompt:         cfg.Instructions,
		targetTokenLimit:     cfg.TargetTokenLimit(),
		summarizationEnabled: cfg.SummarizationEnabled(),
	}
}

// RunTurn processes one user message and returns the assistant's final
// text. The session's history grows by the user message, any tool traffic,
// and the assistant responses; the history itself is never shortened.
func (tc *TurnController) RunTurn(ctx context.Context, session *Session, userMessage Message) (string, error) {
	model := tc.model
	if session.Model != "" {
		model = session.Model
	}
	info := tc.registry.Lookup(model)
	if !info.Vision {
		userMessage = StripImages(userMessage)
	}

	tc.appendAndPersist(session, Normalize(userMessage, tc.logger))

	state := stateAwaitingFirstResponse
	var finalText string

	for state != stateDone {
		switch state {
		case stateAwaitingFirstResponse, stateAwaitingFinalResponse:
			resp, err := tc.completeOnce(ctx, session, info.ContextWindow)
			if err != nil {
				return "", err
			}

			if len(resp.ToolCalls) > 0 && state == stateAwaitingFirstResponse {
				tc.appendAndPersist(session, Message{
					Role:      RoleAssistant,
					Content:   resp.Content,
					ToolCalls: resp.ToolCalls,
				})
				state = stateExecutingTools
				continue
			}

			if len(resp.ToolCalls) > 0 {
				// The follow-up request asked for more tools; the turn
				// budget is two model calls, so surface what we have.
				tc.logger.Warn("follow-up response requested tools, ending turn",
					"tool_calls", len(resp.ToolCalls),
				)
			}

			finalText = resp.Content
			tc.appendAndPersist(session, Message{Role: RoleAssistant, Content: resp.Content})
			state = stateDone

		case stateExecutingTools:
			last := session.History()
			calls := last[len(last)-1].ToolCalls
			results := tc.tools.Execute(ctx, calls)
			for _, r := range results {
				tc.appendAndPersist(session, Message{
					Role:       RoleTool,
					Content:    r.Content,
					Name:       r.Name,
					ToolCallID: r.ToolCallID,
				})
			}
			state = stateAwaitingFinalResponse
		}
	}

	return finalText, nil
}

// completeOnce runs one optimize → persist-cache → model-request cycle.
// The cache update is persisted before the request goes out, so a crash
// mid-request never loses a paid-for summary.
func (tc *TurnController) completeOnce(ctx context.Context, session *Session, contextWindow int) (*LLMResponse, error) {
	previousCache := session.Cache()

	result, err := tc.optimizer.Optimize(ctx, OptimizeRequest{
		History:              session.History(),
		SystemPrompt:         tc.systemPrompt,
		ModelContextLimit:    contextWindow,
		TargetTokenLimit:     tc.targetTokenLimit,
		Cache:                previousCache,
		SummarizationEnabled: tc.summarizationEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize history: %w", err)
	}

	if result.Cache != previousCache {
		session.SetCache(result.Cache)
		if tc.persist != nil {
			if err := tc.persist.SaveSummaryCache(session.ID, result.Cache); err != nil {
				tc.logger.Error("persist summary cache failed", "session", session.ID, "err", err)
			}
		}
	}

	request := result.History
	if tc.systemPrompt != "" {
		request = append([]Message{systemMessage(tc.systemPrompt)}, request...)
	}

	return tc.llm.CompleteWithTools(ctx, request, tc.tools.Tools())
}

// appendAndPersist grows the session history and mirrors the message to
// durable storage.
func (tc *TurnController) appendAndPersist(session *Session, m Message) {
	seq := session.Len()
	session.Append(m)
	if tc.persist != nil {
		if err := tc.persist.AppendMessage(session.ID, seq, m); err != nil {
			tc.logger.Error("persist message failed", "session", session.ID, "seq", seq, "err", err)
		}
	}
}
