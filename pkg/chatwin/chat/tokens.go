// tokens.go implements token counting for messages and message lists.
// Counts use a model-aware tiktoken encoder when one can be loaded and fall
// back to a chars/4 heuristic otherwise, so counting never fails.
package chat

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// perMessageOverhead is the fixed token cost every message carries for
	// role framing and separators.
	perMessageOverhead = 4

	// perImageTokens is the flat estimate for an image part, regardless of
	// resolution.
	perImageTokens = 85

	// replyPrimingTokens is charged once per message list for the
	// assistant reply-start marker.
	replyPrimingTokens = 2
)

// TokenEstimator counts tokens for text and messages. The zero value is not
// usable; construct with NewTokenEstimator.
type TokenEstimator struct {
	enc    *tiktoken.Tiktoken
	logger *slog.Logger
}

// NewTokenEstimator creates an estimator for the given model. When no
// encoding is known for the model (or the encoding data cannot be loaded),
// the estimator silently degrades to the character heuristic.
func NewTokenEstimator(model string, logger *slog.Logger) *TokenEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tokens")

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Warn("no tiktoken encoding available, using char heuristic", "model", model, "err", err)
		enc = nil
	}

	return &TokenEstimator{enc: enc, logger: logger}
}

// CountTokens returns the token count of a text string. Empty text costs 0.
func (e *TokenEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	// chars/4 heuristic, rounded up.
	return (len(text) + 3) / 4
}

// CountMessageTokens returns the token cost of a single message: the fixed
// per-message overhead, every string field, structured parts, and tool
// calls. Messages carrying a name or tool_call_id get one token back (the
// field supplants the reserved role slot).
func (e *TokenEstimator) CountMessageTokens(m Message) int {
	tokens := perMessageOverhead
	tokens += e.CountTokens(string(m.Role))

	if len(m.Parts) > 0 {
		for _, p := range m.Parts {
			if p.Type == PartImage {
				tokens += perImageTokens
			} else {
				tokens += e.CountTokens(p.Text)
			}
		}
	} else {
		tokens += e.CountTokens(m.Content)
	}

	for _, tc := range m.ToolCalls {
		tokens += e.CountTokens(tc.Name)
		tokens += e.CountTokens(tc.Arguments)
	}

	tokens += e.CountTokens(m.Name)
	tokens += e.CountTokens(m.ToolCallID)
	if m.Name != "" || m.ToolCallID != "" {
		tokens--
	}

	return tokens
}

// CountMessageListTokens returns the token cost of a whole message list:
// the sum of the per-message costs plus the reply priming constant.
func (e *TokenEstimator) CountMessageListTokens(messages []Message) int {
	total := replyPrimingTokens
	for _, m := range messages {
		total += e.CountMessageTokens(m)
	}
	return total
}
