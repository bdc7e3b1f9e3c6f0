// summary.go implements the single-slot summary cache and the summarizer
// that condenses dropped history into it. Summarization is best-effort:
// every failure mode degrades to "no summary", never to an error.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// summaryMaxTokens bounds the condensation response size.
	summaryMaxTokens = 1000

	// summaryTemperature biases the condensation toward determinism.
	summaryTemperature = 0.1

	// summaryPreamble prefixes the synthetic summary message injected into
	// optimized histories.
	summaryPreamble = "[Summary of prior conversation]:"
)

const condenseInstruction = `You condense chat history for a conversational assistant so the conversation can continue within a limited context window.
Preserve the user's instructions, preferences, and any facts or decisions established so far.
Compress tool interactions to their intent and outcome; omit raw tool output.
Reply with the summary only.`

// SummaryCache is the per-conversation, single-slot summary of older
// messages. CoversUpTo is the exclusive history index the summary covers:
// messages [0, CoversUpTo) are represented by Text. The cache is only ever
// replaced wholesale or set to nil, never partially updated.
type SummaryCache struct {
	Text       string `json:"text"`
	CoversUpTo int    `json:"covers_up_to"`
}

// ValidFor reports whether the cache can stand in for everything dropped at
// the given keep boundary: it must cover at least as many old messages as
// the boundary requires dropping.
func (c *SummaryCache) ValidFor(boundary int) bool {
	return c != nil && c.CoversUpTo >= boundary
}

// summaryMessage builds the synthetic system message that carries a summary
// inside an optimized history.
func summaryMessage(text string) Message {
	return systemMessage(summaryPreamble + "\n" + text)
}

// condenseClient is the one LLM call the summarizer needs. Satisfied by
// *LLMClient; swapped for a stub in tests.
type condenseClient interface {
	HasCredentials() bool
	Condense(ctx context.Context, model, instruction, transcript string, maxTokens int, temperature float64) (string, error)
}

// Summarizer condenses a slice of history into plain text using a
// designated low-cost model.
type Summarizer struct {
	client condenseClient
	model  string
	logger *slog.Logger
}

// NewSummarizer creates a summarizer that condenses via client using the
// given model id.
func NewSummarizer(client condenseClient, model string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		client: client,
		model:  model,
		logger: logger.With("component", "summarizer"),
	}
}

// Summarize condenses the given messages into plain text. It never returns
// an error: missing credentials, empty input, transport failures, bad
// statuses, unparsable bodies and empty responses all yield "". Callers
// treat "" as "could not summarize, fall back to truncation".
func (s *Summarizer) Summarize(ctx context.Context, messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	if s.client == nil || !s.client.HasCredentials() {
		s.logger.Warn("summarization skipped: no credentials")
		return ""
	}

	transcript := renderTranscript(messages)

	text, err := s.client.Condense(ctx, s.model, condenseInstruction, transcript, summaryMaxTokens, summaryTemperature)
	if err != nil {
		s.logger.Warn("summarization failed", "model", s.model, "err", err)
		return ""
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("summarization returned empty text", "model", s.model)
	}
	return text
}

// renderTranscript flattens messages into role-prefixed plain-text lines.
// Tool-call requests and tool results are rendered as bracketed markers so
// the summary model sees intent and outcome instead of wire structure.
func renderTranscript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			fmt.Fprintf(&b, "[Tool result for %s: %s]\n", m.Name, m.Text())
		default:
			if text := m.Text(); text != "" {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "[Requesting tool: %s]\n", tc.Name)
			}
		}
	}
	return b.String()
}
