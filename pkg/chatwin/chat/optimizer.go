// optimizer.go implements the history optimizer: the decision tree that
// keeps a growing, tool-call-laden conversation inside the model's token
// budget while retaining as much meaning as possible.
//
// Strategy ladder, cheapest first:
//
//	fit → cached-summary reuse → fresh summarization → truncation → emergency clamp
//
// The optimizer is a pure function over its inputs: it never mutates the
// history it is given, and the updated cache comes back as an explicit
// value for the caller to persist.
package chat

import (
	"context"
	"fmt"
	"log/slog"
)

// summaryReservePadding covers the summary message framing (preamble,
// role, per-message overhead) on top of the raw summary text when no live
// cache exists to measure.
const summaryReservePadding = 64

// OptimizeRequest carries one optimizer invocation's inputs.
type OptimizeRequest struct {
	// History is the full, never-truncated conversation. Borrowed
	// read-only; the optimizer builds new slices.
	History []Message

	// SystemPrompt is the active system prompt, or "" when there is none.
	// It participates in token accounting only — the returned history is
	// always system-prompt-free.
	SystemPrompt string

	// ModelContextLimit is the model's hard token ceiling.
	ModelContextLimit int

	// TargetTokenLimit is the user-configured soft ceiling.
	TargetTokenLimit int

	// Cache is the conversation's current summary cache, or nil.
	Cache *SummaryCache

	// SummarizationEnabled gates the summary tiers; when false the
	// optimizer goes straight from fit check to truncation.
	SummarizationEnabled bool
}

// OptimizeResult is the optimizer's output: the projected history to send
// (system prompt stripped) and the cache value the caller should persist if
// it changed.
type OptimizeResult struct {
	History []Message
	Cache   *SummaryCache
}

// Optimizer decides how a conversation is projected into the model's
// context window. Stateless per call; safe to reuse across calls from a
// single-writer context.
type Optimizer struct {
	estimator  *TokenEstimator
	summarizer *Summarizer
	logger     *slog.Logger
}

// NewOptimizer creates an optimizer. summarizer may be nil when
// summarization is disabled globally.
func NewOptimizer(estimator *TokenEstimator, summarizer *Summarizer, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		estimator:  estimator,
		summarizer: summarizer,
		logger:     logger.With("component", "optimizer"),
	}
}

// Optimize projects req.History into a message list that fits the limits.
// Dependency failures (summarization, encoding) never surface as errors —
// they degrade to truncation. The only error is a guard against invalid
// limits, which is a caller bug.
func (o *Optimizer) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	if req.TargetTokenLimit <= 0 {
		return OptimizeResult{}, fmt.Errorf("target token limit must be positive, got %d", req.TargetTokenLimit)
	}
	if req.ModelContextLimit <= 0 {
		return OptimizeResult{}, fmt.Errorf("model context limit must be positive, got %d", req.ModelContextLimit)
	}

	var system *Message
	if req.SystemPrompt != "" {
		m := systemMessage(req.SystemPrompt)
		system = &m
	}

	// Step 1: fit check. Zero- or one-message conversations always fit.
	total := o.countWithSystem(system, req.History)
	if total <= req.TargetTokenLimit || len(req.History) <= 1 {
		return o.finish(copyMessages(req.History), req, req.Cache)
	}

	// Per-message costs are computed once and reused for the walk.
	costs := make([]int, len(req.History))
	for i, m := range req.History {
		costs[i] = o.estimator.CountMessageTokens(m)
	}
	systemCost := 0
	if system != nil {
		systemCost = o.estimator.CountMessageTokens(*system)
	}

	// Step 2: boundary selection. Walk newest → oldest; stop before the
	// budget is exceeded, so the newer message always wins a tie.
	reservation := o.summaryReservation(req)
	budget := min(req.TargetTokenLimit, req.ModelContextLimit) - reservation - systemCost - replyPrimingTokens
	k := len(req.History)
	accumulated := 0
	for i := len(req.History) - 1; i >= 0; i-- {
		if accumulated+costs[i] > budget {
			break
		}
		accumulated += costs[i]
		k = i
	}

	// The newest message is always kept verbatim. Without this the summary
	// reservation can swallow the whole budget at small targets and the
	// current user turn would survive only inside the lossy summary.
	if k == len(req.History) {
		k = len(req.History) - 1
	}

	o.logger.Debug("history over target, optimizing",
		"total_tokens", total,
		"target", req.TargetTokenLimit,
		"boundary", k,
		"history_len", len(req.History),
	)

	recent := copyMessages(req.History[k:])

	// Step 3: a cache that covers at least the dropped prefix is reused
	// verbatim; no network call.
	if req.SummarizationEnabled && req.Cache.ValidFor(k) {
		projected := append([]Message{summaryMessage(req.Cache.Text)}, recent...)
		return o.finish(projected, req, req.Cache)
	}

	// Step 4: fresh summarization of the dropped slice. A stale previous
	// summary is prepended to the input so its information carries over.
	if req.SummarizationEnabled && o.summarizer != nil && k > 0 {
		input := req.History[:k]
		if req.Cache != nil {
			input = append([]Message{summaryMessage(req.Cache.Text)}, input...)
		}
		if text := o.summarizer.Summarize(ctx, input); text != "" {
			cache := &SummaryCache{Text: text, CoversUpTo: k}
			projected := append([]Message{summaryMessage(text)}, recent...)
			return o.finish(projected, req, cache)
		}
		o.logger.Warn("summarization unavailable, falling back to truncation")
	}

	// Step 5: fallback truncation — drop oldest messages until the
	// history fits the target. Reached directly when summarization is
	// disabled; the cache is invalidated either way.
	truncated := copyMessages(req.History)
	for len(truncated) > 1 && o.countWithSystem(system, truncated) > req.TargetTokenLimit {
		truncated = truncated[1:]
	}
	return o.finish(truncated, req, nil)
}

// finish runs the emergency clamp and shapes the output: the candidate is
// re-counted against the hard model limit, and the system prompt (which
// participated in accounting only) never appears in the returned history.
func (o *Optimizer) finish(projected []Message, req OptimizeRequest, cache *SummaryCache) (OptimizeResult, error) {
	var system *Message
	if req.SystemPrompt != "" {
		m := systemMessage(req.SystemPrompt)
		system = &m
	}

	// Step 6: the hard model limit always wins over the soft target. The
	// first message (system prompt or summary) is retained; the rest is
	// dropped from the front until the candidate fits. Reaching this point
	// means normal policy already failed, so the cache is invalidated.
	if o.countWithSystem(system, projected) > req.ModelContextLimit {
		o.logger.Warn("candidate history exceeds hard model limit, clamping",
			"limit", req.ModelContextLimit,
		)
		cache = nil

		candidate := projected
		if system != nil {
			candidate = append([]Message{*system}, projected...)
		}
		for len(candidate) > 1 && o.estimator.CountMessageListTokens(candidate) > req.ModelContextLimit {
			candidate = append(candidate[:1], candidate[2:]...)
		}
		if o.estimator.CountMessageListTokens(candidate) > req.ModelContextLimit {
			o.logger.Error("single retained message exceeds model context limit",
				"limit", req.ModelContextLimit,
			)
		}

		projected = candidate
		if system != nil {
			// The caller owns prepending the live system prompt.
			projected = projected[1:]
		}
	}

	return OptimizeResult{History: projected, Cache: cache}, nil
}

// summaryReservation estimates the token cost of the summary placeholder
// that will sit at the head of an optimized history: the real cost when a
// cache exists, a padded worst case otherwise. The worst case is capped at
// half the target so small targets still leave room for recent messages.
// Zero when summarization is disabled.
func (o *Optimizer) summaryReservation(req OptimizeRequest) int {
	if !req.SummarizationEnabled {
		return 0
	}
	if req.Cache != nil {
		return o.estimator.CountMessageTokens(summaryMessage(req.Cache.Text))
	}
	return min(summaryMaxTokens+summaryReservePadding, req.TargetTokenLimit/2)
}

// countWithSystem counts a message list with the system prompt prepended
// for accounting, without building the combined slice twice.
func (o *Optimizer) countWithSystem(system *Message, history []Message) int {
	total := o.estimator.CountMessageListTokens(history)
	if system != nil {
		total += o.estimator.CountMessageTokens(*system)
	}
	return total
}

// copyMessages returns a fresh slice so callers' arrays are never aliased
// by the result.
func copyMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
