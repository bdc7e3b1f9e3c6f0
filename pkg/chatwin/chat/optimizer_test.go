package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// mkHistory builds n user messages costing ~50 tokens each under the chars/4
// fallback (4 overhead + 1 role + 45 content).
func mkHistory(n int) []Message {
	history := make([]Message, n)
	for i := range history {
		history[i] = Message{Role: RoleUser, Content: strings.Repeat("m", 180)}
	}
	return history
}

// newTestOptimizer wires an optimizer around the char estimator and a fake
// condenser.
func newTestOptimizer(condenser *fakeCondenser) (*Optimizer, *TokenEstimator) {
	e := charEstimator()
	var s *Summarizer
	if condenser != nil {
		s = NewSummarizer(condenser, "summary-model", nil)
	}
	return NewOptimizer(e, s, nil), e
}

func TestOptimizeFitPathIsIdempotent(t *testing.T) {
	o, _ := newTestOptimizer(nil)
	history := mkHistory(5) // ~250 tokens
	cache := &SummaryCache{Text: "prior", CoversUpTo: 2}

	req := OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     50000,
		Cache:                cache,
		SummarizationEnabled: true,
	}

	for i := 0; i < 3; i++ {
		result, err := o.Optimize(context.Background(), req)
		if err != nil {
			t.Fatalf("Optimize: %v", err)
		}
		if !reflect.DeepEqual(result.History, history) {
			t.Fatalf("call %d: fit path altered the history", i)
		}
		if result.Cache != cache {
			t.Fatalf("call %d: fit path replaced the cache", i)
		}
	}
}

func TestOptimizeZeroAndOneMessageAlwaysFit(t *testing.T) {
	o, _ := newTestOptimizer(nil)

	for _, history := range [][]Message{
		{},
		{{Role: RoleUser, Content: strings.Repeat("x", 400)}}, // ~105 tokens, target 50
	} {
		result, err := o.Optimize(context.Background(), OptimizeRequest{
			History:           history,
			ModelContextLimit: 8192,
			TargetTokenLimit:  50,
		})
		if err != nil {
			t.Fatalf("Optimize: %v", err)
		}
		if len(result.History) != len(history) {
			t.Errorf("history of %d messages was optimized: got %d back", len(history), len(result.History))
		}
	}
}

func TestOptimizeFallbackTruncation(t *testing.T) {
	// 100 messages at ~50 tokens (5002 total), target 1000, no system
	// prompt, summarization disabled: truncation keeps roughly the last 20.
	o, e := newTestOptimizer(nil)
	history := mkHistory(100)

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:           history,
		ModelContextLimit: 8192,
		TargetTokenLimit:  1000,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if result.Cache != nil {
		t.Errorf("truncation fallback must invalidate the cache")
	}
	if got := e.CountMessageListTokens(result.History); got > 1000 {
		t.Errorf("truncated history counts %d tokens, over target 1000", got)
	}
	kept := len(result.History)
	if kept < 15 || kept > 20 {
		t.Errorf("kept %d messages, expected roughly the last 20", kept)
	}
	if !reflect.DeepEqual(result.History, history[100-kept:]) {
		t.Errorf("truncation did not keep the newest messages verbatim")
	}
}

func TestOptimizeFreshSummarization(t *testing.T) {
	condenser := &fakeCondenser{hasCreds: true, reply: "condensed"}
	o, e := newTestOptimizer(condenser)
	history := mkHistory(100)

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     3000,
		SummarizationEnabled: true,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if condenser.calls != 1 {
		t.Fatalf("summarizer called %d times, want exactly 1", condenser.calls)
	}
	if result.Cache == nil || result.Cache.Text != "condensed" {
		t.Fatalf("cache = %+v, want fresh cache with summary text", result.Cache)
	}
	if len(result.History) == 0 {
		t.Fatal("empty optimized history")
	}

	head := result.History[0]
	if head.Role != RoleSystem || !strings.HasPrefix(head.Content, summaryPreamble) || !strings.Contains(head.Content, "condensed") {
		t.Errorf("history head is not the summary message: %+v", head)
	}

	recent := result.History[1:]
	if !reflect.DeepEqual(recent, history[100-len(recent):]) {
		t.Errorf("recent messages not kept verbatim and in order")
	}
	if want := 100 - len(recent); result.Cache.CoversUpTo != want {
		t.Errorf("cache covers up to %d, want boundary %d", result.Cache.CoversUpTo, want)
	}
	if got := e.CountMessageListTokens(result.History); got > 3000 {
		t.Errorf("optimized history counts %d tokens, over target", got)
	}
}

func TestOptimizeSummarizationAtTightTarget(t *testing.T) {
	// 100 messages at ~50 tokens, target 1000, model limit 8192: the
	// summary reservation must not starve the recent window, so the
	// projection is the summary message plus verbatim recent messages.
	condenser := &fakeCondenser{hasCreds: true, reply: "condensed"}
	o, e := newTestOptimizer(condenser)
	history := mkHistory(100)

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     1000,
		SummarizationEnabled: true,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if condenser.calls != 1 {
		t.Fatalf("summarizer called %d times, want exactly 1", condenser.calls)
	}
	if len(result.History) < 2 {
		t.Fatalf("projection is %d messages, want summary plus recent messages", len(result.History))
	}
	if head := result.History[0]; head.Role != RoleSystem || !strings.Contains(head.Content, "condensed") {
		t.Errorf("history head is not the summary message: %+v", head)
	}

	recent := result.History[1:]
	if !reflect.DeepEqual(recent, history[100-len(recent):]) {
		t.Errorf("recent messages not kept verbatim and in order")
	}
	if recent[len(recent)-1].Content != history[99].Content {
		t.Errorf("newest message missing from the projection")
	}
	if result.Cache == nil || result.Cache.Text != "condensed" || result.Cache.CoversUpTo != 100-len(recent) {
		t.Errorf("cache = %+v, want {condensed, %d}", result.Cache, 100-len(recent))
	}
	if got := e.CountMessageListTokens(result.History); got > 1000 {
		t.Errorf("optimized history counts %d tokens, over target 1000", got)
	}
}

func TestOptimizeKeepsNewestMessageDespiteHugeSummary(t *testing.T) {
	// A cached summary whose real cost nearly fills the target: the newest
	// message still has to appear verbatim, never only inside the summary.
	o, _ := newTestOptimizer(nil)
	history := mkHistory(100)
	cache := &SummaryCache{Text: strings.Repeat("s", 3800), CoversUpTo: 100}

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     1000,
		Cache:                cache,
		SummarizationEnabled: true,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if len(result.History) < 2 {
		t.Fatalf("projection is %d messages, want summary plus the newest message", len(result.History))
	}
	last := result.History[len(result.History)-1]
	if last.Role != RoleUser || last.Content != history[99].Content {
		t.Errorf("newest message not kept verbatim: %+v", last)
	}
}

func TestOptimizeReusesValidCache(t *testing.T) {
	condenser := &fakeCondenser{hasCreds: true, reply: "condensed"}
	o, _ := newTestOptimizer(condenser)
	history := mkHistory(100)

	req := OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     3000,
		SummarizationEnabled: true,
	}

	first, err := o.Optimize(context.Background(), req)
	if err != nil {
		t.Fatalf("first Optimize: %v", err)
	}
	if condenser.calls != 1 {
		t.Fatalf("first call: summarizer invoked %d times", condenser.calls)
	}

	req.Cache = first.Cache
	second, err := o.Optimize(context.Background(), req)
	if err != nil {
		t.Fatalf("second Optimize: %v", err)
	}

	if condenser.calls != 1 {
		t.Errorf("cache reuse still invoked the summarizer (%d calls)", condenser.calls)
	}
	if second.Cache != first.Cache {
		t.Errorf("valid cache must be passed through unchanged")
	}
	if second.History[0].Role != RoleSystem || !strings.Contains(second.History[0].Content, "condensed") {
		t.Errorf("cached summary not injected: %+v", second.History[0])
	}
}

func TestOptimizeStaleCacheTriggersResummarization(t *testing.T) {
	condenser := &fakeCondenser{hasCreds: true, reply: "fresh summary"}
	o, _ := newTestOptimizer(condenser)
	history := mkHistory(100)

	stale := &SummaryCache{Text: "old summary", CoversUpTo: 1}
	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     3000,
		Cache:                stale,
		SummarizationEnabled: true,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if condenser.calls != 1 {
		t.Fatalf("stale cache should force one summarization, got %d", condenser.calls)
	}
	// The previous summary's information travels into the new request.
	if !strings.Contains(condenser.lastTranscript, "old summary") {
		t.Errorf("stale summary text missing from summarization input:\n%s", condenser.lastTranscript)
	}
	if result.Cache == nil || result.Cache.Text != "fresh summary" {
		t.Errorf("cache = %+v, want replacement with fresh summary", result.Cache)
	}
	if result.Cache != nil && result.Cache.CoversUpTo <= stale.CoversUpTo {
		t.Errorf("new cache covers %d, must cover more than the stale %d", result.Cache.CoversUpTo, stale.CoversUpTo)
	}
}

func TestOptimizeSummarizerFailureDegradesToTruncation(t *testing.T) {
	condenser := &fakeCondenser{hasCreds: true, err: errors.New("backend down")}
	o, e := newTestOptimizer(condenser)
	history := mkHistory(100)

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:              history,
		ModelContextLimit:    8192,
		TargetTokenLimit:     1000,
		Cache:                &SummaryCache{Text: "stale", CoversUpTo: 1},
		SummarizationEnabled: true,
	})
	if err != nil {
		t.Fatalf("Optimize must not propagate summarizer failures: %v", err)
	}

	if result.Cache != nil {
		t.Errorf("failed summarization must null the cache, got %+v", result.Cache)
	}
	if got := e.CountMessageListTokens(result.History); got > 1000 {
		t.Errorf("fallback history counts %d tokens, over target", got)
	}
	for _, m := range result.History {
		if strings.HasPrefix(m.Content, summaryPreamble) {
			t.Errorf("no summary message may appear after a failed summarization")
		}
	}
}

func TestOptimizeBoundaryMonotonicUnderShrinkingTarget(t *testing.T) {
	history := mkHistory(100)

	prevBoundary := -1
	for _, target := range []int{4000, 3000, 2000, 1500} {
		condenser := &fakeCondenser{hasCreds: true, reply: "s"}
		o, _ := newTestOptimizer(condenser)

		result, err := o.Optimize(context.Background(), OptimizeRequest{
			History:              history,
			ModelContextLimit:    8192,
			TargetTokenLimit:     target,
			SummarizationEnabled: true,
		})
		if err != nil {
			t.Fatalf("Optimize(target=%d): %v", target, err)
		}
		if result.Cache == nil {
			t.Fatalf("Optimize(target=%d): no cache produced", target)
		}

		k := result.Cache.CoversUpTo
		if k < prevBoundary {
			t.Errorf("boundary decreased from %d to %d as target shrank to %d", prevBoundary, k, target)
		}
		prevBoundary = k
	}
}

func TestOptimizeHardLimitWinsOverTarget(t *testing.T) {
	o, e := newTestOptimizer(nil)
	history := mkHistory(50) // ~2502 tokens

	// Target allows everything; the model's hard ceiling does not.
	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:           history,
		ModelContextLimit: 300,
		TargetTokenLimit:  5000,
		Cache:             &SummaryCache{Text: "anything", CoversUpTo: 50},
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if got := e.CountMessageListTokens(result.History); got > 300 {
		t.Errorf("emergency clamp left %d tokens, over hard limit 300", got)
	}
	if result.Cache != nil {
		t.Errorf("emergency clamp must null the cache")
	}
}

func TestOptimizeSingleMessageOverHardLimit(t *testing.T) {
	o, _ := newTestOptimizer(nil)
	// One message whose own count (~10001 tokens) exceeds the hard limit.
	history := []Message{{Role: RoleUser, Content: strings.Repeat("x", 40000)}}

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:           history,
		ModelContextLimit: 8192,
		TargetTokenLimit:  50000,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if len(result.History) != 1 {
		t.Fatalf("clamp cannot shrink below one message, got %d", len(result.History))
	}
	if result.History[0].Content != history[0].Content {
		t.Errorf("the single retained message was altered")
	}
	if result.Cache != nil {
		t.Errorf("emergency clamp must null the cache")
	}
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	condenser := &fakeCondenser{hasCreds: true, reply: "s"}
	o, _ := newTestOptimizer(condenser)

	history := mkHistory(100)
	snapshot := make([]Message, len(history))
	copy(snapshot, history)

	_, err := o.Optimize(context.Background(), OptimizeRequest{
		History:              history,
		SystemPrompt:         "be helpful",
		ModelContextLimit:    8192,
		TargetTokenLimit:     2000,
		Cache:                &SummaryCache{Text: "old", CoversUpTo: 3},
		SummarizationEnabled: true,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if !reflect.DeepEqual(history, snapshot) {
		t.Errorf("Optimize mutated the caller's history")
	}
}

func TestOptimizeStripsSystemPrompt(t *testing.T) {
	o, e := newTestOptimizer(nil)
	system := strings.Repeat("p", 400) // ~105 tokens
	history := mkHistory(100)

	result, err := o.Optimize(context.Background(), OptimizeRequest{
		History:           history,
		SystemPrompt:      system,
		ModelContextLimit: 8192,
		TargetTokenLimit:  1000,
	})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	for _, m := range result.History {
		if m.Role == RoleSystem {
			t.Errorf("returned history contains a system message: %+v", m)
		}
	}

	// The system prompt participated in accounting: history plus prompt
	// still fits the target.
	systemCost := e.CountMessageTokens(systemMessage(system))
	if got := e.CountMessageListTokens(result.History) + systemCost; got > 1000 {
		t.Errorf("history (%d tokens incl. prompt) exceeds target", got)
	}
}

func TestOptimizeRejectsInvalidLimits(t *testing.T) {
	o, _ := newTestOptimizer(nil)

	if _, err := o.Optimize(context.Background(), OptimizeRequest{
		History:           mkHistory(2),
		ModelContextLimit: 8192,
		TargetTokenLimit:  -1,
	}); err == nil {
		t.Errorf("negative target limit must be rejected")
	}

	if _, err := o.Optimize(context.Background(), OptimizeRequest{
		History:           mkHistory(2),
		ModelContextLimit: 0,
		TargetTokenLimit:  1000,
	}); err == nil {
		t.Errorf("non-positive model limit must be rejected")
	}
}
