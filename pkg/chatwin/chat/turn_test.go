package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/jholhewres/chatwin/pkg/chatwin/models"
)

// scriptedLLM plays back canned responses and records what it was sent.
type scriptedLLM struct {
	responses []*LLMResponse
	requests  [][]Message
	events    *[]string
	summary   string
}

func (s *scriptedLLM) CompleteWithTools(_ context.Context, messages []Message, _ []ToolDefinition) (*LLMResponse, error) {
	if s.events != nil {
		*s.events = append(*s.events, "llm")
	}
	copied := make([]Message, len(messages))
	copy(copied, messages)
	s.requests = append(s.requests, copied)

	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *scriptedLLM) HasCredentials() bool { return true }

func (s *scriptedLLM) Condense(_ context.Context, _, _, _ string, _ int, _ float64) (string, error) {
	return s.summary, nil
}

// recordingPersistence captures history appends and cache updates.
type recordingPersistence struct {
	events     *[]string
	messages   []Message
	cacheSaves []*SummaryCache
}

func (p *recordingPersistence) AppendMessage(_ string, _ int, m Message) error {
	p.messages = append(p.messages, m)
	return nil
}

func (p *recordingPersistence) SaveSummaryCache(_ string, cache *SummaryCache) error {
	if p.events != nil {
		*p.events = append(*p.events, "cache")
	}
	p.cacheSaves = append(p.cacheSaves, cache)
	return nil
}

func newTurnFixture(llm *scriptedLLM, persist TurnPersistence, cfg *Config) (*TurnController, *Session) {
	tools := NewToolExecutor(nil)
	tools.RegisterBuiltins()

	optimizer := NewOptimizer(charEstimator(), NewSummarizer(llm, cfg.SummaryModel, nil), nil)
	tc := NewTurnController(llm, optimizer, tools, models.NewRegistry(nil), persist, cfg, nil)

	store := NewSessionStore(nil)
	return tc, store.New()
}

func TestRunTurnPlainResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{{Content: "hello back"}}}
	cfg := DefaultConfig()
	cfg.Instructions = "You are helpful."

	tc, session := newTurnFixture(llm, nil, cfg)

	got, err := tc.RunTurn(context.Background(), session, Message{Role: RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got != "hello back" {
		t.Errorf("final text = %q", got)
	}
	if len(llm.requests) != 1 {
		t.Errorf("plain turn issued %d model calls, want 1", len(llm.requests))
	}
	if llm.requests[0][0].Role != RoleSystem || llm.requests[0][0].Content != "You are helpful." {
		t.Errorf("request missing live system prompt: %+v", llm.requests[0][0])
	}
	if session.Len() != 2 {
		t.Errorf("session holds %d messages, want user + assistant", session.Len())
	}
}

func TestRunTurnToolCallLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: "current_time", Arguments: "{}"}}},
		{Content: "it is late"},
	}}
	persist := &recordingPersistence{}
	tc, session := newTurnFixture(llm, persist, DefaultConfig())

	got, err := tc.RunTurn(context.Background(), session, Message{Role: RoleUser, Content: "what time is it?"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got != "it is late" {
		t.Errorf("final text = %q", got)
	}
	if len(llm.requests) != 2 {
		t.Fatalf("tool turn issued %d model calls, want 2", len(llm.requests))
	}

	history := session.History()
	if len(history) != 4 {
		t.Fatalf("session holds %d messages, want user/assistant/tool/assistant", len(history))
	}
	if len(history[1].ToolCalls) != 1 {
		t.Errorf("assistant tool request not recorded: %+v", history[1])
	}
	if history[2].Role != RoleTool || history[2].ToolCallID != "tc1" || history[2].Name != "current_time" {
		t.Errorf("tool result malformed: %+v", history[2])
	}
	if history[2].Content == "" {
		t.Errorf("tool result has no content")
	}

	// The follow-up request carried the tool traffic.
	second := llm.requests[1]
	if second[len(second)-1].Role != RoleTool {
		t.Errorf("follow-up request does not end with the tool result")
	}

	// Every history message was mirrored to persistence.
	if len(persist.messages) != 4 {
		t.Errorf("persisted %d messages, want 4", len(persist.messages))
	}
}

func TestRunTurnPersistsCacheBeforeRequest(t *testing.T) {
	var events []string

	llm := &scriptedLLM{
		responses: []*LLMResponse{{Content: "done"}},
		events:    &events,
		summary:   "what came before",
	}
	persist := &recordingPersistence{events: &events}

	cfg := DefaultConfig()
	cfg.Context.TargetTokenLimit = 3000

	tc, session := newTurnFixture(llm, persist, cfg)
	session.Append(mkHistory(100)...)

	if _, err := tc.RunTurn(context.Background(), session, Message{Role: RoleUser, Content: "continue"}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if session.Cache() == nil || session.Cache().Text != "what came before" {
		t.Fatalf("summarization did not populate the session cache: %+v", session.Cache())
	}

	// The cache write must land before the model request that relies on it.
	cacheIdx, llmIdx := -1, -1
	for i, e := range events {
		if e == "cache" && cacheIdx == -1 {
			cacheIdx = i
		}
		if e == "llm" && llmIdx == -1 {
			llmIdx = i
		}
	}
	if cacheIdx == -1 || llmIdx == -1 || cacheIdx > llmIdx {
		t.Errorf("cache persisted after the model request: events = %v", events)
	}
}

func TestRunTurnStripsImagesForNonVisionModels(t *testing.T) {
	llm := &scriptedLLM{responses: []*LLMResponse{{Content: "ok"}}}
	cfg := DefaultConfig()
	cfg.Model = "my-local-model" // unknown: conservative default, no vision

	tc, session := newTurnFixture(llm, nil, cfg)

	msg := Message{Role: RoleUser, Parts: []ContentPart{
		{Type: PartText, Text: "describe this"},
		{Type: PartImage, ImageURL: "data:image/png;base64,xx"},
	}}
	if _, err := tc.RunTurn(context.Background(), session, msg); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	for _, m := range llm.requests[0] {
		if m.HasImages() {
			t.Errorf("image part sent to a non-vision model: %+v", m)
		}
	}
	if !strings.Contains(llm.requests[0][len(llm.requests[0])-1].Text(), "image omitted") {
		t.Errorf("image not downgraded to placeholder text")
	}
}
