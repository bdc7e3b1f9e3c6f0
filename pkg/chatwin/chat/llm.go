// llm.go implements the LLM client for chat completions with function
// calling / tool use support. Uses the OpenAI-compatible API format, which
// works with OpenAI, Anthropic proxies, GLM (api.z.ai), and any compatible
// endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ---------- Client ----------

// LLMClient handles communication with the LLM provider API.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMClient creates a new LLM client from config. The API key is
// resolved through the credential chain (vault → keyring → env → config).
func NewLLMClient(cfg *Config, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.API.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &LLMClient{
		baseURL: baseURL,
		apiKey:  ResolveAPIKey(cfg, logger),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "llm"),
	}
}

// HasCredentials reports whether an API key was resolved.
func (c *LLMClient) HasCredentials() bool {
	return c.apiKey != ""
}

// Model returns the default chat model id.
func (c *LLMClient) Model() string {
	return c.model
}

// ---------- Wire Types (OpenAI-compatible) ----------

// wireContentPart is a single part of multimodal message content:
// {"type":"text","text":"..."} or {"type":"image_url","image_url":{"url":"..."}}.
type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

// wireToolCall is the OpenAI tool_calls element.
type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// wireMessage is a message in the OpenAI chat format.
// Content is either a string (text-only) or []wireContentPart (multimodal).
type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []wireMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ToolDefinition is an OpenAI-compatible tool definition for function calling.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ---------- Response Types ----------

// LLMResponse holds the parsed response from a chat completion.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        LLMUsage
}

// LLMUsage holds token usage information from the API response.
type LLMUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ---------- Marshaling ----------

// toWire converts a domain message to the OpenAI wire shape.
func toWire(m Message) wireMessage {
	w := wireMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}

	if len(m.Parts) > 0 {
		parts := make([]wireContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Type == PartImage {
				parts = append(parts, wireContentPart{
					Type:     "image_url",
					ImageURL: &wireImageURL{URL: p.ImageURL},
				})
			} else {
				parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
			}
		}
		w.Content = parts
	} else {
		w.Content = m.Content
	}

	for _, tc := range m.ToolCalls {
		wtc := wireToolCall{ID: tc.ID, Type: "function"}
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = tc.Arguments
		w.ToolCalls = append(w.ToolCalls, wtc)
	}

	return w
}

// ---------- Public Methods ----------

// CompleteWithTools sends a chat completion request with optional tool
// definitions. Returns a structured response that may include tool calls
// the LLM wants to execute. If tools is nil/empty, behaves as a regular
// chat completion.
func (c *LLMClient) CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*LLMResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured. Run 'chatwin config set-key' or set CHATWIN_API_KEY")
	}

	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = toWire(m)
	}

	reqBody := chatRequest{
		Model:    c.model,
		Messages: wire,
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
	}

	return c.doRequest(ctx, reqBody)
}

// Condense sends a single non-streaming condensation request: a system
// instruction plus a user transcript, against the given model, with a
// bounded output size and low temperature. Used by the Summarizer.
func (c *LLMClient) Condense(ctx context.Context, model, instruction, transcript string, maxTokens int, temperature float64) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	reqBody := chatRequest{
		Model: model,
		Messages: []wireMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: transcript},
		},
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	resp, err := c.doRequest(ctx, reqBody)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// doRequest issues one chat completions request and parses the response.
func (c *LLMClient) doRequest(ctx context.Context, reqBody chatRequest) (*LLMResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", reqBody.Model,
		"messages", len(reqBody.Messages),
		"tools", len(reqBody.Tools),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)

	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, wtc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:        wtc.ID,
			Name:      wtc.Function.Name,
			Arguments: wtc.Function.Arguments,
		})
	}

	c.logger.Info("chat completion done",
		"model", reqBody.Model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(toolCalls),
	)

	return &LLMResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: choice.FinishReason,
		Usage: LLMUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// truncate shortens a string to max characters, appending "..." if cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
