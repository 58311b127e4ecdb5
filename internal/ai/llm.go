package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"battlegate/pkg/logger"
)

// DefaultLLMTimeout bounds every LLM call; on expiry the caller falls back
// to the tier-4 heuristic.
const DefaultLLMTimeout = 8 * time.Second

// LLMClient calls a chat-completions style HTTP endpoint to pick a choice
// command. Failures are ordinary: the tier-5 engine treats any error as a
// fallback signal.
type LLMClient struct {
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	logger   *logger.ColoredLogger
}

// NewLLMClient creates a client. A zero timeout uses DefaultLLMTimeout.
func NewLLMClient(endpoint, model, apiKey string, timeout time.Duration) *LLMClient {
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	return &LLMClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.AILogger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are a competitive pokemon battle assistant. ` +
	`Reply with a single JSON object {"command":"<choice>"} where <choice> is ` +
	`one of: "move 1".."move 4", "switch 1".."switch 6", "team 1".."team 6", "default". ` +
	`No other text.`

// ChooseAction asks the model for one choice command. The call is bounded
// by the client's hard timeout; a non-conforming reply is an error.
func (c *LLMClient) ChooseAction(ctx context.Context, situation string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: situation},
		},
		Temperature: 0.2,
		MaxTokens:   50,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm response decode: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm response has no choices")
	}

	var action struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &action); err != nil {
		return "", fmt.Errorf("llm reply is not the expected JSON: %w", err)
	}
	if !ValidChoice(action.Command) {
		return "", fmt.Errorf("llm reply %q is not a legal choice", action.Command)
	}
	return action.Command, nil
}
