// Package validator implements the optional external semantic
// confirmation call against an OpenAI-compatible chat completions API.
// The call is a single short round trip; any failure counts as a no.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	chatCompletionsPath = "/chat/completions"
	contentTypeHeader   = "Content-Type"
	applicationJSON     = "application/json"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// LLMValidator asks the classifier for a single affirmative/negative
// token with a tiny token budget and zero sampling temperature.
type LLMValidator struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

func New(baseURL string, apiKey string, model string, timeout time.Duration) *LLMValidator {
	return &LLMValidator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Confirm sends the formatted prompt and maps the answer token to a
// confidence: affirmative 1.0, negative 0.0. Transport errors, non-2xx
// responses and unparseable answers return an error so the caller fails
// closed.
func (v *LLMValidator) Confirm(ctx context.Context, prompt string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: v.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   3,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set(contentTypeHeader, applicationJSON)
	if v.apiKey != "" {
		req.Header.Set(authorizationHeader, bearerPrefix+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("validator request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("validator response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("validator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("validator response unparseable: %w", err)
	}
	if parsed.Error != nil {
		return 0, fmt.Errorf("validator error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return 0, fmt.Errorf("validator returned no choices")
	}

	return parseAnswer(parsed.Choices[0].Message.Content)
}

// parseAnswer maps the classifier's answer token to a confidence.
func parseAnswer(content string) (float64, error) {
	answer := strings.ToUpper(strings.TrimSpace(content))
	answer = strings.Trim(answer, ".!\"'")
	switch {
	case strings.HasPrefix(answer, "YES"), strings.HasPrefix(answer, "TRUE"):
		return 1.0, nil
	case strings.HasPrefix(answer, "NO"), strings.HasPrefix(answer, "FALSE"):
		return 0.0, nil
	}
	return 0, fmt.Errorf("validator answer %q is not affirmative or negative", content)
}
