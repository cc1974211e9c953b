package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"reportpilot/config"
)

// Message is one chat turn sent to a completion backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is a single request/response call to a language model. Retries
// and rate limiting live in AIService, not here.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// statusError is a non-200 reply from a backend.
type statusError struct {
	Status  int
	Code    string
	Message string
}

func (e *statusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d): %s - %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API returned status %d: %s", e.Status, e.Message)
}

const DashScopeURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"

type DashScopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []Message `json:"messages"`
	} `json:"input"`
	Parameters *DashScopeParameters `json:"parameters,omitempty"`
}

type DashScopeParameters struct {
	ResultFormat string   `json:"result_format,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
}

type DashScopeResponse struct {
	Output struct {
		Text    string `json:"text,omitempty"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type DashScopeClient struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
}

func NewDashScopeClient(apiKey, modelName, apiURL string, timeout time.Duration) *DashScopeClient {
	if apiURL == "" {
		apiURL = DashScopeURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &DashScopeClient{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *DashScopeClient) Complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := DashScopeRequest{
		Model:      d.modelName,
		Parameters: &DashScopeParameters{ResultFormat: "message"},
	}
	reqBody.Input.Messages = messages

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", d.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Code != "" {
			return "", &statusError{Status: resp.StatusCode, Code: errorResp.Code,
				Message: fmt.Sprintf("%s (request_id: %s)", errorResp.Message, errorResp.RequestID)}
		}
		return "", &statusError{Status: resp.StatusCode, Message: string(body)}
	}

	var dashScopeResp DashScopeResponse
	if err := json.Unmarshal(body, &dashScopeResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if dashScopeResp.Code != "" && dashScopeResp.Code != "Success" {
		return "", fmt.Errorf("API error: %s - %s", dashScopeResp.Code, dashScopeResp.Message)
	}
	if len(dashScopeResp.Output.Choices) > 0 {
		return dashScopeResp.Output.Choices[0].Message.Content, nil
	}
	if dashScopeResp.Output.Text != "" {
		return dashScopeResp.Output.Text, nil
	}
	return "", fmt.Errorf("no response from AI model")
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: 0.2,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &statusError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", &statusError{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		}
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// NewCompleter picks the backend named in cfg.
func NewCompleter(cfg config.InferenceConfig) (Completer, error) {
	switch cfg.Backend {
	case "", "dashscope":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("INFERENCE_API_KEY is required for the dashscope backend")
		}
		return NewDashScopeClient(cfg.APIKey, cfg.ModelName, cfg.BaseURL, cfg.Timeout), nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.ModelName, cfg.BaseURL, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
}
