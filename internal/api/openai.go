package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/util"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests
	DefaultHTTPTimeout = 120 * time.Second
	// maxErrorDetail bounds provider error text kept for logs
	maxErrorDetail = 300
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	httpClient *http.Client
	cfg        config.ModelConfig
	logger     *slog.Logger
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint
func NewOpenAIProvider(cfg config.ModelConfig, logger *slog.Logger) *OpenAIProvider {
	timeout := DefaultHTTPTimeout
	if cfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	}
	return &OpenAIProvider{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		logger:     logger.With("component", "openai", "model", cfg.ModelName),
	}
}

// Model returns the configured model name
func (p *OpenAIProvider) Model() string { return p.cfg.ModelName }

// Generate sends one chat completion request
func (p *OpenAIProvider) Generate(ctx context.Context, req ProviderRequest, credential string) (ProviderResponse, error) {
	body := ChatCompletionRequest{
		Model:       p.cfg.ModelName,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		TopP:        p.cfg.TopP,
		MaxTokens:   req.MaxTokens,
		N:           1,
	}
	if p.cfg.JSONMode {
		body.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	payload, release, err := encodeBody(body)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	defer release()

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			p.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(httpResp.StatusCode, respBody)
		return ProviderResponse{
			Status:     classifyOpenAIError(apiErr),
			HTTPStatus: httpResp.StatusCode,
			Detail:     apiErr.Error(),
		}, nil
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return ProviderResponse{
			Status:     StatusSuccess,
			HTTPStatus: httpResp.StatusCode,
			Detail:     "malformed response body",
		}, nil
	}
	return interpretChatResponse(&resp, httpResp.StatusCode), nil
}

func buildMessages(req ProviderRequest) []Message {
	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	if req.Image == nil {
		return append(messages, Message{Role: "user", Content: req.Prompt})
	}

	dataURI := "data:" + req.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)
	return append(messages, Message{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: dataURI, Detail: "high"}},
		},
	})
}

func interpretChatResponse(resp *ChatCompletionResponse, httpStatus int) ProviderResponse {
	out := ProviderResponse{Status: StatusSuccess, HTTPStatus: httpStatus}
	if len(resp.Choices) == 0 {
		out.Detail = "no choices returned"
		return out
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		out.Status = StatusContentBlocked
		out.Detail = "finish_reason content_filter"
		return out
	}
	if choice.Message.Content == nil {
		if choice.Message.Refusal != nil {
			out.Status = StatusContentBlocked
			out.Detail = util.TruncateString(*choice.Message.Refusal, maxErrorDetail)
			return out
		}
		out.Detail = "message has no content"
		return out
	}

	out.Text = *choice.Message.Content
	out.TextPresent = true
	return out
}

func parseAPIError(status int, body []byte) *APIError {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		code := ""
		if errResp.Error.Code != nil {
			code = fmt.Sprint(errResp.Error.Code)
		}
		return &APIError{
			Message:    util.TruncateString(errResp.Error.Message, maxErrorDetail),
			StatusCode: status,
			Type:       errResp.Error.Type,
			Code:       code,
		}
	}
	return &APIError{
		Message:    util.TruncateString(strings.TrimSpace(string(body)), maxErrorDetail),
		StatusCode: status,
	}
}

func classifyOpenAIError(e *APIError) StatusClass {
	code := strings.ToLower(e.Code)
	switch {
	case code == "invalid_api_key" || code == "api_key_invalid":
		return StatusInvalidCredential
	case code == "content_filter" || code == "content_policy_violation":
		return StatusContentBlocked
	case e.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "api key"):
		return StatusInvalidCredential
	}
	return classifyHTTPStatus(e.StatusCode)
}

// APIError represents an error returned by the API
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
