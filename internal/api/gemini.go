package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/internal/util"
)

// GeminiProvider calls the Gemini API through the genai SDK.
// One SDK client is created lazily per credential.
type GeminiProvider struct {
	cfg     config.ModelConfig
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiProvider creates a provider for a Gemini model
func NewGeminiProvider(cfg config.ModelConfig, logger *slog.Logger) *GeminiProvider {
	return &GeminiProvider{
		cfg:     cfg,
		logger:  logger.With("component", "gemini", "model", cfg.ModelName),
		clients: make(map[string]*genai.Client),
	}
}

// Model returns the configured model name
func (p *GeminiProvider) Model() string { return p.cfg.ModelName }

func (p *GeminiProvider) client(ctx context.Context, credential string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[credential]; ok {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  credential,
		Backend: genai.BackendGeminiAPI,
	}
	if p.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p.clients[credential] = c
	return c, nil
}

// Generate sends one GenerateContent request
func (p *GeminiProvider) Generate(ctx context.Context, req ProviderRequest, credential string) (ProviderResponse, error) {
	client, err := p.client(ctx, credential)
	if err != nil {
		return ProviderResponse{}, err
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.Image != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		genCfg.Temperature = &temp
	}
	if p.cfg.TopP > 0 {
		topP := float32(p.cfg.TopP)
		genCfg.TopP = &topP
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if p.cfg.JSONMode {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	p.logger.Debug("Generating content", "has_image", req.Image != nil)
	resp, err := client.Models.GenerateContent(ctx, p.cfg.ModelName, contents, genCfg)
	if err != nil {
		if out, ok := classifyGeminiError(err); ok {
			return out, nil
		}
		return ProviderResponse{}, fmt.Errorf("failed to generate content: %w", err)
	}
	return interpretGeminiResponse(resp), nil
}

// classifyGeminiError maps SDK API errors to a response; ok is false for
// errors that never reached the API (network, context)
func classifyGeminiError(err error) (ProviderResponse, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return ProviderResponse{}, false
		}
		apiErr = *ptr
	}

	out := ProviderResponse{
		Status:     classifyHTTPStatus(apiErr.Code),
		HTTPStatus: apiErr.Code,
		Detail:     util.TruncateString(fmt.Sprintf("%s: %s", apiErr.Status, apiErr.Message), maxErrorDetail),
	}
	msg := strings.ToLower(apiErr.Message)
	if apiErr.Code == 400 && (strings.Contains(msg, "api key not valid") || strings.Contains(msg, "api_key_invalid")) {
		out.Status = StatusInvalidCredential
	}
	return out, true
}

func interpretGeminiResponse(resp *genai.GenerateContentResponse) ProviderResponse {
	out := ProviderResponse{Status: StatusSuccess, HTTPStatus: 200}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		out.Status = StatusContentBlocked
		out.Detail = "prompt blocked: " + string(fb.BlockReason)
		return out
	}
	if len(resp.Candidates) == 0 {
		out.Detail = "no candidates in response"
		return out
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		out.Status = StatusContentBlocked
		out.Detail = "finish reason " + string(candidate.FinishReason)
		return out
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		out.Detail = "no parts in candidate content"
		return out
	}

	var text strings.Builder
	found := false
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
			found = true
		}
	}
	if !found {
		out.Detail = "no text in candidate parts"
		return out
	}

	out.Text = text.String()
	out.TextPresent = true
	return out
}
