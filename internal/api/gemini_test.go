package api

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StatusClass
	}{
		{"invalid key", genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key.", Status: "INVALID_ARGUMENT"}, StatusInvalidCredential},
		{"permission denied", genai.APIError{Code: 403, Message: "Method doesn't allow unregistered callers", Status: "PERMISSION_DENIED"}, StatusAuthError},
		{"quota", genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}, StatusRateLimited},
		{"overloaded", genai.APIError{Code: 503, Message: "The model is overloaded", Status: "UNAVAILABLE"}, StatusServerError},
		{"wrapped bad request", fmt.Errorf("call: %w", genai.APIError{Code: 400, Message: "bad field", Status: "INVALID_ARGUMENT"}), StatusOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := classifyGeminiError(tt.err)
			if !ok {
				t.Fatal("Expected API error to be classified")
			}
			if resp.Status != tt.want {
				t.Errorf("Status = %s, want %s", resp.Status, tt.want)
			}
		})
	}

	if _, ok := classifyGeminiError(errors.New("dial tcp: connection refused")); ok {
		t.Error("Network errors should not be classified as API responses")
	}
}

func TestInterpretGeminiResponse(t *testing.T) {
	textResp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "[{\"question\": "},
				{Text: "\"q\"}]"},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
	got := interpretGeminiResponse(textResp)
	if got.Status != StatusSuccess || !got.TextPresent || got.Text != `[{"question": "q"}]` {
		t.Errorf("Unexpected result %+v", got)
	}

	blocked := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	}
	if got := interpretGeminiResponse(blocked); got.Status != StatusContentBlocked {
		t.Errorf("Expected content block, got %+v", got)
	}

	promptBlocked := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}
	if got := interpretGeminiResponse(promptBlocked); got.Status != StatusContentBlocked {
		t.Errorf("Expected prompt block, got %+v", got)
	}

	empty := &genai.GenerateContentResponse{}
	if got := interpretGeminiResponse(empty); got.Status != StatusSuccess || got.TextPresent {
		t.Errorf("Expected success without text, got %+v", got)
	}

	noText := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: ""}}}}},
	}
	if got := interpretGeminiResponse(noText); got.TextPresent {
		t.Errorf("Expected missing text, got %+v", got)
	}
}
