package api

import (
	"context"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// StatusClass is the provider-independent outcome of one completion call
type StatusClass int

const (
	StatusSuccess StatusClass = iota
	StatusAuthError
	StatusInvalidCredential
	StatusRateLimited
	StatusServerError
	StatusContentBlocked
	StatusOther
)

func (s StatusClass) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAuthError:
		return "auth_error"
	case StatusInvalidCredential:
		return "invalid_credential"
	case StatusRateLimited:
		return "rate_limited"
	case StatusServerError:
		return "server_error"
	case StatusContentBlocked:
		return "content_blocked"
	default:
		return "other"
	}
}

// classifyHTTPStatus maps a non-200 HTTP status to a status class
func classifyHTTPStatus(code int) StatusClass {
	switch {
	case code == 401 || code == 403:
		return StatusAuthError
	case code == 429:
		return StatusRateLimited
	case code >= 500:
		return StatusServerError
	default:
		return StatusOther
	}
}

// Image is an optional picture attached to a prompt
type Image struct {
	Data     []byte
	MIMEType string
}

// NewImage wraps raw bytes, detecting the MIME type from content
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	mt := mimetype.Detect(data)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") && !mt.Is("image/webp") && !mt.Is("image/gif") {
		return nil, fmt.Errorf("unsupported image type %s", mt.String())
	}
	return &Image{Data: data, MIMEType: mt.String()}, nil
}

// LoadImage reads an image file from disk
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := NewImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ProviderRequest is one completion call as seen by a provider
type ProviderRequest struct {
	System      string
	Prompt      string
	Image       *Image
	Temperature float64
	MaxTokens   int
}

// ProviderResponse is the classified result of a provider call.
// TextPresent is false when a successful response had no text field.
type ProviderResponse struct {
	Status      StatusClass
	Text        string
	TextPresent bool
	HTTPStatus  int
	Detail      string // provider error message, for logs only
}

// Provider performs a single completion call with the given credential.
// A non-nil error means the call never produced an HTTP response.
type Provider interface {
	Generate(ctx context.Context, req ProviderRequest, credential string) (ProviderResponse, error)
	Model() string
}
