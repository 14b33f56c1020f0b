// Package google adapts Google's Gemini API to the gateway.Provider
// interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/panelkit/boardroom/board/gateway"
)

// Provider implements gateway.Provider over the official generative-ai-go
// client. Safe for concurrent use; Close releases the underlying client.
type Provider struct {
	client *genai.Client
}

// New creates a Gemini-backed provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name implements gateway.Provider.
func (p *Provider) Name() string { return "google" }

// Complete implements gateway.Provider.
func (p *Provider) Complete(ctx context.Context, model string, req gateway.Request) (gateway.Response, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Response{}, err
	}

	m := p.client.GenerativeModel(model)
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return gateway.Response{}, translateError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return gateway.Response{}, &gateway.CallError{
			Provider: "google", Code: "empty_response", Err: errors.New("no candidates returned"),
		}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	var usage gateway.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return gateway.Response{Text: text.String(), Usage: usage}, nil
}

// Close releases the underlying Gemini client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// translateError maps SDK failures onto *gateway.CallError.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "rate limit"):
		return &gateway.CallError{Provider: "google", Code: "rate_limited", Retryable: true, Err: err}
	case strings.Contains(msg, "500"), strings.Contains(msg, "503"), strings.Contains(msg, "internal"),
		strings.Contains(msg, "unavailable"):
		return &gateway.CallError{Provider: "google", Code: "unavailable", Retryable: true, Err: err}
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "api key"),
		strings.Contains(msg, "permission"):
		return &gateway.CallError{Provider: "google", Code: "invalid_api_key", Retryable: false, Err: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return &gateway.CallError{Provider: "google", Code: "timeout", Retryable: true, Err: err}
	default:
		return &gateway.CallError{Provider: "google", Code: "api_error", Retryable: false, Err: err}
	}
}
