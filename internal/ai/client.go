// Package ai wraps the Gemini API behind four small adapters: linguistic
// analysis, partner replies, corrected-sentence suggestions, and German
// renderings for mismatch practice. Each adapter owns its prompt and its
// response parsing; the service layer only sees plain Go values and errors.
package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// Client is a thin wrapper over the Gemini SDK bound to one model.
type Client struct {
	genai *genai.Client
	model string
}

// NewClient dials the Gemini API. An empty model selects DefaultModel.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	config := &genai.ClientConfig{}
	if apiKey != "" {
		config.APIKey = apiKey
	}
	gc, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{genai: gc, model: model}, nil
}

// generate runs one text prompt through the model and returns the cleaned
// output.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.genai == nil {
		return "", errors.New("gemini client not initialized")
	}
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return cleanModelOutput(resp.Text()), nil
}

// cleanModelOutput strips the markdown code fences models like to wrap JSON
// answers in.
func cleanModelOutput(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
