package refine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const systemInstruction = "You are a cell type annotation expert."

// GeminiConfig configures a GeminiRefiner.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
}

// GeminiRefiner refines candidates with the Gemini API.
type GeminiRefiner struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiRefiner creates a Gemini client. A missing API key yields ErrUnavailable.
func NewGeminiRefiner(ctx context.Context, cfg GeminiConfig) (*GeminiRefiner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key is required", ErrUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiRefiner{client: client, cfg: cfg}, nil
}

// Model returns the configured model name.
func (g *GeminiRefiner) Model() string {
	return g.cfg.Model
}

// Refine sends the prompt for req and parses the selected option.
func (g *GeminiRefiner) Refine(ctx context.Context, req Request) (*Selection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.cfg.Temperature),
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	if g.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = g.cfg.MaxTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(Prompt(req)), config)
	if err != nil {
		return nil, fmt.Errorf("%w: GenAI generate failed: %v", ErrUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("%w: empty response from %s", ErrUnavailable, g.cfg.Model)
	}
	return Select(req, text, g.cfg.Model), nil
}
