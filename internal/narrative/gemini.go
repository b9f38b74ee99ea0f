package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/example/courier-dispatch/internal/models"
)

// Gemini narrates decisions with Google's Gemini models.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	// Flash keeps narration latency out of the dispatch hot path's way.
	model := client.GenerativeModel("gemini-2.0-flash")
	model.SetTemperature(0.4)
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Close() { g.client.Close() }

func (g *Gemini) Narrate(ctx context.Context, d models.DispatchDecision, bids []models.Bid) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(d, bids)))
	if err != nil {
		return "", fmt.Errorf("gemini generation: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates from gemini")
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(out.String()), nil
}
