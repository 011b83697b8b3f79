package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini is a Completer backed by Gemini on Vertex AI
type Gemini struct {
	client          *genai.Client
	generativeModel string
}

type GeminiOption func(*Gemini)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *Gemini) {
		g.generativeModel = model
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &Gemini{
		client:          client,
		generativeModel: "gemini-2.5-flash",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Gemini) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, ""),
		MaxOutputTokens:   int32(maxTokens),
		Temperature:       &temperature,
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", goerr.Wrap(ErrEmptyCompletion, "gemini returned no text", goerr.V("model", g.generativeModel))
	}
	return text, nil
}
