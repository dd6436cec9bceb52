// Package llmclient defines the LLM extraction contract (§6) and ships a
// default adapter over github.com/google/generative-ai-go's Gemini client,
// grounded on knopka87-llm_proxy's Gemini engine: a JSON-schema-constrained
// GenerationConfig plus a bounded retry loop.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/adverant/pdfextract/internal/model"
)

// Options carries the per-call constraints described in §6: a reduced
// schema for hybrid calls (callers simply pass the already-reduced
// schema.Schema) and a language-region hint.
type Options struct {
	LanguageRegion string
}

// DefaultLanguageRegion is the hint used when Options.LanguageRegion is
// empty, per §6 ("default: Brazilian Portuguese").
const DefaultLanguageRegion = "pt-BR"

// Client is the LLM contract the orchestrator depends on.
type Client interface {
	Extract(ctx context.Context, elements []model.Element, schema model.Schema, opts Options) (data map[string]interface{}, retries int, err error)
}

// GeminiClient is the default Client adapter.
type GeminiClient struct {
	apiKey     string
	model      string
	maxRetries int
}

func NewGeminiClient(apiKey, modelName string, maxRetries int) *GeminiClient {
	return &GeminiClient{
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(modelName),
		maxRetries: maxRetries,
	}
}

// Extract calls Gemini with a JSON-schema-constrained generation config
// built from schema, retrying up to maxRetries times with exponential
// backoff starting at 1s on a malformed or transient response (§5, §7).
func (c *GeminiClient) Extract(ctx context.Context, elements []model.Element, schema model.Schema, opts Options) (map[string]interface{}, int, error) {
	if c.apiKey == "" {
		return nil, 0, fmt.Errorf("llmclient: GOOGLE_API_KEY is empty")
	}

	region := opts.LanguageRegion
	if region == "" {
		region = DefaultLanguageRegion
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, 0, fmt.Errorf("llmclient: create client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(c.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(schema),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(systemPrompt(region)),
		},
	}

	userText := buildUserPrompt(elements, schema)
	parts := []genai.Part{genai.Text(userText)}

	var lastErr error
	retries := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			retries++
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, retries, ctx.Err()
			}
		}

		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			continue
		}

		txt := firstText(resp)
		if txt == "" {
			lastErr = fmt.Errorf("llmclient: empty response")
			continue
		}
		txt = stripCodeFences(strings.TrimSpace(txt))

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(txt), &data); err != nil {
			lastErr = fmt.Errorf("llmclient: malformed JSON response: %w", err)
			continue
		}
		return data, retries, nil
	}

	return nil, retries, lastErr
}

func systemPrompt(region string) string {
	return fmt.Sprintf(
		"You extract structured fields from a document's text for automated processing. "+
			"Respond only with JSON matching the provided schema. "+
			"Use %s conventions when interpreting dates, currency, and identification numbers. "+
			"If a field's value cannot be found, return null for it. Never invent values.",
		region,
	)
}

func buildUserPrompt(elements []model.Element, schema model.Schema) string {
	var sb strings.Builder
	sb.WriteString("Document elements (text, page, bounding box):\n")
	for _, e := range elements {
		fmt.Fprintf(&sb, "[p%d (%.1f,%.1f,%.1f,%.1f)] %s\n", e.Page, e.Box.X0, e.Box.Y0, e.Box.X1, e.Box.Y1, e.Text)
	}
	sb.WriteString("\nFields to extract:\n")
	for _, f := range schema.Fields {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Description)
	}
	return sb.String()
}

// responseSchema builds a genai.Schema constraining the model's JSON
// output to exactly the requested field names, each a nullable string.
func responseSchema(schema model.Schema) *genai.Schema {
	props := make(map[string]*genai.Schema, len(schema.Fields))
	for _, f := range schema.Fields {
		props[f.Name] = &genai.Schema{
			Type:        genai.TypeString,
			Description: f.Description,
			Nullable:    true,
		}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   schema.Names(),
	}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
