package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/pkg/anthropic"
)

const extractionSystemPrompt = `You extract structured field values from legal form documents.
Respond with a single JSON object and nothing else. Keys are field names.
Each value is an object: {"value": string, "confidence": number 0..1,
"alternatives": [{"value": string, "confidence": number}]}.
Omit fields you cannot find. Do not invent values.`

// AnthropicBackend predicts field values by asking a Claude model to read
// the document. It is the highest-priority (and only paid) backend in the
// default chain.
type AnthropicBackend struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// AnthropicOptions configures the Claude-backed predictor.
type AnthropicOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// NewAnthropicBackend creates a backend over the given client. Zero-value
// options fall back to a small fast model with a deterministic temperature.
func NewAnthropicBackend(client anthropic.Client, opts AnthropicOptions) *AnthropicBackend {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 2048
	}
	return &AnthropicBackend{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

func (b *AnthropicBackend) Name() string { return "claude" }

func (b *AnthropicBackend) Predict(ctx context.Context, req model.PredictionRequest) ([]model.PredictedField, error) {
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       b.model,
		MaxTokens:   b.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(extractionSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: buildExtractionPrompt(req)}},
		Temperature: &b.temperature,
	})
	if err != nil {
		return nil, eris.Wrap(err, "backend: claude predict")
	}

	resp.Usage.LogCost(b.model, "field-extraction")

	text := joinTextBlocks(resp.Content)
	fields, err := parseExtractionResponse(text)
	if err != nil {
		zap.L().Warn("claude returned unparseable extraction output",
			zap.String("document_id", req.DocumentID),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, err
	}
	return fields, nil
}

func buildExtractionPrompt(req model.PredictionRequest) string {
	var sb strings.Builder
	sb.WriteString("Document type: ")
	if req.DocumentType != "" {
		sb.WriteString(req.DocumentType)
	} else {
		sb.WriteString("unknown")
	}
	sb.WriteString("\n\nFields to extract:\n")
	for _, name := range req.Fields {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	if len(req.Fields) == 0 {
		sb.WriteString("- all recognizable form fields\n")
	}
	sb.WriteString("\nDocument:\n")
	sb.WriteString(req.Text)
	return sb.String()
}

func joinTextBlocks(blocks []anthropic.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// extractedField mirrors the JSON shape the system prompt demands.
type extractedField struct {
	Value        string  `json:"value"`
	Confidence   float64 `json:"confidence"`
	Alternatives []struct {
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

func parseExtractionResponse(text string) ([]model.PredictedField, error) {
	text = stripCodeFence(text)

	var raw map[string]extractedField
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, eris.Wrap(err, "backend: parse extraction JSON")
	}

	out := make([]model.PredictedField, 0, len(raw))
	for name, ef := range raw {
		pf := model.PredictedField{
			Name:       name,
			Value:      ef.Value,
			Confidence: clamp01(ef.Confidence),
		}
		for _, alt := range ef.Alternatives {
			pf.Alternatives = append(pf.Alternatives, model.Alternative{
				Value:      alt.Value,
				Confidence: clamp01(alt.Confidence),
			})
		}
		out = append(out, pf)
	}
	return out, nil
}

// stripCodeFence removes a leading/trailing markdown fence if the model
// wrapped its JSON despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
