package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/pkg/anthropic"
)

// fakeClient returns a canned response for CreateMessage.
type fakeClient struct {
	resp *anthropic.MessageResponse
	err  error
	last anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.last = req
	return f.resp, f.err
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Model:   "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestAnthropicBackend_ParsesExtraction(t *testing.T) {
	client := &fakeClient{resp: textResponse(`{
		"party_a": {"value": "ACME Corporation", "confidence": 0.93},
		"effective_date": {
			"value": "2026-01-05",
			"confidence": 0.87,
			"alternatives": [{"value": "2026-05-01", "confidence": 0.1}]
		}
	}`)}

	b := NewAnthropicBackend(client, AnthropicOptions{})
	fields, err := b.Predict(context.Background(), model.PredictionRequest{
		DocumentID: "doc-1",
		Text:       "some contract",
		Fields:     []string{"party_a", "effective_date"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}

	byName := map[string]model.PredictedField{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	if byName["party_a"].Value != "ACME Corporation" || byName["party_a"].Confidence != 0.93 {
		t.Errorf("party_a = %+v", byName["party_a"])
	}
	if len(byName["effective_date"].Alternatives) != 1 {
		t.Errorf("alternatives not preserved: %+v", byName["effective_date"])
	}

	// Prompt carries the requested field names and the document.
	prompt := client.last.Messages[0].Content
	for _, want := range []string{"party_a", "effective_date", "some contract"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if len(client.last.System) == 0 || client.last.System[0].CacheControl == nil {
		t.Error("system prompt should carry a cache breakpoint")
	}
}

func TestAnthropicBackend_StripsCodeFence(t *testing.T) {
	client := &fakeClient{resp: textResponse("```json\n{\"party_a\": {\"value\": \"ACME\", \"confidence\": 0.9}}\n```")}

	b := NewAnthropicBackend(client, AnthropicOptions{})
	fields, err := b.Predict(context.Background(), model.PredictionRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 1 || fields[0].Value != "ACME" {
		t.Errorf("fields = %+v", fields)
	}
}

func TestAnthropicBackend_UnparseableOutput(t *testing.T) {
	client := &fakeClient{resp: textResponse("I could not find any fields in this document.")}

	b := NewAnthropicBackend(client, AnthropicOptions{})
	if _, err := b.Predict(context.Background(), model.PredictionRequest{DocumentID: "doc-1"}); err == nil {
		t.Fatal("expected parse error for prose output")
	}
}

func TestAnthropicBackend_ClampsConfidence(t *testing.T) {
	client := &fakeClient{resp: textResponse(`{"party_a": {"value": "ACME", "confidence": 1.7}}`)}

	b := NewAnthropicBackend(client, AnthropicOptions{})
	fields, err := b.Predict(context.Background(), model.PredictionRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatal(err)
	}
	if fields[0].Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", fields[0].Confidence)
	}
}

func TestAnthropicBackend_PropagatesClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("overloaded_error")}

	b := NewAnthropicBackend(client, AnthropicOptions{})
	if _, err := b.Predict(context.Background(), model.PredictionRequest{DocumentID: "doc-1"}); err == nil {
		t.Fatal("expected client error to propagate")
	}
}
