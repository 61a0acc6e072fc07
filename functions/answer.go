package functions

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultTextModel answers document questions when none is configured
const DefaultTextModel = "gemini-1.5-flash-002"

// ToolName is reported to clients while a document question is in flight
const ToolName = "doc_qa"

const answerTemperature = 0.4

// Generator runs one-shot text generation
type Generator interface {
	GenerateText(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error)
}

// Answerer asks the text model questions grounded in a DocRef
type Answerer struct {
	gen   Generator
	model string
}

func NewAnswerer(gen Generator, model string) *Answerer {
	if model == "" {
		model = DefaultTextModel
	}
	return &Answerer{gen: gen, model: model}
}

// Ask answers question from doc only. languageHint, if set, is the language name
// the answer must be written in.
func (a *Answerer) Ask(ctx context.Context, doc DocRef, question, languageHint string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(doc.URI, doc.MIMEType),
			genai.NewPartFromText(BuildQuestionPrompt(question, languageHint)),
		}, genai.RoleUser),
	}

	temperature := float32(answerTemperature)
	answer, err := a.gen.GenerateText(ctx, a.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "text/plain",
		Temperature:      &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to ask document: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// BuildQuestionPrompt renders the grounding instructions followed by the question
func BuildQuestionPrompt(question, languageHint string) string {
	hint := []string{
		"Answer using only the attached document.",
		"If the document does not contain the answer, say you don't know based on the brochure.",
	}
	if languageHint != "" {
		hint = append(hint, fmt.Sprintf("Reply ONLY in %s.", languageHint))
	}
	return strings.Join(hint, " ") + "\n\nQuestion: " + question
}
