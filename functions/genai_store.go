package functions

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"google.golang.org/genai"
)

// GenAIStore implements FileStore and Generator on top of the Gemini API
type GenAIStore struct {
	client *genai.Client
}

// NewGenAIStore wraps an existing GenAI client
func NewGenAIStore(client *genai.Client) *GenAIStore {
	return &GenAIStore{client: client}
}

// Upload sends a local file to the Files API
func (s *GenAIStore) Upload(ctx context.Context, path string) (*genai.File, error) {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = defaultDocMIMEType
	}
	file, err := s.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return file, nil
}

// Get fetches file metadata by resource name
func (s *GenAIStore) Get(ctx context.Context, name string) (*genai.File, error) {
	return s.client.Files.Get(ctx, name, nil)
}

// GenerateText runs a one-shot generation and returns the response text
func (s *GenAIStore) GenerateText(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := s.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return resp.Text(), nil
}
