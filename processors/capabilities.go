package processors

import (
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoQA/config"
	"videoQA/core"
)

// Captioner wraps the external image-to-text capability.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

// Embedder wraps the external text-to-vector capability. Every vector it
// returns has the same fixed dimension for a given model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator wraps the external text-generation capability.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// NewOpenAIClient builds the process-wide API client from config.
func NewOpenAIClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

// ---------------- OpenAI-compatible implementations ----------------

const captionPrompt = "Describe this video frame in one concise sentence. Mention the visible subjects and the action."

type OpenAICaptioner struct {
	cli     *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAICaptioner(cli *openai.Client, cfg *config.Config) *OpenAICaptioner {
	return &OpenAICaptioner{cli: cli, model: cfg.CaptionModel, timeout: cfg.RequestTimeout()}
}

func (c *OpenAICaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", &core.InferenceError{Op: "caption", Err: fmt.Errorf("read frame: %w", err)}
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", imageMIME(imagePath), base64.StdEncoding.EncodeToString(data))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: captionPrompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailLow},
					},
				},
			},
		},
		MaxTokens:   120,
		Temperature: 0.2,
	}
	resp, err := c.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &core.InferenceError{Op: "caption", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &core.InferenceError{Op: "caption", Err: fmt.Errorf("no choices returned")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

type OpenAIEmbedder struct {
	cli     *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIEmbedder(cli *openai.Client, cfg *config.Config) *OpenAIEmbedder {
	return &OpenAIEmbedder{cli: cli, model: cfg.EmbeddingModel, timeout: cfg.RequestTimeout()}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	resp, err := e.cli.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &core.InferenceError{Op: "embed", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &core.InferenceError{Op: "embed", Err: fmt.Errorf("no embeddings returned")}
	}
	return resp.Data[0].Embedding, nil
}

type OpenAIGenerator struct {
	cli     *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIGenerator(cli *openai.Client, cfg *config.Config) *OpenAIGenerator {
	return &OpenAIGenerator{cli: cli, model: cfg.ChatModel, timeout: cfg.RequestTimeout()}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	}
	resp, err := g.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &core.InferenceError{Op: "generate", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &core.InferenceError{Op: "generate", Err: fmt.Errorf("no choices returned")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ---------------- Mock implementations ----------------

// MockCaptioner returns canned captions keyed by frame filename, or a
// derived caption when no entry exists.
type MockCaptioner struct {
	Captions map[string]string
	Err      error
	Calls    []string
}

func (m *MockCaptioner) Caption(_ context.Context, imagePath string) (string, error) {
	m.Calls = append(m.Calls, imagePath)
	if m.Err != nil {
		return "", m.Err
	}
	base := filepath.Base(imagePath)
	if c, ok := m.Captions[base]; ok {
		return c, nil
	}
	return "a frame from " + base, nil
}

// MockEmbedder produces a deterministic bag-of-words vector of fixed
// dimension, L2-normalized, so identical text always embeds identically.
type MockEmbedder struct {
	Dim int
	Err error
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	dim := m.Dim
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%dim] += 1
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// MockGenerator records the last prompt it saw and echoes a fixed answer.
type MockGenerator struct {
	Answer     string
	Err        error
	LastSystem string
	LastUser   string
}

func (m *MockGenerator) Generate(_ context.Context, system, user string) (string, error) {
	m.LastSystem = system
	m.LastUser = user
	if m.Err != nil {
		return "", m.Err
	}
	if m.Answer == "" {
		return "mock answer", nil
	}
	return m.Answer, nil
}
