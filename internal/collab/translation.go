package collab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"go.uber.org/zap"
)

const (
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel    = "gemini-2.5-flash"

	translationInstruction = "You are a translation engine for Formula 1 race control and team radio messages. " +
		"Return the translated message only, without any additional text."
)

// ErrEmptyResult is returned when a collaborator answered without content.
var ErrEmptyResult = errors.New("collaborator returned no content")

// Translator turns text into the target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// TranslationConfig configures the Gemini translator.
type TranslationConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Retry    RetryConfig
}

// GeminiTranslator calls the generateContent REST endpoint.
type GeminiTranslator struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	logger     *zap.Logger
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiTranslator(cfg TranslationConfig, logger *zap.Logger) *GeminiTranslator {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	return &GeminiTranslator{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   newExecutor(cfg.Retry),
		logger:     logger.With(zap.String("collaborator", "translation")),
	}
}

// Prompt builds the user message sent for text.
func Prompt(text, targetLanguage string) string {
	return fmt.Sprintf("Translate the following message to %s: %q", targetLanguage, text)
}

func (g *GeminiTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResult
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, url.PathEscape(g.model))
	req := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: translationInstruction}}},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: Prompt(text, targetLanguage)}},
		}},
	}
	headers := http.Header{}
	headers.Set("x-goog-api-key", g.apiKey)

	var resp geminiResponse
	if err := doJSON(ctx, g.httpClient, g.executor, http.MethodPost, endpoint, headers, req, &resp); err != nil {
		return "", fmt.Errorf("translating: %w", err)
	}

	var sb strings.Builder
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", ErrEmptyResult
	}

	g.logger.Debug("translated", zap.Int("chars", len(out)), zap.String("language", targetLanguage))
	return out, nil
}
