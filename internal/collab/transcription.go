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
	DefaultAssemblyAIEndpoint = "https://api.assemblyai.com"
	DefaultAudioBaseURL       = "https://livetiming.formula1.com/static/"

	speechModel = "universal"
)

var (
	ErrTranscriptFailed  = errors.New("transcription failed")
	ErrTranscriptTimeout = errors.New("transcription timed out")
)

// Transcriber turns a team radio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// TranscriptionConfig configures the AssemblyAI transcriber.
type TranscriptionConfig struct {
	Endpoint     string
	APIKey       string
	AudioBaseURL string
	PollInterval time.Duration
	Timeout      time.Duration
	Retry        RetryConfig
}

// AssemblyAITranscriber submits a transcript job and polls it to completion.
type AssemblyAITranscriber struct {
	endpoint     string
	apiKey       string
	audioBaseURL string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	executor     failsafe.Executor[*http.Response]
	logger       *zap.Logger
}

type transcriptRequest struct {
	AudioURL    string `json:"audio_url"`
	SpeechModel string `json:"speech_model"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func NewAssemblyAITranscriber(cfg TranscriptionConfig, logger *zap.Logger) *AssemblyAITranscriber {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAssemblyAIEndpoint
	}
	if cfg.AudioBaseURL == "" {
		cfg.AudioBaseURL = DefaultAudioBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &AssemblyAITranscriber{
		endpoint:     strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		audioBaseURL: cfg.AudioBaseURL,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		executor:     newExecutor(cfg.Retry),
		logger:       logger.With(zap.String("collaborator", "transcription")),
	}
}

func (a *AssemblyAITranscriber) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", a.apiKey)
	return h
}

func (a *AssemblyAITranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if audioPath == "" {
		return "", ErrEmptyResult
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var job transcriptResponse
	req := transcriptRequest{AudioURL: a.audioBaseURL + audioPath, SpeechModel: speechModel}
	if err := doJSON(ctx, a.httpClient, a.executor, http.MethodPost, a.endpoint+"/v2/transcript", a.headers(), req, &job); err != nil {
		return "", fmt.Errorf("submitting transcript: %w", err)
	}
	if job.ID == "" {
		return strings.TrimSpace(job.Text), nil
	}

	a.logger.Debug("transcript submitted", zap.String("id", job.ID), zap.String("path", audioPath))

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	statusURL := a.endpoint + "/v2/transcript/" + url.PathEscape(job.ID)
	for {
		switch job.Status {
		case "completed":
			return strings.TrimSpace(job.Text), nil
		case "error":
			return "", fmt.Errorf("%w: %s", ErrTranscriptFailed, job.Error)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %s", ErrTranscriptTimeout, audioPath)
			}
			return "", ctx.Err()
		case <-ticker.C:
		}

		if err := doJSON(ctx, a.httpClient, a.executor, http.MethodGet, statusURL, a.headers(), nil, &job); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return "", fmt.Errorf("polling transcript: %w", err)
		}
	}
}
