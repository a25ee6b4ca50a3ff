package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestGeminiTranslator_Translate(t *testing.T) {
	var gotPath, gotKey string
	var gotReq geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  BANDERA VERDE \n"}]}}]}`))
	}))
	defer server.Close()

	tr := NewGeminiTranslator(TranslationConfig{Endpoint: server.URL, APIKey: "gm-key", Retry: fastRetry()}, zap.NewNop())

	got, err := tr.Translate(context.Background(), "GREEN FLAG", "spanish")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "BANDERA VERDE" {
		t.Errorf("expected trimmed translation, got %q", got)
	}
	if gotPath != "/v1beta/models/gemini-2.5-flash:generateContent" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotKey != "gm-key" {
		t.Errorf("unexpected api key header %q", gotKey)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != `Translate the following message to spanish: "GREEN FLAG"` {
		t.Errorf("unexpected prompt %+v", gotReq.Contents)
	}
	if !strings.Contains(gotReq.SystemInstruction.Parts[0].Text, "translated message only") {
		t.Errorf("unexpected system instruction %+v", gotReq.SystemInstruction)
	}
}

func TestGeminiTranslator_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hola"}]}}]}`))
	}))
	defer server.Close()

	tr := NewGeminiTranslator(TranslationConfig{Endpoint: server.URL, Retry: fastRetry()}, zap.NewNop())

	got, err := tr.Translate(context.Background(), "hello", "spanish")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "hola" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestGeminiTranslator_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"API key not valid"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	tr := NewGeminiTranslator(TranslationConfig{Endpoint: server.URL, Retry: fastRetry()}, zap.NewNop())

	_, err := tr.Translate(context.Background(), "hello", "spanish")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestGeminiTranslator_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	tr := NewGeminiTranslator(TranslationConfig{Endpoint: server.URL, Retry: fastRetry()}, zap.NewNop())

	if _, err := tr.Translate(context.Background(), "hello", "spanish"); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("expected ErrEmptyResult, got %v", err)
	}
	if _, err := tr.Translate(context.Background(), "   ", "spanish"); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("expected ErrEmptyResult for blank input, got %v", err)
	}
}
