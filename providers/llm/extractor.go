// Package llm extracts structured report data with an OpenAI compatible
// chat-completions endpoint.
//
// The document is sent inline (text, image data URL or PDF file part) with a
// system prompt asking for a JSON object {"raw_data": {...}, "summary": "..."}.
// Transient failures (429, 5xx, connection errors) are retried with
// exponential backoff by go-retryablehttp.
//
//	extractor, err := llm.New(llm.Config{
//	    Endpoint: "https://api.openai.com/v1/chat/completions",
//	    APIKey:   os.Getenv("OPENAI_API_KEY"),
//	    Model:    "gpt-4o-mini",
//	})
//	svc, err := capsule.NewService(ctx, cfg, capsule.WithExtractor(extractor))
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hengadev/capsule"
	"github.com/hengadev/capsule/internal/serialization"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultRetryMax    = 3
	DefaultMaxDocument = 20 << 20

	defaultPrompt = `You read medical reports. Reply with one JSON object and nothing else:
{"raw_data": <object with every measured field, numbers as numbers>, "summary": "<two sentence plain language summary>"}`
)

// ErrUnsupportedDocument is returned for content types the extractor cannot send.
var ErrUnsupportedDocument = errors.New("unsupported document type")

// Config configures the endpoint and retry policy.
type Config struct {
	// Endpoint is the full chat-completions URL. Required.
	Endpoint string
	APIKey   string
	Model    string

	// Prompt replaces the default system prompt.
	Prompt string

	// RetryMax bounds retries of transient failures. Negative disables retries.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// MaxDocumentBytes rejects larger documents before any request is made.
	MaxDocumentBytes int64

	Logger *slog.Logger
}

// Extractor implements capsule.Extractor.
type Extractor struct {
	client   *retryablehttp.Client
	endpoint string
	apiKey   string
	model    string
	prompt   string
	maxBytes int64
}

var _ capsule.Extractor = (*Extractor)(nil)

func New(cfg Config) (*Extractor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: extractor endpoint cannot be empty", capsule.ErrInvalidConfiguration)
	}

	client := retryablehttp.NewClient()
	switch {
	case cfg.RetryMax < 0:
		client.RetryMax = 0
	case cfg.RetryMax == 0:
		client.RetryMax = DefaultRetryMax
	default:
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	// A typed nil *slog.Logger would be called through the interface, so only set a real one.
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger
	}

	e := &Extractor{
		client:   client,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		prompt:   cfg.Prompt,
		maxBytes: cfg.MaxDocumentBytes,
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.prompt == "" {
		e.prompt = defaultPrompt
	}
	if e.maxBytes <= 0 {
		e.maxBytes = DefaultMaxDocument
	}
	return e, nil
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends doc to the model and parses its reply.
func (e *Extractor) Extract(ctx context.Context, doc capsule.Document) (*capsule.Extraction, error) {
	data, err := e.readDocument(doc.Path)
	if err != nil {
		return nil, err
	}
	part, err := documentPart(doc, data)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: e.prompt},
			{Role: "user", Content: []any{part}},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}
	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("chat response is not JSON (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return parseReply(out.Choices[0].Message.Content)
}

func (e *Extractor) readDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if info.Size() > e.maxBytes {
		return nil, fmt.Errorf("document is %d bytes, limit is %d", info.Size(), e.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// documentPart renders doc as a chat content part.
func documentPart(doc capsule.Document, data []byte) (map[string]any, error) {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(doc.ContentType, ";")[0]))
	dataURL := func() string {
		return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	switch {
	case strings.HasPrefix(contentType, "text/"), contentType == "application/json":
		return map[string]any{"type": "text", "text": string(data)}, nil
	case strings.HasPrefix(contentType, "image/"):
		return map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL()}}, nil
	case contentType == "application/pdf":
		return map[string]any{"type": "file", "file": map[string]any{
			"filename":  filepath.Base(doc.Path),
			"file_data": dataURL(),
		}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDocument, doc.ContentType)
	}
}

// parseReply reads the model's JSON reply, tolerating a markdown code fence around it.
func parseReply(content string) (*capsule.Extraction, error) {
	content = stripFence(content)
	var reply struct {
		RawData json.RawMessage `json:"raw_data"`
		Summary string          `json:"summary"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("model reply is not a JSON object: %w", err)
	}
	if len(reply.RawData) == 0 || string(reply.RawData) == "null" {
		return nil, errors.New("model reply has no raw_data")
	}
	raw, err := serialization.Decode(reply.RawData)
	if err != nil {
		return nil, fmt.Errorf("model raw_data: %w", err)
	}
	return &capsule.Extraction{Raw: raw, Summary: reply.Summary}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
