// Package ai talks to a Gemini-style generation service over REST: text
// generation for chat replies and profile suggestions, and long-running
// video generation for reels.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

var (
	ErrNoOperation   = errors.New("expected the model to return an operation")
	ErrNoVideo       = errors.New("failed to find the generated video")
	ErrEmptyOutput   = errors.New("model returned no output")
	ErrReelTimeout   = errors.New("video generation did not finish in time")
	ErrNotConfigured = errors.New("generation service is not configured")
)

// OperationError is reported by a finished long-running operation.
type OperationError struct {
	Code    int
	Message string
}

func (e *OperationError) Error() string {
	return "failed to generate video: " + e.Message
}

// FetchError means the generated video could not be downloaded.
type FetchError struct {
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch video: status %d", e.Status)
}

// APIError is a non-2xx answer from the generation service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation service returned %d: %s", e.Status, e.Body)
}

type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	textModel    string
	videoModel   string
	historyLimit int
	pollInitial  time.Duration
	pollMax      time.Duration
	reelTimeout  time.Duration
	tracer       trace.Tracer
}

func NewClient(cfg config.AIConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		textModel:    cfg.TextModel,
		videoModel:   cfg.VideoModel,
		historyLimit: cfg.HistoryLimit,
		pollInitial:  cfg.PollInitial,
		pollMax:      cfg.PollMax,
		reelTimeout:  cfg.ReelTimeout,
		tracer:       otel.Tracer("connectnow/ai"),
	}
	if c.historyLimit <= 0 {
		c.historyLimit = 20
	}
	if c.pollInitial <= 0 {
		c.pollInitial = 2 * time.Second
	}
	if c.pollMax <= 0 {
		c.pollMax = 15 * time.Second
	}
	if c.reelTimeout <= 0 {
		c.reelTimeout = 5 * time.Minute
	}
	return c
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// generate runs generateContent against the text model and returns the
// concatenated text of the first candidate.
func (c *Client) generate(ctx context.Context, call string, parts []part, jsonMode bool) (string, error) {
	req := generateRequest{Contents: []content{{Role: "user", Parts: parts}}}
	if jsonMode {
		req.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}
	var resp generateResponse
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", c.textModel)
	if err := c.call(ctx, call, http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyOutput
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// call sends one JSON request, traced and timed.
func (c *Client) call(ctx context.Context, call, method, path string, in, out interface{}) (err error) {
	if c.baseURL == "" || c.apiKey == "" {
		return ErrNotConfigured
	}
	ctx, span := c.tracer.Start(ctx, "ai."+call, trace.WithAttributes(attribute.String("ai.path", path)))
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.AICallDuration.WithLabelValues(call, result).Observe(time.Since(start).Seconds())
		span.End()
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
