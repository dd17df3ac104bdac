package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

var errPending = errors.New("operation pending")

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	AspectRatio     string `json:"aspectRatio"`
	DurationSeconds int    `json:"durationSeconds"`
}

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

// GenerateReel submits a vertical 5 second video job, waits for it and
// returns the video as a data:video/mp4;base64 URI.
// Waiting is bounded by the configured reel timeout and by ctx.
func (c *Client) GenerateReel(ctx context.Context, prompt string) (string, error) {
	var op operation
	path := fmt.Sprintf("/v1beta/models/%s:predictLongRunning", c.videoModel)
	req := predictRequest{
		Instances:  []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{AspectRatio: "9:16", DurationSeconds: 5},
	}
	if err := c.call(ctx, "reel_submit", http.MethodPost, path, req, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", ErrNoOperation
	}

	done, err := c.waitOperation(ctx, op.Name)
	if err != nil {
		return "", err
	}
	if done.Error != nil {
		return "", &OperationError{Code: done.Error.Code, Message: done.Error.Message}
	}
	if done.Response == nil || len(done.Response.GenerateVideoResponse.GeneratedSamples) == 0 ||
		done.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI == "" {
		return "", ErrNoVideo
	}

	video, err := c.fetchVideo(ctx, done.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI)
	if err != nil {
		return "", err
	}
	return "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(video), nil
}

func (c *Client) waitOperation(ctx context.Context, name string) (*operation, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.reelTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInitial
	b.MaxInterval = c.pollMax

	poll := func() (*operation, error) {
		var op operation
		err := c.call(pollCtx, "reel_poll", http.MethodGet, "/v1beta/"+name, nil, &op)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !op.Done {
			return nil, errPending
		}
		return &op, nil
	}

	op, err := backoff.Retry(pollCtx, poll,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.reelTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			if !errors.Is(err, errPending) {
				logger.Warn("reel poll failed, retrying", zap.String("operation", name), zap.Duration("next", next), zap.Error(err))
			}
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errPending) || errors.Is(err, context.DeadlineExceeded) {
			metrics.Observe("reel_timeout", ErrReelTimeout)
			return nil, ErrReelTimeout
		}
		return nil, err
	}
	return op, nil
}

func (c *Client) fetchVideo(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.AICallDuration.WithLabelValues("reel_fetch", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.AICallDuration.WithLabelValues("reel_fetch", "error").Observe(time.Since(start).Seconds())
		return nil, &FetchError{Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	if len(data) == 0 {
		return nil, &FetchError{Status: resp.StatusCode}
	}
	metrics.AICallDuration.WithLabelValues("reel_fetch", "ok").Observe(time.Since(start).Seconds())
	return data, nil
}
