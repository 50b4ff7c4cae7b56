package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// Endpoint paths served by a JSON backend.
const (
	ProcessPath      = "/v1/process"
	ProcessBatchPath = "/v1/process/batch"
)

// maxErrorBody caps how much of an error response is kept in StatusError.
const maxErrorBody = 4 << 10

// ProcessRequest is the body sent to ProcessPath.
type ProcessRequest[In any] struct {
	Item In `json:"item"`
}

// ProcessResponse is the body expected from ProcessPath. A missing or null
// result counts as an empty result.
type ProcessResponse[Out any] struct {
	Result *Out `json:"result"`
}

// BatchRequest is the body sent to ProcessBatchPath.
type BatchRequest[In any] struct {
	Items []In `json:"items"`
}

// BatchResponse is the body expected from ProcessBatchPath.
type BatchResponse[Out any] struct {
	Results []Out `json:"results"`
}

// StatusError describes a non-2xx backend response. It matches
// domain.ErrStatus with errors.Is.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == domain.ErrStatus
}

// Config configures a Backend.
type Config struct {
	// BaseURL is the backend root, e.g. http://primary:9000.
	BaseURL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Client defaults to an *http.Client with a 30s timeout.
	Client ports.HTTPClient

	Logger log.Logger
}

// Backend is a ports.Backend that speaks JSON over HTTP.
type Backend[In, Out any] struct {
	baseURL string
	token   string
	client  ports.HTTPClient
	logger  log.Logger
}

// NewBackend creates an HTTP backend.
func NewBackend[In, Out any](cfg Config) (*Backend[In, Out], error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: backend base URL is required", domain.ErrInvalidConfig)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Backend[In, Out]{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
		client:  client,
		logger:  log.OrNoop(cfg.Logger).With(log.String("backend", cfg.BaseURL)),
	}, nil
}

// ProcessOne posts item to ProcessPath.
func (b *Backend[In, Out]) ProcessOne(ctx context.Context, item In) (Out, error) {
	var zero Out
	var resp ProcessResponse[Out]
	if err := b.post(ctx, ProcessPath, ProcessRequest[In]{Item: item}, &resp); err != nil {
		return zero, err
	}
	if resp.Result == nil {
		return zero, domain.ErrEmptyResult
	}
	return *resp.Result, nil
}

// ProcessBatch posts items to ProcessBatchPath.
func (b *Backend[In, Out]) ProcessBatch(ctx context.Context, items []In) ([]Out, error) {
	var resp BatchResponse[Out]
	if err := b.post(ctx, ProcessBatchPath, BatchRequest[In]{Items: items}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (b *Backend[In, Out]) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fallbatch ("+runtime.GOOS+"/"+runtime.GOARCH+")")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		b.logger.Debug("backend error status", log.String("path", path), log.Int("status", resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrEmptyResult
		}
		return fmt.Errorf("%w: decode response: %w", domain.ErrTransport, err)
	}
	return nil
}

var _ ports.Backend[json.RawMessage, json.RawMessage] = (*Backend[json.RawMessage, json.RawMessage])(nil)
