package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bft-labs/fallbatch/internal/adapters/cache"
	"github.com/bft-labs/fallbatch/pkg/engine"
	"github.com/bft-labs/fallbatch/pkg/log"
)

const (
	maxBodySize    = 1 << 20
	itemsNamespace = "items"
)

// ItemRequest is the body of POST /v1/items and POST /v1/execute.
type ItemRequest struct {
	Item json.RawMessage `json:"item"`
}

// ItemResponse answers a single item.
type ItemResponse struct {
	Result    json.RawMessage `json:"result"`
	Cached    bool            `json:"cached,omitempty"`
	RequestID string          `json:"request_id"`
}

// BatchRequest is the body of POST /v1/batches.
type BatchRequest struct {
	Items []json.RawMessage `json:"items"`
}

// BatchResponse carries one slot per requested item. Failed slots have a
// null result and an error message.
type BatchResponse struct {
	Results   []json.RawMessage `json:"results"`
	Errors    []*string         `json:"errors"`
	Succeeded int               `json:"succeeded"`
	RequestID string            `json:"request_id"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	state := s.engine.Status()
	resp := HealthResponse{Status: "ok", State: state.String(), Pending: s.engine.Pending()}
	if state != engine.StateRunning {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeItem(w, r, &req) {
		return
	}
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	key := cache.Key(itemsNamespace, compact(req.Item))
	if v, ok := s.cacheGet(ctx, key); ok {
		writeJSON(w, http.StatusOK, ItemResponse{Result: v, Cached: true, RequestID: reqID})
		return
	}

	out, err := s.engine.Submit(ctx, req.Item)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	s.cacheSet(ctx, key, out)
	writeJSON(w, http.StatusOK, ItemResponse{Result: out, RequestID: reqID})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeItem(w, r, &req) {
		return
	}
	out, err := s.engine.Execute(r.Context(), req.Item)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ItemResponse{Result: out, RequestID: middleware.GetReqID(r.Context())})
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, "items must not be empty")
		return
	}

	results, err := s.engine.ExecuteBatch(r.Context(), req.Items)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	resp := BatchResponse{
		Results:   make([]json.RawMessage, len(results)),
		Errors:    make([]*string, len(results)),
		RequestID: middleware.GetReqID(r.Context()),
	}
	for i, res := range results {
		if res.Err != nil {
			msg := res.Err.Error()
			resp.Errors[i] = &msg
			continue
		}
		resp.Results[i] = res.Value
		resp.Succeeded++
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cacheGet(ctx context.Context, key string) (json.RawMessage, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", log.String("key", key), log.Err(err))
		return nil, false
	}
	return v, ok
}

func (s *Server) cacheSet(ctx context.Context, key string, v json.RawMessage) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, v, s.cacheTTL); err != nil {
		s.logger.Warn("cache set failed", log.String("key", key), log.Err(err))
	}
}

func decodeItem(w http.ResponseWriter, r *http.Request, req *ItemRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if len(req.Item) == 0 || bytes.Equal(req.Item, []byte("null")) {
		writeError(w, r, http.StatusBadRequest, "item is required")
		return false
	}
	return true
}

// compact normalizes whitespace so equal items share a cache key.
func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotRunning), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrBothSystemsFailed):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrBatchTimeout), errors.Is(err, engine.ErrAttemptTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrEmptyBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}
