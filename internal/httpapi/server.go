package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/recordsync/internal/recordsync"
)

type ServerConfig struct {
	WebhookHMACSecret string
	WebhookMaxSkew    time.Duration
	RateLimitMax      int
	RateLimitWindow   time.Duration
	MaxBodyBytes      int64
}

type Server struct {
	engine        *recordsync.Engine
	store         recordsync.RecordStore
	cfg           ServerConfig
	rateLimiter   *rateLimiter
	events        *eventBroadcaster
	webhookReplay struct {
		mu   sync.Mutex
		seen map[string]time.Time
	}
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(engine *recordsync.Engine, store recordsync.RecordStore) *Server {
	return NewServerWithConfig(engine, store, ServerConfig{})
}

func NewServerWithConfig(engine *recordsync.Engine, store recordsync.RecordStore, cfg ServerConfig) *Server {
	if cfg.WebhookHMACSecret == "" {
		cfg.WebhookHMACSecret = "dev-webhook-secret"
	}
	if cfg.WebhookMaxSkew <= 0 {
		cfg.WebhookMaxSkew = 5 * time.Minute
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	server := &Server{
		engine:      engine,
		store:       store,
		cfg:         cfg,
		rateLimiter: limiter,
		events:      newEventBroadcaster(),
	}
	server.webhookReplay.seen = map[string]time.Time{}
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/webhooks/records" && r.Method == http.MethodPost {
		s.handleRecordWebhook(w, r)
		return
	}
	if r.URL.Path == "/v1/status" && r.Method == http.MethodGet {
		s.handleStatus(w, r)
		return
	}
	if r.URL.Path == "/v1/events/stream" && r.Method == http.MethodGet {
		s.handleEventStream(w, r)
		return
	}
	if externalID, ok := strings.CutPrefix(r.URL.Path, "/v1/records/"); ok && r.Method == http.MethodGet {
		s.handleGetRecord(w, r, externalID)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
}

const webhookEventSchemaSource = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "fields"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"fields": {
			"type": "object",
			"additionalProperties": {"type": ["string", "number", "boolean", "null"]}
		}
	}
}`

var webhookEventSchema = mustCompileSchema("webhook-event.json", webhookEventSchemaSource)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic("httpapi: invalid embedded schema " + name + ": " + err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic("httpapi: invalid embedded schema " + name + ": " + err.Error())
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic("httpapi: invalid embedded schema " + name + ": " + err.Error())
	}
	return schema
}

type recordWebhookRequest struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (s *Server) handleRecordWebhook(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(clientHost(r), time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	now := time.Now().UTC()
	timestamp := r.Header.Get("X-Recordsync-Timestamp")
	signature := r.Header.Get("X-Recordsync-Signature")
	if authErr := verifyWebhookHMAC(s.cfg.WebhookHMACSecret, timestamp, signature, body, now, s.cfg.WebhookMaxSkew); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !s.markWebhookReplaySeen(timestamp, signature, now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "webhook replay detected", correlationID)
		return
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if err := webhookEventSchema.Validate(doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error(), correlationID)
		return
	}
	var req recordWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}

	result, err := s.engine.Sync(r.Context(), req.ID, req.Fields)
	if err != nil {
		switch {
		case errors.Is(err, recordsync.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		case errors.Is(err, recordsync.ErrConstraintViolation):
			writeError(w, http.StatusConflict, "constraint_violation", err.Error(), correlationID)
		case errors.Is(err, recordsync.ErrTypeMismatch):
			writeError(w, http.StatusUnprocessableEntity, "type_mismatch", err.Error(), correlationID)
		case errors.Is(err, recordsync.ErrStorageUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}
	s.events.publish(SyncEvent{
		ExternalID:    result.ExternalID,
		Action:        string(result.Action),
		CorrelationID: correlationID,
		Timestamp:     now.Format(time.RFC3339Nano),
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request, externalID string) {
	correlationID := getCorrelationID(r)
	externalID = strings.TrimSpace(externalID)
	if externalID == "" || strings.Contains(externalID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	record, err := s.store.Fetch(r.Context(), externalID)
	if err != nil {
		switch {
		case errors.Is(err, recordsync.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "record not found", correlationID)
		case errors.Is(err, recordsync.ErrStorageUnavailable):
			writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	mapping := s.engine.Mapping()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"keyColumn":   mapping.KeyColumn(),
		"columns":     mapping.Columns(),
		"subscribers": s.events.subscriberCount(),
	})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) markWebhookReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	window := s.cfg.WebhookMaxSkew
	if window <= 0 {
		window = 5 * time.Minute
	}
	s.webhookReplay.mu.Lock()
	defer s.webhookReplay.mu.Unlock()
	for replayKey, expiresAt := range s.webhookReplay.seen {
		if !now.Before(expiresAt) {
			delete(s.webhookReplay.seen, replayKey)
		}
	}
	if expiresAt, exists := s.webhookReplay.seen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.webhookReplay.seen[key] = now.Add(window)
	return true
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
