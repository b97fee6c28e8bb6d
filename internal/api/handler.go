// Package api is the HTTP ingress: it constructs DeliveryRequests and
// hands them to the admission boundary. Everything downstream of
// admission is invisible to callers except via /deadletters and logs.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/admission"
	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Admitter is the pipeline's admission boundary.
type Admitter interface {
	Admit(ctx context.Context, req domain.DeliveryRequest) (admission.Result, error)
}

type Store interface {
	ListDeadLetters(ctx context.Context, limit, offset int) ([]DeadLetter, error)
	ListDeliveryAttempts(ctx context.Context, correlationID string) ([]domain.DeliveryAttempt, error)
}

// Pinger reports the health of one backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	admitter Admitter
	store    Store // optional, nil disables the read endpoints
	apiKey   string
	pingers  map[string]Pinger
	log      zerolog.Logger
}

func NewHandler(admitter Admitter, log zerolog.Logger) *Handler {
	return &Handler{
		admitter: admitter,
		pingers:  make(map[string]Pinger),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// WithStore enables the /deadletters and attempt-trail endpoints.
func (h *Handler) WithStore(store Store) *Handler {
	h.store = store
	return h
}

// WithAPIKey requires X-API-Key on every endpoint except /health.
func (h *Handler) WithAPIKey(key string) *Handler {
	h.apiKey = key
	return h
}

// WithPinger registers a named dependency for verbose health checks.
func (h *Handler) WithPinger(name string, p Pinger) *Handler {
	h.pingers[name] = p
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/health" && r.Method == http.MethodGet {
		h.health(w, r)
		return
	}

	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing api key")
		return
	}

	switch {
	case path == "/notifications" && r.Method == http.MethodPost:
		h.notify(w, r)

	case path == "/deadletters" && r.Method == http.MethodGet:
		h.listDeadLetters(w, r)

	case strings.HasSuffix(path, "/attempts") && r.Method == http.MethodGet:
		h.listAttempts(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.apiKey == "" {
		return true
	}
	provided := r.Header.Get("X-API-Key")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.apiKey)) == 1
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req domain.DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := h.admitter.Admit(r.Context(), req)
	if err != nil {
		var verr domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		// Broker or store failure: the request was not admitted and the
		// caller should retry.
		h.log.Error().Err(err).Msg("admission failed")
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "notification could not be accepted")
		return
	}

	message := "notification accepted"
	if result.Duplicate {
		message = "notification accepted (duplicate)"
	}
	writeJSON(w, http.StatusAccepted, NotifyResponse{
		Success:       true,
		Message:       message,
		CorrelationID: result.CorrelationID,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.pingers) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deadLetters, err := h.store.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list dead letters failed")
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	resp := ListDeadLettersResponse{DeadLetters: deadLetters}
	if resp.DeadLetters == nil {
		resp.DeadLetters = []DeadLetter{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	// Path shape: /deliveries/{correlationId}/attempts
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "deliveries" || parts[2] != "attempts" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	correlationID := parts[1]
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "missing correlation id")
		return
	}

	attempts, err := h.store.ListDeliveryAttempts(r.Context(), correlationID)
	if err != nil {
		h.log.Error().Err(err).Str("correlation_id", correlationID).Msg("list attempts failed")
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	resp := ListAttemptsResponse{Attempts: make([]AttemptResponse, len(attempts))}
	for i, attempt := range attempts {
		resp.Attempts[i] = AttemptResponse{
			ID:            attempt.ID.String(),
			CorrelationID: attempt.CorrelationID,
			Channel:       string(attempt.Channel),
			RetryCount:    attempt.RetryCount,
			Outcome:       attempt.Outcome,
			Error:         attempt.Error,
			StartedAt:     formatTime(attempt.StartedAt),
			FinishedAt:    formatTime(attempt.FinishedAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
