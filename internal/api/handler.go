package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/docledger/internal/domain"
	"github.com/punchamoorthee/docledger/internal/models"
	"github.com/punchamoorthee/docledger/internal/service"
	"github.com/punchamoorthee/docledger/internal/store"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"method", "endpoint"})
)

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// IdempotencyKeyHeader lets a client retry an analysis without being charged twice.
const IdempotencyKeyHeader = "Idempotency-Key"

// multipart overhead allowed on top of the file ceiling
const formOverhead = 1 << 20

// Backend is the persistence the handler reaches without a service.
type Backend interface {
	Ping(ctx context.Context) error
	store.Idempotency
}

type Handler struct {
	analysis       *service.AnalysisService
	admin          *service.AdminService
	db             Backend
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHandler(analysis *service.AnalysisService, admin *service.AdminService, db Backend, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		analysis:       analysis,
		admin:          admin,
		db:             db,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// NewRouter wires every route of the service.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", h.Root).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/credits", h.GetCredits).Methods("GET")
	apiV1.HandleFunc("/analyze", h.Analyze).Methods("POST")
	apiV1.HandleFunc("/admin/topup", h.TopUp).Methods("POST")
	apiV1.HandleFunc("/admin/block", h.Block).Methods("POST")
	apiV1.HandleFunc("/accounts/{phone}/entries", h.GetEntries).Methods("GET")
	apiV1.HandleFunc("/requests/{id}", h.GetRequest).Methods("GET")
	return r
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/"))
	defer timer.ObserveDuration()
	h.respondJSON(w, http.StatusOK, map[string]string{"service": "docledger", "status": "running"}, "GET", "/")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/health"))
	defer timer.ObserveDuration()
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Database unavailable", "GET", "/health")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true}, "GET", "/health")
}

func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/credits"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	acc, err := h.analysis.Balance(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.fail(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewCreditsResponse(acc), "GET", endpoint)
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/analyze"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes + formOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, &domain.ValidationError{Field: "file", Message: "too large"}, "POST", endpoint)
			return
		}
		h.fail(w, &domain.ValidationError{Field: "body", Message: "invalid multipart form"}, "POST", endpoint)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r, "file", "image")
	if err != nil {
		h.fail(w, &domain.ValidationError{Field: "file", Message: "is required"}, "POST", endpoint)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}

	in := service.AnalyzeInput{
		Phone:       r.FormValue("phone"),
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		res, err := h.analysis.Analyze(r.Context(), in)
		if err != nil {
			h.fail(w, err, "POST", endpoint)
			return
		}
		h.respondJSON(w, http.StatusOK, newAnalyzeResponse(res), "POST", endpoint)
		return
	}
	h.analyzeOnce(w, r, key, in)
}

// analyzeOnce runs a keyed submission. A retry with the same key and payload
// replays the stored response; failures release the key.
func (h *Handler) analyzeOnce(w http.ResponseWriter, r *http.Request, key string, in service.AnalyzeInput) {
	const endpoint = "/analyze"
	ctx := r.Context()

	id, err := h.analysis.ResolveIdentity(in.Phone)
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}
	existing, err := h.db.ReserveKey(ctx, key, requestHash(id, in))
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}
	if existing != nil {
		h.logger.Info("replaying keyed analysis", zap.String("identity", id))
		h.respondRaw(w, existing.ResponseStatus, existing.ResponseBody, "POST", endpoint)
		return
	}

	res, err := h.analysis.Analyze(ctx, in)
	if err != nil {
		if relErr := h.db.ReleaseKey(context.WithoutCancel(ctx), key); relErr != nil {
			h.logger.Warn("idempotency key not released", zap.Error(relErr))
		}
		h.fail(w, err, "POST", endpoint)
		return
	}

	body, err := json.Marshal(newAnalyzeResponse(res))
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}
	if err := h.db.CompleteKey(context.WithoutCancel(ctx), key, http.StatusOK, body); err != nil {
		// The analysis is committed; a later retry gets 409 instead of a charge.
		h.logger.Error("idempotency key not completed",
			zap.String("identity", id),
			zap.String("request_id", res.RequestID),
			zap.Error(err),
		)
	}
	h.respondRaw(w, http.StatusOK, body, "POST", endpoint)
}

func newAnalyzeResponse(res *service.AnalyzeResult) models.AnalyzeResponse {
	return models.AnalyzeResponse{
		OK:        res.OK,
		Phone:     res.Identity,
		Credits:   res.Credits,
		Message:   res.Message,
		Result:    res.Result,
		Source:    string(res.Source),
		RequestID: res.RequestID,
	}
}

// requestHash fingerprints everything that decides the outcome of a submission.
func requestHash(identity string, in service.AnalyzeInput) string {
	sum := sha256.New()
	for _, part := range []string{identity, in.ContentType, in.Filename} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	sum.Write(in.Data)
	return hex.EncodeToString(sum.Sum(nil))
}

// formFile returns the first present file field among names.
func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	var err error
	for _, name := range names {
		var f multipart.File
		var fh *multipart.FileHeader
		if f, fh, err = r.FormFile(name); err == nil {
			return f, fh, nil
		}
	}
	return nil, nil, err
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/topup"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	if err := h.admin.Authorize(r.Header.Get(AdminKeyHeader)); err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, &domain.ValidationError{Field: "body", Message: "invalid JSON"}, "POST", endpoint)
		return
	}

	acc, err := h.admin.TopUp(r.Context(), req.Phone, req.Amount, domain.Reason(req.Reason))
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewCreditsResponse(acc), "POST", endpoint)
}

func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/admin/block"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	if err := h.admin.Authorize(r.Header.Get(AdminKeyHeader)); err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}

	var req models.BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, &domain.ValidationError{Field: "body", Message: "invalid JSON"}, "POST", endpoint)
		return
	}

	acc, err := h.admin.SetBlocked(r.Context(), req.Phone, req.Blocked)
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewCreditsResponse(acc), "POST", endpoint)
}

func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{phone}/entries"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	if err := h.admin.Authorize(r.Header.Get(AdminKeyHeader)); err != nil {
		h.fail(w, err, "GET", endpoint)
		return
	}

	acc, entries, err := h.admin.Entries(r.Context(), mux.Vars(r)["phone"])
	if err != nil {
		h.fail(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewEntriesResponse(acc, entries), "GET", endpoint)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/requests/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	if err := h.admin.Authorize(r.Header.Get(AdminKeyHeader)); err != nil {
		h.fail(w, err, "GET", endpoint)
		return
	}

	req, err := h.admin.Request(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, req, "GET", endpoint)
}

// fail maps service errors to status codes without leaking internals.
func (h *Handler) fail(w http.ResponseWriter, err error, method, endpoint string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		h.respondError(w, http.StatusBadRequest, ve.Error(), method, endpoint)
	case errors.Is(err, service.ErrUnauthorized):
		h.respondError(w, http.StatusUnauthorized, "Unauthorized", method, endpoint)
	case errors.Is(err, service.ErrAdminNotConfigured):
		h.respondError(w, http.StatusInternalServerError, "Admin key not configured", method, endpoint)
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Not Found", method, endpoint)
	case errors.Is(err, domain.ErrIdempotencyConflict):
		h.respondError(w, http.StatusConflict, "Request processing in progress", method, endpoint)
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		h.respondError(w, http.StatusConflict, "Key reuse with mismatched payload", method, endpoint)
	default:
		h.logger.Error("request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondRaw(w http.ResponseWriter, code int, body []byte, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
