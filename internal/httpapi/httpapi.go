package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regisync/backend/internal/cloud"
	"regisync/backend/internal/domain"
	"regisync/backend/internal/reconcile"
	"regisync/backend/internal/service"
	"regisync/backend/internal/store"
)

const maxJSONBody = 1 << 20

type Options struct {
	AllowedOrigin string
	Logger        *slog.Logger
	// Registerer receives the HTTP request metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Nil means the default gatherer.
	Gatherer prometheus.Gatherer
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *keyedLimiter
	pinLimiter    *keyedLimiter
	csrfSecret    []byte
	logger        *slog.Logger
	gatherer      prometheus.Gatherer
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		panic(fmt.Sprintf("httpapi: csrf secret: %v", err))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	factory := promauto.With(opts.Registerer)
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newKeyedLimiter(5, time.Minute),
		pinLimiter:    newKeyedLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		logger:        opts.Logger.With("component", "httpapi"),
		gatherer:      opts.Gatherer,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "regisync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(limitJSONBody)
	r.Use(a.csrfGuard)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Post("/sessions/open", a.requireAuth(a.handleSessionOpen, "cashier", "admin"))
		r.Post("/sessions/close", a.requireAuth(a.handleSessionClose, "cashier", "admin"))
		r.Get("/sessions/current", a.requireAuth(a.handleSessionCurrent, "cashier", "admin"))

		r.Post("/basket/quote", a.requireAuth(a.handleQuote, "cashier", "admin"))
		r.Post("/sales", a.requireAuth(a.handleRecordSale, "cashier", "admin"))
		r.Get("/sales", a.requireAuth(a.handleListSales, "cashier", "admin"))
		r.Get("/sales/{id}/details", a.requireAuth(a.handleSaleDetails, "cashier", "admin"))
		r.Post("/sales/{id}/print-failed", a.requireAuth(a.handlePrintFailed, "cashier", "admin"))

		r.Post("/sync/run", a.requireAuth(a.handleSyncRun, "cashier", "admin"))
		r.Get("/sync/status", a.requireAuth(a.handleSyncStatus, "cashier", "admin"))
		r.Post("/shadow/replay", a.requireAuth(a.handleShadowReplay, "admin"))

		r.Get("/reports/daily", a.requireAuth(a.handleDailyReport, "cashier", "admin"))
		r.Get("/inventory/{code}", a.requireAuth(a.handleInventory, "cashier", "admin"))

		r.Put("/settings/input-mode", a.requireAuth(a.handleInputMode, "cashier", "admin"))
		r.Put("/settings/credentials/{name}", a.requireAuth(a.handleCredential, "admin"))

		r.Get("/catalog/bulks", a.requireAuth(a.handleListBulks, "cashier", "admin"))
		r.Put("/catalog/bulks", a.requireAuth(a.handlePutBulks, "admin"))
		r.Get("/catalog/bundles", a.requireAuth(a.handleListBundles, "cashier", "admin"))
		r.Put("/catalog/bundles", a.requireAuth(a.handlePutBundles, "admin"))

		r.Get("/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// observe logs every request and feeds the request metrics. The route label is
// the matched chi pattern so path parameters do not explode cardinality.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(startedAt)

		a.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		a.latency.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		a.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutation(r.Method) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

// csrfExemptPaths are called before the client can hold a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// csrfGuard requires a valid X-CSRF-Token on every mutating request.
func (a *API) csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutation(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isMutation(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidSale):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyClosed),
		errors.Is(err, service.ErrAnotherSessionOpen),
		errors.Is(err, service.ErrSessionNotOpen),
		errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, service.ErrAlreadyMirrored),
		errors.Is(err, service.ErrSyncInProgress),
		errors.Is(err, store.ErrDuplicateID),
		errors.Is(err, reconcile.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, service.ErrReceiptFailed):
		return http.StatusFailedDependency
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, reconcile.ErrConnectivityFailed),
		errors.Is(err, reconcile.ErrTransactionAborted),
		errors.Is(err, cloud.ErrUnavailable),
		errors.Is(err, cloud.ErrAborted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeDecodeError answers 413 for oversized bodies and 400 otherwise.
func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the user.
	body := map[string]any{"error": err.Error()}
	if status >= 500 {
		slog.Error("internal error", "status", status, "error", err)
		body["error"] = http.StatusText(status)
		if status == http.StatusInternalServerError {
			body["error"] = "internal server error"
		}
	}
	var verr *domain.ValidationError
	if status == http.StatusUnprocessableEntity && errors.As(err, &verr) {
		body["errors"] = verr.Fields
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
