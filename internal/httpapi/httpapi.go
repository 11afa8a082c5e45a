package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/metrics"
	"elektromart/backend/internal/service"
	"elektromart/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	validate      *validator.Validate
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, m *metrics.Metrics, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		validate:      newValidator(),
		metrics:       m,
		logger:        logger,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{domain.RoleSeller, domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staff...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, staff...))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}/movements", a.requireAuth(a.handleListMovements, staff...))

	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleListCategories, staff...))
	mux.HandleFunc("POST /api/v1/categories", a.requireAuth(a.handleCreateCategory, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/suppliers", a.requireAuth(a.handleListSuppliers, staff...))
	mux.HandleFunc("POST /api/v1/suppliers", a.requireAuth(a.handleCreateSupplier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers, staff...))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer, staff...))
	mux.HandleFunc("GET /api/v1/payment-methods", a.requireAuth(a.handleListPaymentMethods, staff...))
	mux.HandleFunc("GET /api/v1/employees", a.requireAuth(a.handleListEmployees, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, staff...))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, staff...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, staff...))
	mux.HandleFunc("PATCH /api/v1/sales/{id}", a.requireAuth(a.handleUpdateSale, staff...))
	mux.HandleFunc("POST /api/v1/sales/{id}/complete", a.requireAuth(a.handleCompleteSale, staff...))
	mux.HandleFunc("POST /api/v1/sales/{id}/annul", a.requireAuth(a.handleAnnulSale, staff...))
	mux.HandleFunc("GET /api/v1/sales/{id}/invoice", a.requireAuth(a.handleInvoice, staff...))

	mux.HandleFunc("GET /api/v1/purchases", a.requireAuth(a.handleListPurchases, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/purchases", a.requireAuth(a.handleCreatePurchase, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/purchases/{id}", a.requireAuth(a.handleGetPurchase, domain.RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/purchases/{id}", a.requireAuth(a.handleUpdatePurchase, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/purchases/{id}/receive", a.requireAuth(a.handleReceivePurchase, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/purchases/{id}/cancel", a.requireAuth(a.handleCancelPurchase, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/returns", a.requireAuth(a.handleListReturns, staff...))
	mux.HandleFunc("POST /api/v1/returns", a.requireAuth(a.handleCreateReturn, staff...))
	mux.HandleFunc("GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, staff...))
	mux.HandleFunc("PATCH /api/v1/returns/{id}", a.requireAuth(a.handleUpdateReturn, staff...))
	mux.HandleFunc("POST /api/v1/returns/{id}/process", a.requireAuth(a.handleProcessReturn, staff...))
	mux.HandleFunc("GET /api/v1/returns/{id}/credit-note", a.requireAuth(a.handleCreditNote, staff...))

	mux.HandleFunc("POST /api/v1/stock/adjustments", a.requireAuth(a.handleAdjustStock, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/reports/restock", a.requireAuth(a.handleRestockReport, staff...))
	mux.HandleFunc("GET /api/v1/reports/valuation", a.requireAuth(a.handleValuation, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

type actorContextKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// actorFrom returns the zero Actor for unauthenticated requests; the service
// rejects it on every mutating call.
func actorFrom(r *http.Request) domain.Actor {
	actor, _ := r.Context().Value(actorContextKey{}).(domain.Actor)
	return actor
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

		next(w, r.WithContext(withActor(r.Context(), actor)))
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

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		// Pattern keeps metric labels bounded; raw paths carry ids.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.metrics.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body and runs struct-tag validation. It writes the 400
// itself and reports whether the handler should continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, translateValidation(err))
		return false
	}
	return true
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return domain.NewValidationError(field, "is required")
	case "oneof":
		return domain.NewValidationError(field, "must be one of "+fe.Param())
	case "max":
		return domain.NewValidationError(field, "must be at most "+fe.Param()+" characters")
	case "gte":
		return domain.NewValidationError(field, "must be at least "+fe.Param())
	case "lte":
		return domain.NewValidationError(field, "must be at most "+fe.Param())
	case "email":
		return domain.NewValidationError(field, "must be a valid email")
	}
	return domain.NewValidationError(field, "is invalid")
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
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

// statusFor maps domain, service and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrStaleState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx reasons are shown to the operator verbatim.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
