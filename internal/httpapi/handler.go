package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/catalog"
	"carbonmap/core-go/internal/identity"
	"carbonmap/core-go/internal/metrics"
	"carbonmap/core-go/internal/popup"
)

// Pinger reports backing-store readiness; *db.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handler to its collaborators. A zero Deps yields a router
// whose API routes answer 503.
type Deps struct {
	Catalog        catalog.Catalog
	Accounts       accounts.Store
	AccountService *accounts.Service
	Authenticator  *identity.Authenticator
	Resolver       *access.Resolver
	Metrics        *metrics.Metrics
	DB             Pinger
	CORSOrigins    []string
	RequestTimeout time.Duration
}

type Handler struct {
	log      zerolog.Logger
	catalog  catalog.Catalog
	accounts accounts.Store
	service  *accounts.Service
	auth     *identity.Authenticator
	resolver *access.Resolver
	popups   *popup.Aggregator
	metrics  *metrics.Metrics
	db       Pinger
	origins  []string
	timeout  time.Duration
}

func NewHandler(log zerolog.Logger, deps Deps) *Handler {
	resolver := deps.Resolver
	if resolver == nil {
		resolver = access.NewResolver(access.ResolverOptions{Observer: deps.Metrics})
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	h := &Handler{
		log:      log,
		catalog:  deps.Catalog,
		accounts: deps.Accounts,
		service:  deps.AccountService,
		auth:     deps.Authenticator,
		resolver: resolver,
		metrics:  deps.Metrics,
		db:       deps.DB,
		origins:  deps.CORSOrigins,
		timeout:  timeout,
	}
	if deps.Catalog != nil {
		h.popups = popup.NewAggregator(deps.Catalog, resolver)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(h.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.Timeout(h.timeout))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Use(h.authenticate)

			r.Get("/map_view", h.handleMapView)
			r.Get("/popup_options", h.handlePopupOptions)

			r.Group(func(r chi.Router) {
				r.Use(h.requireAuthenticated)
				r.Get("/me/entities", h.handleMyEntities)
				r.Post("/accounts/confirm", h.handleConfirmAccount)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireAdmin)
				r.Post("/entities", h.handleCreateEntity)
				r.Put("/entities/{id}", h.handleUpdateEntity)
				r.Post("/grants", h.handlePutGrant)
				r.Delete("/grants", h.handleRevokeGrant)
				r.Put("/accounts/admin", h.handleSetAdmin)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

// authenticate resolves the bearer token, if any, to a caller. A missing
// header means anonymous; a header that does not resolve is rejected.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := access.Anonymous()
		if h.auth != nil {
			c, err := h.auth.Authenticate(r)
			if err != nil {
				if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrUnknownAccount) {
					h.log.Debug().Err(err).Msg("rejected bearer token")
					h.writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired access token", nil)
					return
				}
				h.log.Error().Err(err).Msg("authenticate request failed")
				h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "failed to load account", nil)
				return
			}
			caller = c
		}
		next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
	})
}

func (h *Handler) requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.CallerFrom(r.Context()).IsAnonymous() {
			h.writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := identity.CallerFrom(r.Context())
		if caller.IsAnonymous() {
			h.writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
			return
		}
		if !caller.Admin || !caller.Confirmed {
			h.writeError(w, http.StatusForbidden, "forbidden", "administrator privileges required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.catalog == nil {
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog not configured", nil)
		return
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	state, err := h.catalog.Snapshot(ctx)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog not loaded", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"ready":            true,
		"catalog_version":  state.Version,
		"catalog_entities": state.Forest.Len(),
	})
}

// ensureCatalog mirrors the database guard on every API route.
func (h *Handler) ensureCatalog(w http.ResponseWriter) bool {
	if h.catalog == nil {
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureAccounts(w http.ResponseWriter) bool {
	if h.accounts == nil || h.service == nil {
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "account store not configured", nil)
		return false
	}
	return true
}

// snapshot loads the one State a request works against.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (*catalog.State, bool) {
	if !h.ensureCatalog(w) {
		return nil, false
	}
	state, err := h.catalog.Snapshot(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err, "load catalog snapshot")
		return nil, false
	}
	return state, true
}
