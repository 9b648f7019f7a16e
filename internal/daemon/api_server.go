package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"curator/internal/api"
	"curator/internal/collection"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/rules"
	"curator/internal/services"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(s.requestContext)
	r.Use(authMiddleware(token))
	r.Use(metrics.Middleware())

	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/schema", s.handleSchema)
		r.Post("/rules/validate", s.handleValidateRules)

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", s.handleListCollections)
			r.Post("/", s.handleCreateCollection)
			r.Put("/order", s.handleReorderCollections)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCollection)
				r.Put("/", s.handleUpdateCollection)
				r.Delete("/", s.handleDeleteCollection)
				r.Get("/items", s.handleCollectionItems)
				r.Post("/subscribe-missing", s.handleSubscribeMissing)
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/transitions", s.handleTransitions)
			r.Put("/pause", s.handlePause)
			r.Post("/release-check", s.handleReleaseCheck)
		})
	})
	s.handler = r
	return s
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled (paths.api_bind is empty)")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown", logging.Error(err))
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// recoverer turns handler panics into JSON 500 responses.
func (s *apiServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.logger.Error("panic recovered",
					logging.Any("panic", rvr),
					logging.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody("internal error", "internal"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestContext copies the request id and viewer into the context so
// downstream loggers pick them up.
func (s *apiServer) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimiddleware.GetReqID(ctx); id != "" {
			w.Header().Set("X-Request-ID", id)
			ctx = services.WithRequestID(ctx, id)
		}
		ctx = services.WithViewerID(ctx, viewerParam(r))
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("latency", time.Since(start)),
		)
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Schema())
}

func (s *apiServer) handleValidateRules(w http.ResponseWriter, r *http.Request) {
	var req api.RuleValidationRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := api.ValidateRules(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleListCollections(w http.ResponseWriter, r *http.Request) {
	defs, err := s.daemon.deps.Collections.List(r.Context(), viewerParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CollectionListResponse{Items: defs})
}

func (s *apiServer) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var def collection.Definition
	if !s.decode(w, r, &def) {
		return
	}
	created, err := s.daemon.deps.Collections.Create(r.Context(), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *apiServer) handleReorderCollections(w http.ResponseWriter, r *http.Request) {
	var req api.ReorderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.deps.Collections.Reorder(r.Context(), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	def, err := s.daemon.deps.Collections.Get(r.Context(), chi.URLParam(r, "id"), viewerParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *apiServer) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var def collection.Definition
	if !s.decode(w, r, &def) {
		return
	}
	updated, err := s.daemon.deps.Collections.Update(r.Context(), chi.URLParam(r, "id"), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *apiServer) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.deps.Collections.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCollectionItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := api.ItemsQuery{ViewerID: viewerParam(r)}
	var err error
	if q.Offset, err = intParam(query.Get("offset")); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "items", "offset must be a number", nil))
		return
	}
	if q.Limit, err = intParam(query.Get("limit")); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "items", "limit must be a number", nil))
		return
	}
	result, err := s.daemon.deps.Collections.Items(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleSubscribeMissing(w http.ResponseWriter, r *http.Request) {
	actor := strings.TrimSpace(r.URL.Query().Get("actor"))
	if actor == "" {
		actor = "api"
	}
	resp, err := s.daemon.deps.Collections.SubscribeMissing(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, part)
			}
		}
	}
	records, err := s.daemon.deps.Subscriptions.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SubscriptionListResponse{Items: records})
}

// handleTransitions accepts either a bare JSON array of transitions or an
// object with an "items" array.
func (s *apiServer) handleTransitions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "transitions", "request body too large or unreadable", err))
		return
	}
	var items []api.TransitionItem
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Items []api.TransitionItem `json:"items"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		items = wrapped.Items
	} else {
		err = json.Unmarshal(trimmed, &items)
	}
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "transitions", "invalid JSON body", err))
		return
	}
	resp, err := s.daemon.deps.Subscriptions.Apply(r.Context(), items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	var req api.PauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.daemon.deps.Subscriptions.SetPaused(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleReleaseCheck(w http.ResponseWriter, r *http.Request) {
	resp, err := s.daemon.ReleaseCheck(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid JSON body: "+err.Error(), nil))
		return false
	}
	return true
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody(err.Error(), services.Kind(err))
	var itemized rules.ValidationErrors
	if errors.As(err, &itemized) {
		body.Fields = itemized
	}
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Warn("api request failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String(logging.FieldImpact, "request returned an error to the caller"),
		)
	}
	writeJSON(w, status, body)
}

// statusFor maps error markers to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidTransition), errors.Is(err, ledger.ErrIgnoredRequiresForce):
		return http.StatusConflict
	}
	switch services.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "upstream_unavailable":
		return http.StatusBadGateway
	case "upstream_timeout":
		return http.StatusGatewayTimeout
	case "configuration":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(message, kind string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Kind: kind}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func viewerParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("viewer"))
}

func intParam(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
