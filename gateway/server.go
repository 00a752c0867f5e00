package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/native/escrow"
)

// Server exposes the gateway over HTTP. Mutating routes sit behind JWT
// bearer auth; health and metrics stay open for probes and scrapers.
type Server struct {
	gw     *Gateway
	auth   *Authenticator
	log    *slog.Logger
	router chi.Router
}

// NewServer wires the gateway behind a chi router and registers its metrics.
func NewServer(gw *Gateway, auth *Authenticator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{gw: gw, auth: auth, log: log}
	gw.metrics.Register(prometheus.DefaultRegisterer)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware)
		}
		r.Post("/v1/escrows/{id}/release", s.handleTriggerRelease)
		r.Post("/v1/escrows/{id}/challenge/resolve", s.handleResolveChallenge)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseEscrowID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return id, err
	}
	if len(decoded) != len(id) {
		return id, errors.New("escrow id must be 32 bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func (s *Server) handleTriggerRelease(w http.ResponseWriter, r *http.Request) {
	id, err := parseEscrowID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	if err := s.gw.TriggerRelease(r.Context(), id); err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": escrow.StatusReleased.String()})
}

type resolveChallengeRequest struct {
	Passed bool `json:"passed"`
}

func (s *Server) handleResolveChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := parseEscrowID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	var req resolveChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.gw.ResolveChallenge(r.Context(), id, req.Passed); err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"passed": req.Passed})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound), errors.Is(err, escrow.ErrChallengeNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorizedCaller):
		return http.StatusForbidden
	case errors.Is(err, ErrStaleScore),
		errors.Is(err, escrow.ErrScoreBelowThreshold),
		errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrEscrowExpired),
		errors.Is(err, escrow.ErrChallengeDeadlinePassed),
		errors.Is(err, escrow.ErrChallengeNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
