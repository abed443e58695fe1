// Package health serves liveness, readiness and auction status over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/sreeharimv/auction-platform/internal/auction"
	"github.com/sreeharimv/auction-platform/internal/clock"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// SessionSource reports the live auction state.
type SessionSource interface {
	SessionID() string
	SessionStatus() auction.SessionStatus
	CurrentRound() *auction.RoundSnapshot
}

// AuctionStatus is the body of the /auction endpoint.
type AuctionStatus struct {
	SessionID string                 `json:"session_id,omitempty"`
	Status    auction.SessionStatus  `json:"status"`
	Round     *auction.RoundSnapshot `json:"round,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// SessionChecker fails while the engine has no usable session. A paused or
// completed session is still healthy.
func SessionChecker(src SessionSource) Checker {
	return Checker{
		Name: "auction",
		Check: func(context.Context) error {
			if src.SessionStatus() == auction.NotStarted {
				return errors.New("no session loaded")
			}
			return nil
		},
	}
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	checkers []Checker
	source   SessionSource
	clock    clock.Clock
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetSource attaches the engine once this process leads the auction. While
// set, readiness also requires a loaded session. Pass nil to detach.
func (h *Handler) SetSource(src SessionSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = src
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
	mux.HandleFunc("GET /auction", h.AuctionHandler())
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{Status: "ok", Timestamp: h.now()})
	}
}

// ReadinessHandler returns HTTP 200 if the service is ready.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		checkers := h.checkers
		if h.source != nil {
			checkers = append(slices.Clone(checkers), SessionChecker(h.source))
		}
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{Status: "not_ready", Timestamp: h.now()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := make(map[string]string, len(checkers))
		allOK := true
		for _, c := range checkers {
			if err := c.Check(ctx); err != nil {
				checks[c.Name] = err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
		}

		status := "ready"
		code := http.StatusOK
		if !allOK {
			status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Status{Status: status, Checks: checks, Timestamp: h.now()})
	}
}

// AuctionHandler reports the session and the round under the hammer.
// Followers answer 503 since they hold no engine state.
func (h *Handler) AuctionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		src := h.source
		h.mu.RUnlock()

		if src == nil {
			writeJSON(w, http.StatusServiceUnavailable, Status{Status: "not_leader", Timestamp: h.now()})
			return
		}
		writeJSON(w, http.StatusOK, AuctionStatus{
			SessionID: src.SessionID(),
			Status:    src.SessionStatus(),
			Round:     src.CurrentRound(),
			Timestamp: h.now(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
