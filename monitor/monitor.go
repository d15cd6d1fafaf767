// Package monitor serves read-only HTTP API with node status and learned event table.
package monitor

import (
	"errors"
	"net/http"
	"sync"

	"github.com/aldas/go-mlcb"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// ErrNoSnapshot is returned until first snapshot has been published.
var ErrNoSnapshot = errors.New("node status not yet available")

// Monitor holds latest node snapshot published by node poll loop. Node itself is not safe for concurrent use so
// HTTP handlers only see published snapshots.
type Monitor struct {
	mu        sync.RWMutex
	published bool
	status    mlcb.Status
	events    []mlcb.EventEntry
}

// New creates new monitor.
func New() *Monitor {
	return &Monitor{}
}

// Publish stores snapshot of node state. Called from the goroutine that runs node Process.
func (m *Monitor) Publish(status mlcb.Status, events []mlcb.EventEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = true
	m.status = status
	m.events = events
}

func (m *Monitor) snapshot() (mlcb.Status, []mlcb.EventEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.events, m.published
}

// Router returns HTTP handler with monitor API routes.
func (m *Monitor) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Get("/status", m.getStatus)
	r.Get("/events", m.getEvents)
	return r
}

func (m *Monitor) getStatus(w http.ResponseWriter, r *http.Request) {
	status, _, ok := m.snapshot()
	if !ok {
		render.Render(w, r, ErrUnavailable(ErrNoSnapshot))
		return
	}
	render.JSON(w, r, status)
}

func (m *Monitor) getEvents(w http.ResponseWriter, r *http.Request) {
	_, events, ok := m.snapshot()
	if !ok {
		render.Render(w, r, ErrUnavailable(ErrNoSnapshot))
		return
	}
	if events == nil {
		events = []mlcb.EventEntry{}
	}
	render.JSON(w, r, events)
}

// ErrResponse is error response payload.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

// Render implements render.Renderer
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// ErrUnavailable creates 503 error response.
func ErrUnavailable(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusServiceUnavailable,
		StatusText:     "Service unavailable.",
		ErrorText:      err.Error(),
	}
}
