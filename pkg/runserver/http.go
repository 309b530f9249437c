package runserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sykli/engine/pkg/capability"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
	"github.com/sykli/engine/pkg/matrix"
	"github.com/sykli/engine/pkg/validator"
)

// Router builds the chi router exposing the long-running server mode's
// surface: POST /runs submits a pipeline and returns its run ID
// immediately, GET /runs/{id} reads a snapshot, and GET /runs/{id}/events
// upgrades to a replay-then-stream WebSocket connection.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/runs", s.handlePostRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/events", s.handleEvents)
	return r
}

// handlePostRuns accepts a pipeline JSON body, runs it through the same
// parse/validate/expand/resolve pipeline the CLI's one-shot mode uses, and
// submits it asynchronously: the response carries the run ID as soon as
// it's assigned, not once the run finishes.
func (s *Server) handlePostRuns(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := graph.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := validator.Validate(doc)
	if len(result.Errors) > 0 {
		http.Error(w, result.Errors[0].Error(), http.StatusBadRequest)
		return
	}
	p := matrix.Expand(result.Pipeline)
	p, capErrs := capability.Resolve(p)
	if len(capErrs) > 0 {
		http.Error(w, capErrs[0].Error(), http.StatusBadRequest)
		return
	}

	runID := s.SubmitAsync(r.Context(), p)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"run_id": runID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.registry.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a WebSocket connection, first replaying every
// event published for this run so far, then streaming new ones as they
// arrive until the client disconnects or the run completes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, past, cancel := s.bus.Subscribe(id)
	defer cancel()

	for _, ev := range past {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	for ev := range events {
		if ev.RunID != id {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if ev.Type == EventRunCompleted {
			return
		}
	}
}

// ListenAndServe starts the HTTP/WS surface on addr; it blocks until the
// listener errors or is shut down.
func (s *Server) ListenAndServe(addr string, log *logger.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // event streams are long-lived
	}
	log.WithField("addr", addr).Info("event bus listening")
	return srv.ListenAndServe()
}
