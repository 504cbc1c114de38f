package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tidewater-labs/driftline/internal/domain"
	"github.com/tidewater-labs/driftline/internal/domain/decider"
	"github.com/tidewater-labs/driftline/internal/domain/todo"
	"github.com/tidewater-labs/driftline/internal/port/cache"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
	"github.com/tidewater-labs/driftline/internal/projection"
	"github.com/tidewater-labs/driftline/internal/service"
)

// Handlers bundles the dependencies of the HTTP surface.
type Handlers struct {
	Commands *service.CommandService
	Streamer *service.Streamer
	Store    eventstore.Store
	TodoList *projection.MaterializedView
	Cache    cache.Cache
	CacheTTL time.Duration
}

// commandContext builds the caller-supplied ambient values for one request.
// The request id doubles as the correlation id recorded in event metadata.
func commandContext(r *http.Request) decider.Context {
	correlationID := chimw.GetReqID(r.Context())
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return decider.Context{
		Now:           time.Now().UTC(),
		CorrelationID: correlationID,
		NewID:         uuid.NewString,
	}
}

type commandResponse struct {
	ID             string `json:"id"`
	GlobalSequence uint64 `json:"global_sequence,omitempty"`
	Events         int    `json:"events"`
}

// execute runs the command and writes the uniform command response.
func (h *Handlers) execute(w http.ResponseWriter, r *http.Request, cmd decider.Command, status int) {
	stored, err := h.Commands.Execute(r.Context(), commandContext(r), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := commandResponse{ID: cmd.AggregateID(), Events: len(stored)}
	if len(stored) > 0 {
		resp.GlobalSequence = stored[len(stored)-1].GlobalSequence
	}
	writeJSON(w, status, resp)
}

// CreateTodo handles POST /api/v1/todos.
func (h *Handlers) CreateTodo(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Title    string `json:"title"`
		Priority string `json:"priority"`
	}](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	cmd := todo.Create{ID: uuid.NewString(), Title: req.Title, Priority: req.Priority}
	h.execute(w, r, cmd, http.StatusCreated)
}

// RenameTodo handles POST /api/v1/todos/{id}/rename.
func (h *Handlers) RenameTodo(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Title string `json:"title"`
	}](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	h.execute(w, r, todo.Rename{ID: chi.URLParam(r, "id"), Title: req.Title}, http.StatusOK)
}

// CompleteTodo handles POST /api/v1/todos/{id}/complete.
func (h *Handlers) CompleteTodo(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, todo.Complete{ID: chi.URLParam(r, "id")}, http.StatusOK)
}

// ReopenTodo handles POST /api/v1/todos/{id}/reopen.
func (h *Handlers) ReopenTodo(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, todo.Reopen{ID: chi.URLParam(r, "id")}, http.StatusOK)
}

// ArchiveTodo handles POST /api/v1/todos/{id}/archive.
func (h *Handlers) ArchiveTodo(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, todo.Archive{ID: chi.URLParam(r, "id")}, http.StatusOK)
}

type todoListResponse struct {
	GlobalSequence uint64                `json:"global_sequence"`
	Todos          []projection.TodoItem `json:"todos"`
}

// ListTodos handles GET /api/v1/todos from the materialized view; the
// serialized response is cached keyed by the snapshot's global sequence, so a
// cache hit can never serve a different state than the snapshot it names.
func (h *Handlers) ListTodos(w http.ResponseWriter, r *http.Request) {
	state, globalSeq, err := h.TodoList.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "read model is rebuilding, retry shortly")
		return
	}

	list, ok := state.(projection.TodoListState)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	key := fmt.Sprintf("todolist@%d", globalSeq)
	if h.Cache != nil {
		if data, hit, _ := h.Cache.Get(r.Context(), key); hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	resp := todoListResponse{GlobalSequence: globalSeq, Todos: list.Sorted()}
	writeJSON(w, http.StatusOK, resp)

	if h.Cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			_ = h.Cache.Set(r.Context(), key, data, h.CacheTTL)
		}
	}
}

// GetTodo handles GET /api/v1/todos/{id} by folding the aggregate's own
// history, bypassing the view.
func (h *Handlers) GetTodo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := h.Store.Load(r.Context(), todo.AggregateType, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	d := todo.NewDecider()
	state, ok := decider.Fold(d, d.InitialState(), events).(todo.State)
	if !ok || !state.Exists {
		writeDomainError(w, domain.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Priority  string `json:"priority"`
		Completed bool   `json:"completed"`
		Archived  bool   `json:"archived"`
		Version   uint64 `json:"version"`
	}{
		ID:        id,
		Title:     state.Title,
		Priority:  state.Priority,
		Completed: state.Completed,
		Archived:  state.Archived,
		Version:   uint64(len(events)),
	})
}

// ListEvents handles GET /api/v1/events?since=N, the raw global feed.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	events, err := h.Store.QuerySince(r.Context(), since)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Since  uint64 `json:"since"`
		Events any    `json:"events"`
	}{Since: since, Events: events})
}
