package projection

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/domain/todo"
)

// TodoItem is one row of the todo list read model.
type TodoItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Priority  string    `json:"priority"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TodoListState is the view state: active todos by id. Archived todos drop
// out of the list; the full history stays in the store.
type TodoListState struct {
	Items map[string]TodoItem
}

// Sorted returns the items ordered by creation time, oldest first.
func (s TodoListState) Sorted() []TodoItem {
	items := make([]TodoItem, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// TodoListView folds todo events into a TodoListState.
type TodoListView struct{}

// NewTodoListView returns the todo list view.
func NewTodoListView() TodoListView { return TodoListView{} }

func (TodoListView) Name() string { return "todolist" }

func (TodoListView) InitialState() any {
	return TodoListState{Items: map[string]TodoItem{}}
}

// Apply returns the next state without mutating the previous one.
func (v TodoListView) Apply(state any, ev event.Stored) any {
	s, ok := state.(TodoListState)
	if !ok || ev.AggregateType != todo.AggregateType {
		return state
	}

	next := TodoListState{Items: make(map[string]TodoItem, len(s.Items)+1)}
	for id, item := range s.Items {
		next.Items[id] = item
	}

	switch ev.Type {
	case todo.EventCreated:
		var p todo.CreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			slog.Error("todolist: bad todo.created payload", "global_sequence", ev.GlobalSequence, "error", err)
			return s
		}
		next.Items[ev.AggregateID] = TodoItem{
			ID:        ev.AggregateID,
			Title:     p.Title,
			Priority:  p.Priority,
			CreatedAt: ev.CreatedAt,
			UpdatedAt: ev.CreatedAt,
		}
	case todo.EventRenamed:
		item, ok := next.Items[ev.AggregateID]
		if !ok {
			return s
		}
		var p todo.RenamedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			slog.Error("todolist: bad todo.renamed payload", "global_sequence", ev.GlobalSequence, "error", err)
			return s
		}
		item.Title = p.Title
		item.UpdatedAt = ev.CreatedAt
		next.Items[ev.AggregateID] = item
	case todo.EventCompleted:
		item, ok := next.Items[ev.AggregateID]
		if !ok {
			return s
		}
		item.Completed = true
		item.UpdatedAt = ev.CreatedAt
		next.Items[ev.AggregateID] = item
	case todo.EventReopened:
		item, ok := next.Items[ev.AggregateID]
		if !ok {
			return s
		}
		item.Completed = false
		item.UpdatedAt = ev.CreatedAt
		next.Items[ev.AggregateID] = item
	case todo.EventArchived:
		delete(next.Items, ev.AggregateID)
	default:
		// Audit events (todo.completion_rejected) do not change the list.
		return s
	}

	return next
}
