// Package todo implements the reference aggregate of the template: a todo
// item with a create/rename/complete/reopen/archive lifecycle.
package todo

import "encoding/json"

// AggregateType is the type tag stored with every todo event.
const AggregateType = "todo"

// Event types. All are past-tense facts.
const (
	EventCreated            = "todo.created"
	EventRenamed            = "todo.renamed"
	EventCompleted          = "todo.completed"
	EventReopened           = "todo.reopened"
	EventArchived           = "todo.archived"
	EventCompletionRejected = "todo.completion_rejected"
)

// CreatedSchemaVersion is the current schema version of todo.created.
// v1 predates the priority field; see upcast.go.
const CreatedSchemaVersion = 2

// Priorities accepted on create.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// CreatedPayload is the todo.created payload (v2).
type CreatedPayload struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

// RenamedPayload is the todo.renamed payload.
type RenamedPayload struct {
	Title string `json:"title"`
}

// CompletionRejectedPayload records why a completion was refused.
type CompletionRejectedPayload struct {
	Reason string `json:"reason"`
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload structs contain only plain fields; marshal cannot fail.
		panic(err)
	}
	return data
}
