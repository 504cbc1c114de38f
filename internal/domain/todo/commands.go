package todo

import (
	"github.com/tidewater-labs/driftline/internal/domain"
)

// Create creates a new todo.
type Create struct {
	ID       string
	Title    string
	Priority string
}

func (c Create) AggregateType() string { return AggregateType }
func (c Create) AggregateID() string   { return c.ID }

// Validate rejects malformed input before decide runs.
func (c Create) Validate() error {
	if c.ID == "" {
		return domain.Validationf("todo id is required")
	}
	if c.Title == "" {
		return domain.Validationf("title is required")
	}
	switch c.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh:
		return nil
	default:
		return domain.Validationf("unknown priority %q", c.Priority)
	}
}

// Rename changes a todo's title.
type Rename struct {
	ID    string
	Title string
}

func (c Rename) AggregateType() string { return AggregateType }
func (c Rename) AggregateID() string   { return c.ID }

func (c Rename) Validate() error {
	if c.ID == "" {
		return domain.Validationf("todo id is required")
	}
	if c.Title == "" {
		return domain.Validationf("title is required")
	}
	return nil
}

// Complete marks a todo as done.
type Complete struct {
	ID string
}

func (c Complete) AggregateType() string { return AggregateType }
func (c Complete) AggregateID() string   { return c.ID }

func (c Complete) Validate() error {
	if c.ID == "" {
		return domain.Validationf("todo id is required")
	}
	return nil
}

// Reopen reverts a completed todo to open.
type Reopen struct {
	ID string
}

func (c Reopen) AggregateType() string { return AggregateType }
func (c Reopen) AggregateID() string   { return c.ID }

func (c Reopen) Validate() error {
	if c.ID == "" {
		return domain.Validationf("todo id is required")
	}
	return nil
}

// Archive removes a todo from active lists.
type Archive struct {
	ID string
}

func (c Archive) AggregateType() string { return AggregateType }
func (c Archive) AggregateID() string   { return c.ID }

func (c Archive) Validate() error {
	if c.ID == "" {
		return domain.Validationf("todo id is required")
	}
	return nil
}
