package model

import (
	"encoding/json"
	"time"
)

// CanvasID accepts Canvas ids encoded either as JSON numbers or strings.
type CanvasID string

func (id *CanvasID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = CanvasID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = CanvasID(n.String())
	return nil
}

func (id CanvasID) String() string {
	return string(id)
}

// TodoItem is an entry of GET /api/v1/users/self/todo.
type TodoItem struct {
	ID          CanvasID        `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	HTMLURL     string          `json:"html_url"`
	ContextName string          `json:"context_name"`
	CourseName  string          `json:"course_name"`
	Assignment  *TodoAssignment `json:"assignment"`
}

type TodoAssignment struct {
	ID              CanvasID    `json:"id"`
	Name            string      `json:"name"`
	DueAt           *time.Time  `json:"due_at"`
	PointsPossible  *float64    `json:"points_possible"`
	HTMLURL         string      `json:"html_url"`
	SubmissionTypes []string    `json:"submission_types"`
	Important       bool        `json:"important"`
	Submission      *Submission `json:"submission"`
}

type Submission struct {
	WorkflowState string     `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

// PlannerItem is an entry of GET /api/v1/planner/items.
type PlannerItem struct {
	PlannableID     CanvasID         `json:"plannable_id"`
	PlannableType   string           `json:"plannable_type"`
	PlannableDate   *time.Time       `json:"plannable_date"`
	ContextName     string           `json:"context_name"`
	Plannable       *Plannable       `json:"plannable"`
	PlannerOverride *PlannerOverride `json:"planner_override"`
}

type Plannable struct {
	Title string `json:"title"`
}

type PlannerOverride struct {
	MarkedComplete bool       `json:"marked_complete"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// PlannerNoteUpdate is the body of PUT /api/v1/planner_notes/:id.
type PlannerNoteUpdate struct {
	MarkedComplete bool `json:"marked_complete"`
}
