package model

import "time"

type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Type            TaskType   `json:"type"`
	Due             *time.Time `json:"due"`
	CourseName      string     `json:"courseName"`
	Status          TaskStatus `json:"status"`
	Important       bool       `json:"important"`
	Link            *string    `json:"link"`
	Points          *float64   `json:"points"`
	SubmissionTypes []string   `json:"submissionTypes"`
	CompletedAt     *time.Time `json:"completedAt"`
	Plannable       bool       `json:"plannable"`
	PlannableID     *string    `json:"plannableId"`
}

// Mutable reports whether the card can change the task's completion in Canvas.
func (t *Task) Mutable() bool {
	return t.Plannable && t.PlannableID != nil && *t.PlannableID != ""
}
