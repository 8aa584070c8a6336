package todo

import (
	"slices"

	"github.com/canvastodo/card-server-go/internal/model"
)

const (
	untitled        = "Untitled"
	personalCourse  = "Personal"
	submittedState  = "submitted"
	quizSubmission  = "online_quiz"
	topicSubmission = "discussion_topic"
)

// FromTodoItem turns a Canvas to-do entry into a read-only task.
func FromTodoItem(item model.TodoItem) model.Task {
	task := model.Task{
		Title:           firstNonEmpty(item.Title, untitled),
		Type:            model.TaskTypeAssignment,
		CourseName:      firstNonEmpty(item.ContextName, item.CourseName),
		Status:          model.TaskStatusNotStarted,
		SubmissionTypes: []string{},
	}

	sourceID := item.ID.String()
	link := item.HTMLURL

	if a := item.Assignment; a != nil {
		if a.ID != "" {
			sourceID = a.ID.String()
		}
		task.Title = firstNonEmpty(a.Name, item.Title, untitled)
		task.Type = assignmentType(a.SubmissionTypes)
		task.Due = a.DueAt
		task.Important = a.Important
		if a.PointsPossible != nil && *a.PointsPossible != 0 {
			task.Points = a.PointsPossible
		}
		if a.SubmissionTypes != nil {
			task.SubmissionTypes = a.SubmissionTypes
		}
		if link == "" {
			link = a.HTMLURL
		}
		if s := a.Submission; s != nil {
			if s.WorkflowState == submittedState {
				task.Status = model.TaskStatusCompleted
			}
			task.CompletedAt = s.SubmittedAt
		}
	}

	task.ID = "todo-" + sourceID
	if link != "" {
		task.Link = &link
	}
	return task
}

// FromPlannerItem keeps only personal planner notes; other planner entries
// repeat to-do items and are dropped.
func FromPlannerItem(item model.PlannerItem) (model.Task, bool) {
	if item.PlannableType != string(model.TaskTypePlannerNote) {
		return model.Task{}, false
	}

	plannableID := item.PlannableID.String()
	task := model.Task{
		ID:              "planner-" + plannableID,
		Title:           untitled,
		Type:            model.TaskTypePlannerNote,
		Due:             item.PlannableDate,
		CourseName:      firstNonEmpty(item.ContextName, personalCourse),
		Status:          model.TaskStatusNotStarted,
		SubmissionTypes: []string{},
		Plannable:       true,
		PlannableID:     &plannableID,
	}
	if item.Plannable != nil {
		task.Title = firstNonEmpty(item.Plannable.Title, untitled)
	}
	if o := item.PlannerOverride; o != nil && o.MarkedComplete {
		task.Status = model.TaskStatusCompleted
		task.CompletedAt = o.UpdatedAt
	}
	return task, true
}

// Merge normalizes both collections, sorts them and keeps the first limit tasks.
func Merge(todos []model.TodoItem, planner []model.PlannerItem, limit int) []model.Task {
	tasks := make([]model.Task, 0, len(todos)+len(planner))
	for _, item := range todos {
		tasks = append(tasks, FromTodoItem(item))
	}
	for _, item := range planner {
		if task, ok := FromPlannerItem(item); ok {
			tasks = append(tasks, task)
		}
	}

	Sort(tasks)
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks
}

func assignmentType(submissionTypes []string) model.TaskType {
	switch {
	case slices.Contains(submissionTypes, quizSubmission):
		return model.TaskTypeQuiz
	case slices.Contains(submissionTypes, topicSubmission):
		return model.TaskTypeDiscussion
	default:
		return model.TaskTypeAssignment
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
