package model

type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "notStarted"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Inverse returns the status a toggle moves to.
func (s TaskStatus) Inverse() TaskStatus {
	if s == TaskStatusCompleted {
		return TaskStatusNotStarted
	}
	return TaskStatusCompleted
}

type TaskType string

const (
	TaskTypeAssignment  TaskType = "assignment"
	TaskTypeQuiz        TaskType = "quiz"
	TaskTypeDiscussion  TaskType = "discussion"
	TaskTypePlannerNote TaskType = "planner_note"
)

type BroadcastType string

const (
	BroadcastLogin  BroadcastType = "login"
	BroadcastLogout BroadcastType = "logout"
)
