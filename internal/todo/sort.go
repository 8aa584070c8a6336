package todo

import (
	"slices"

	"github.com/canvastodo/card-server-go/internal/model"
)

// Sort orders tasks by due date ascending with undated tasks last. Within the
// same due date, important tasks come first. The sort is stable.
func Sort(tasks []model.Task) {
	slices.SortStableFunc(tasks, compareTasks)
}

func compareTasks(a, b model.Task) int {
	switch {
	case a.Due != nil && b.Due != nil:
		if c := a.Due.Compare(*b.Due); c != 0 {
			return c
		}
	case a.Due != nil:
		return -1
	case b.Due != nil:
		return 1
	}
	return importanceRank(a) - importanceRank(b)
}

func importanceRank(t model.Task) int {
	if t.Important {
		return 0
	}
	return 1
}
