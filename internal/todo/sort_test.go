package todo

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvastodo/card-server-go/internal/model"
)

func due(day int) *time.Time {
	t := time.Date(2026, 10, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func TestSort(t *testing.T) {
	tasks := []model.Task{
		{ID: "none-plain"},
		{ID: "d20-plain", Due: due(20)},
		{ID: "none-important", Important: true},
		{ID: "d18-plain", Due: due(18)},
		{ID: "d18-important", Due: due(18), Important: true},
		{ID: "d19-important", Due: due(19), Important: true},
	}

	Sort(tasks)

	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	assert.Equal(t, []string{
		"d18-important", "d18-plain", "d19-important", "d20-plain", "none-important", "none-plain",
	}, ids)
}

func TestSortProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rng.Intn(40)
		todos := make([]model.TodoItem, 0, n)
		for i := 0; i < n; i++ {
			a := &model.TodoAssignment{
				ID:        model.CanvasID(fmt.Sprint(i)),
				Important: rng.Intn(2) == 0,
			}
			if rng.Intn(4) != 0 {
				a.DueAt = due(1 + rng.Intn(5))
			}
			todos = append(todos, model.TodoItem{Assignment: a})
		}

		tasks := Merge(todos, nil, 20)
		require.LessOrEqual(t, len(tasks), 20)

		for i := 1; i < len(tasks); i++ {
			prev, cur := tasks[i-1], tasks[i]
			switch {
			case prev.Due == nil:
				require.Nil(t, cur.Due, "dated task after undated task")
			case cur.Due != nil:
				require.False(t, cur.Due.Before(*prev.Due), "due dates out of order")
			}
			sameGroup := (prev.Due == nil && cur.Due == nil) ||
				(prev.Due != nil && cur.Due != nil && prev.Due.Equal(*cur.Due))
			if sameGroup {
				require.False(t, !prev.Important && cur.Important, "important task after plain task in the same due group")
			}
		}
	}
}
