// Package todo builds the card's task list from Canvas to-do and planner data
// and applies completion toggles optimistically.
package todo

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/canvas"
	apperrors "github.com/canvastodo/card-server-go/internal/errors"
	"github.com/canvastodo/card-server-go/internal/model"
)

type Phase string

const (
	PhaseLoad    Phase = "load"
	PhaseLoaded  Phase = "loaded"
	PhaseRefresh Phase = "refresh"
)

// TokenSource is the slice of the auth manager the aggregator depends on.
type TokenSource interface {
	LoggedIn() bool
	GetAccessToken(ctx context.Context) (string, error)
}

type CanvasAPI interface {
	Todo(ctx context.Context, token string) ([]model.TodoItem, error)
	PlannerItems(ctx context.Context, token string) ([]model.PlannerItem, error)
	UpdatePlannerNote(ctx context.Context, token, noteID string, completed bool) error
}

type Snapshot struct {
	Phase   Phase        `json:"phase"`
	Tasks   []model.Task `json:"tasks"`
	Error   bool         `json:"error"`
	Visible bool         `json:"visible"`
}

// ToggleResult is the snapshot after a toggle. Refused marks a task that can
// only be completed by submitting it in Canvas; it was left unchanged.
type ToggleResult struct {
	Snapshot
	Refused bool `json:"refused,omitempty"`
}

type listener struct {
	id int
	fn func(Snapshot)
}

// overlay is a local status awaiting the outcome of its mutation request.
type overlay struct {
	status  model.TaskStatus
	version uint64
}

type Aggregator struct {
	profileID string
	auth      TokenSource
	canvas    CanvasAPI
	maxTasks  int

	// notifyMu keeps listener deliveries in order; the last one carries the latest state.
	notifyMu sync.Mutex

	mu          sync.Mutex
	phase       Phase
	tasks       []model.Task
	overlays    map[string]overlay
	nextVersion uint64
	seq         uint64
	appliedSeq  uint64
	errFlag     bool
	visible     bool
	listeners   []listener
	nextID      int
}

func NewAggregator(profileID string, auth TokenSource, api CanvasAPI, maxTasks int) *Aggregator {
	return &Aggregator{
		profileID: profileID,
		auth:      auth,
		canvas:    api,
		maxTasks:  maxTasks,
		phase:     PhaseLoad,
		tasks:     []model.Task{},
		overlays:  make(map[string]overlay),
		visible:   true,
	}
}

// Load runs a fetch cycle regardless of visibility.
func (a *Aggregator) Load(ctx context.Context) error {
	return a.fetch(ctx, false)
}

// Refresh runs a background fetch cycle. It does nothing while hidden.
func (a *Aggregator) Refresh(ctx context.Context) error {
	return a.fetch(ctx, true)
}

func (a *Aggregator) fetch(ctx context.Context, background bool) error {
	if !a.auth.LoggedIn() {
		return nil
	}

	a.mu.Lock()
	if background && !a.visible {
		a.mu.Unlock()
		return nil
	}
	a.seq++
	seq := a.seq
	if background && a.phase == PhaseLoaded {
		a.phase = PhaseRefresh
	}
	a.mu.Unlock()
	a.notify()

	log.Debug().
		Str("profileId", a.profileID).
		Uint64("seq", seq).
		Bool("background", background).
		Msg("fetching canvas tasks")

	tasks, err := a.collect(ctx)

	a.mu.Lock()
	if seq <= a.appliedSeq {
		a.mu.Unlock()
		log.Debug().Str("profileId", a.profileID).Uint64("seq", seq).Msg("discarding stale task fetch")
		return nil
	}
	a.appliedSeq = seq
	if err != nil {
		a.errFlag = true
	} else {
		a.tasks = tasks
		a.errFlag = false
	}
	a.phase = PhaseLoaded
	a.mu.Unlock()
	a.notify()

	return err
}

func (a *Aggregator) collect(ctx context.Context) ([]model.Task, error) {
	token, err := a.auth.GetAccessToken(ctx)
	if err != nil {
		log.Error().Err(err).Str("profileId", a.profileID).Msg("no canvas token for task fetch")
		return nil, err
	}

	todos, err := a.canvas.Todo(ctx, token)
	if err != nil {
		logCanvasError(err, a.profileID, "failed to fetch canvas to-do items")
		return nil, apperrors.ResourceFetchFailed("to-do items", err)
	}

	planner, err := a.canvas.PlannerItems(ctx, token)
	if err != nil {
		degraded := apperrors.DegradedFetch("planner items", err)
		canvasLogEvent(log.Warn(), degraded, a.profileID).Msg(degraded.Message)
		planner = nil
	}

	return Merge(todos, planner, a.maxTasks), nil
}

// ToggleComplete flips a task's completion. The new status is visible
// immediately; it is committed when Canvas accepts it and discarded otherwise.
func (a *Aggregator) ToggleComplete(ctx context.Context, taskID string) error {
	a.mu.Lock()
	task, ok := a.findLocked(taskID)
	if !ok {
		a.mu.Unlock()
		return apperrors.NotFound("Task")
	}
	target := task.Status.Inverse()
	a.nextVersion++
	version := a.nextVersion
	a.overlays[taskID] = overlay{status: target, version: version}
	a.mu.Unlock()
	a.notify()

	if !task.Mutable() {
		log.Warn().
			Str("profileId", a.profileID).
			Str("taskId", taskID).
			Msg("task can only be completed by submitting it in Canvas")
		a.settle(taskID, version, false)
		return apperrors.UnsupportedMutation(taskID)
	}

	token, err := a.auth.GetAccessToken(ctx)
	if err == nil {
		err = a.canvas.UpdatePlannerNote(ctx, token, *task.PlannableID, target == model.TaskStatusCompleted)
	}
	if err != nil {
		logCanvasError(err, a.profileID, "failed to update canvas planner note")
		a.settle(taskID, version, false)
		a.mu.Lock()
		a.errFlag = true
		a.mu.Unlock()
		a.notify()
		return apperrors.MutationFailed(err)
	}

	a.settle(taskID, version, true)

	// Reconcile with what Canvas now reports.
	if err := a.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("profileId", a.profileID).Msg("refresh after toggle failed")
	}
	return nil
}

// settle commits or discards the overlay written by the toggle with the given
// version. A newer toggle's overlay is left alone.
func (a *Aggregator) settle(taskID string, version uint64, commit bool) {
	a.mu.Lock()
	o, ok := a.overlays[taskID]
	if !ok || o.version != version {
		a.mu.Unlock()
		return
	}
	delete(a.overlays, taskID)
	if commit {
		for i := range a.tasks {
			if a.tasks[i].ID == taskID {
				a.tasks[i].Status = o.status
			}
		}
	}
	a.mu.Unlock()
	a.notify()
}

// Reset returns to the unauthenticated state and drops in-flight results.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.tasks = []model.Task{}
	a.overlays = make(map[string]overlay)
	a.errFlag = false
	a.phase = PhaseLoad
	a.appliedSeq = a.seq
	a.mu.Unlock()
	a.notify()
}

func (a *Aggregator) SetVisible(visible bool) {
	a.mu.Lock()
	changed := a.visible != visible
	a.visible = visible
	a.mu.Unlock()
	if changed {
		a.notify()
	}
}

func (a *Aggregator) Visible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

// Loaded reports whether a fetch cycle has completed since the last reset.
func (a *Aggregator) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase != PhaseLoad
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// OnChange registers fn for state changes and returns a function removing it.
// Listeners run in registration order; fn must not block.
func (a *Aggregator) OnChange(fn func(Snapshot)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners = append(a.listeners, listener{id: id, fn: fn})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		a.listeners = slices.DeleteFunc(a.listeners, func(l listener) bool { return l.id == id })
		a.mu.Unlock()
	}
}

func (a *Aggregator) snapshotLocked() Snapshot {
	tasks := make([]model.Task, len(a.tasks))
	copy(tasks, a.tasks)
	for i := range tasks {
		if o, ok := a.overlays[tasks[i].ID]; ok {
			tasks[i].Status = o.status
		}
	}
	return Snapshot{
		Phase:   a.phase,
		Tasks:   tasks,
		Error:   a.errFlag,
		Visible: a.visible,
	}
}

func (a *Aggregator) findLocked(taskID string) (model.Task, bool) {
	for _, t := range a.tasks {
		if t.ID == taskID {
			if o, ok := a.overlays[taskID]; ok {
				t.Status = o.status
			}
			return t, true
		}
	}
	return model.Task{}, false
}

func (a *Aggregator) notify() {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	snap := a.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l.fn)
	}
	a.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func logCanvasError(err error, profileID, msg string) {
	canvasLogEvent(log.Error(), err, profileID).Msg(msg)
}

// canvasLogEvent adds the Canvas status and diagnostic body when err carries them.
func canvasLogEvent(e *zerolog.Event, err error, profileID string) *zerolog.Event {
	e = e.Err(err).Str("profileId", profileID)
	var apiErr *canvas.APIError
	if errors.As(err, &apiErr) {
		e = e.Int("status", apiErr.Status).Str("body", apiErr.Body)
	}
	return e
}
