// Package card ties one profile's auth session, task list and refresh
// schedule together and streams their combined state to watchers.
package card

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/auth"
	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/jobs"
	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/todo"
)

const watcherBuffer = 8

// Snapshot is what the dashboard renders.
type Snapshot struct {
	ProfileID string        `json:"profileId"`
	Auth      auth.Snapshot `json:"auth"`
	Tasks     todo.Snapshot `json:"tasks"`
}

type Card struct {
	profileID string
	auth      *auth.Manager
	tasks     *todo.Aggregator
	job       *jobs.RefreshJob

	// applyMu serializes reactions to login state changes.
	applyMu sync.Mutex
	active  bool

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	mounted  bool
	closed   bool
	removers []func()
	watchers map[int]chan Snapshot
	nextID   int
}

func New(profileID string, manager *auth.Manager, api todo.CanvasAPI, maxTasks int, interval time.Duration) *Card {
	tasks := todo.NewAggregator(profileID, manager, api, maxTasks)
	return &Card{
		profileID: profileID,
		auth:      manager,
		tasks:     tasks,
		job:       jobs.NewRefreshJob(profileID, tasks, interval),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		watchers:  make(map[int]chan Snapshot),
	}
}

func (c *Card) ProfileID() string {
	return c.profileID
}

// Mount starts the auth session on first use, completing the login when cb
// carries a complete callback, and loads tasks once signed in. Mounting an
// already mounted card only handles the callback.
func (c *Card) Mount(ctx context.Context, cb *model.OAuthCallback) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	first := !c.mounted
	if first {
		c.mounted = true
		c.removers = append(c.removers,
			c.auth.OnChange(func(auth.Snapshot) {
				c.wakeFollower()
				c.publish()
			}),
			c.tasks.OnChange(func(todo.Snapshot) { c.publish() }),
		)
		c.wg.Add(1)
		go c.follow()
	}
	c.mu.Unlock()

	var err error
	switch {
	case first:
		err = c.auth.Start(ctx, cb)
	case cb.Complete():
		err = c.auth.CompleteLogin(ctx, cb)
	case cb != nil && cb.Error != "":
		c.auth.RejectCallback(ctx, cb)
	}

	c.apply(ctx)
	return err
}

// Unmount stops the refresh job, the broadcast subscription and all watchers.
func (c *Card) Unmount() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	removers := c.removers
	c.removers = nil
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	close(c.done)
	c.wg.Wait()

	c.applyMu.Lock()
	c.active = false
	c.job.Stop()
	c.applyMu.Unlock()

	c.auth.Close()
	log.Debug().Str("profileId", c.profileID).Msg("card unmounted")
}

func (c *Card) Login(ctx context.Context) (string, error) {
	return c.auth.Login(ctx)
}

func (c *Card) Logout(ctx context.Context) error {
	err := c.auth.Logout(ctx)
	c.apply(ctx)
	return err
}

// Refresh reloads tasks on request, visible or not.
func (c *Card) Refresh(ctx context.Context) error {
	return c.tasks.Load(ctx)
}

func (c *Card) ToggleComplete(ctx context.Context, taskID string) error {
	return c.tasks.ToggleComplete(ctx, taskID)
}

func (c *Card) SetVisible(visible bool) {
	c.tasks.SetVisible(visible)
	c.job.VisibilityChanged(visible)
}

func (c *Card) Snapshot() Snapshot {
	return Snapshot{
		ProfileID: c.profileID,
		Auth:      c.auth.Snapshot(),
		Tasks:     c.tasks.Snapshot(),
	}
}

// Watch streams snapshots starting with the current one. A slow watcher
// misses intermediate snapshots but always receives the latest. The channel
// is closed by the returned cancel func or by Unmount.
func (c *Card) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, watcherBuffer)

	c.mu.Lock()
	ch <- c.Snapshot()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			close(w)
			delete(c.watchers, id)
		}
	}
}

func (c *Card) WatcherCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers)
}

func (c *Card) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.Snapshot()
	for _, ch := range c.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest so the latest state still arrives.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Card) wakeFollower() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// follow reacts to login state changes made outside Mount and Logout, such as
// broadcasts from other instances.
func (c *Card) follow() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.signal:
			ctx, cancel := context.WithTimeout(context.Background(), config.RefreshCycleTimeout)
			c.apply(ctx)
			cancel()
		}
	}
}

// apply starts or stops task loading to match the current login state.
func (c *Card) apply(ctx context.Context) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	loggedIn := c.auth.LoggedIn()
	switch {
	case loggedIn && !c.active:
		c.active = true
		if err := c.tasks.Load(ctx); err != nil {
			log.Warn().Err(err).Str("profileId", c.profileID).Msg("initial task load failed")
		}
		c.job.Start()
	case !loggedIn && c.active:
		c.active = false
		c.job.Stop()
		c.tasks.Reset()
	}
}
