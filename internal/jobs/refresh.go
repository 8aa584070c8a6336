package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/config"
)

// Refresher is the part of the task aggregator the job drives.
type Refresher interface {
	Refresh(ctx context.Context) error
	Loaded() bool
	Visible() bool
}

// RefreshJob periodically refreshes a card's tasks while the card is visible.
type RefreshJob struct {
	profileID string
	target    Refresher
	interval  time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wake    chan bool
	wg      sync.WaitGroup
}

func NewRefreshJob(profileID string, target Refresher, interval time.Duration) *RefreshJob {
	return &RefreshJob{
		profileID: profileID,
		target:    target,
		interval:  interval,
	}
}

// Start launches the refresh loop. Calling Start on a running job does nothing.
func (j *RefreshJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.done = make(chan struct{})
	j.wake = make(chan bool, 1)

	j.wg.Add(1)
	go j.run(j.done, j.wake)
	log.Info().Str("profileId", j.profileID).Dur("interval", j.interval).Msg("refresh job started")
}

// Stop ends the loop and waits for an in-flight refresh to return.
func (j *RefreshJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.done)
	j.mu.Unlock()

	j.wg.Wait()
	log.Info().Str("profileId", j.profileID).Msg("refresh job stopped")
}

func (j *RefreshJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// VisibilityChanged tells the loop the card was shown or hidden. Only the
// latest change is kept if the loop is busy.
func (j *RefreshJob) VisibilityChanged(visible bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	select {
	case <-j.wake:
	default:
	}
	j.wake <- visible
}

func (j *RefreshJob) run(done <-chan struct{}, wake <-chan bool) {
	defer j.wg.Done()

	var ticker *time.Ticker
	var tick <-chan time.Time
	startTicker := func() {
		if ticker == nil {
			ticker = time.NewTicker(j.interval)
			tick = ticker.C
		}
	}
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stopTicker()

	if j.target.Visible() {
		startTicker()
	}

	for {
		select {
		case <-done:
			return
		case <-tick:
			j.refresh(done)
		case visible := <-wake:
			if !visible {
				stopTicker()
				continue
			}
			if ticker != nil {
				continue
			}
			if j.target.Loaded() {
				j.refresh(done)
			}
			startTicker()
		}
	}
}

func (j *RefreshJob) refresh(done <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), config.RefreshCycleTimeout)
	defer cancel()

	// Stop cancels the cycle instead of waiting out the timeout.
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := j.target.Refresh(ctx); err != nil {
		log.Error().Err(err).Str("profileId", j.profileID).Msg("scheduled refresh failed")
	}
}
