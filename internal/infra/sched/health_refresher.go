package sched

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/infra/metrics"
	"ai-request-queue/internal/usecase"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// HealthRefresher keeps the health gauges current. It recomputes on a
// ticker and, when directories are given, after filesystem activity in them
// settles.
type HealthRefresher struct {
	interval time.Duration
	debounce time.Duration
	dirs     []string
	health   usecase.HealthUseCase
	onSnap   []func(*model.HealthSnapshot)
	log      *zerolog.Logger

	mu   sync.RWMutex
	last *model.HealthSnapshot

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHealthRefresher constructs a refresher. If interval <= 0 it defaults to 15s.
// Pass watchDirs to refresh on change; nil disables watching.
func NewHealthRefresher(interval time.Duration, health usecase.HealthUseCase, watchDirs []string, logger *zerolog.Logger) *HealthRefresher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	compLog := logger.With().Str("component", "HealthRefresher").Logger()
	return &HealthRefresher{
		interval: interval,
		debounce: defaultDebounce,
		dirs:     watchDirs,
		health:   health,
		log:      &compLog,
		trigger:  make(chan struct{}, 1),
	}
}

// OnSnapshot registers fn to receive every refreshed snapshot.
func (r *HealthRefresher) OnSnapshot(fn func(*model.HealthSnapshot)) *HealthRefresher {
	r.onSnap = append(r.onSnap, fn)
	return r
}

// Start computes a first snapshot and begins the loop in a background
// goroutine. Calling Start on a running refresher has no effect.
func (r *HealthRefresher) Start(parent context.Context) error {
	if r.cancel != nil {
		return nil
	}

	var watcher *fsnotify.Watcher
	if len(r.dirs) > 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		for _, d := range r.dirs {
			if err := w.Add(d); err != nil {
				_ = w.Close()
				return err
			}
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})

	r.Refresh(ctx)
	go r.loop(ctx, watcher)
	return nil
}

// Stop cancels the loop and waits for it to finish. It is idempotent.
func (r *HealthRefresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.log.Info().Msg("health refresher stopped")
}

// Trigger requests a refresh without waiting for the next tick.
func (r *HealthRefresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Refresh recomputes the snapshot and publishes it to the gauges.
func (r *HealthRefresher) Refresh(ctx context.Context) *model.HealthSnapshot {
	s := r.health.Snapshot(ctx)
	metrics.SetHealth(s)

	r.mu.Lock()
	prev := r.last
	r.last = s
	r.mu.Unlock()

	for _, fn := range r.onSnap {
		fn(s)
	}
	if prev == nil || prev.Status != s.Status {
		r.log.Info().Int("score", s.HealthScore).Str("status", string(s.Status)).Msg("queue health")
	}
	return s
}

// Last returns the most recent snapshot, or nil before the first refresh.
func (r *HealthRefresher) Last() *model.HealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *HealthRefresher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(r.interval)
	defer func() {
		ticker.Stop()
		if watcher != nil {
			_ = watcher.Close()
		}
		close(r.done)
	}()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	// Bursts of moves collapse into one refresh once the queue goes quiet.
	var settle <-chan time.Time

	r.log.Info().Dur("interval", r.interval).Int("watched_dirs", len(r.dirs)).Msg("health refresher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		case <-r.trigger:
			r.Refresh(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			settle = time.After(r.debounce)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.log.Warn().Err(err).Msg("queue watcher error")
		case <-settle:
			settle = nil
			r.Refresh(ctx)
		}
	}
}
