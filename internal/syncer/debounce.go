package syncer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/remote"
)

// DefaultSettleWindow is the trailing-edge debounce window for push
// notifications: processing waits until no new event has arrived for this
// long.
const DefaultSettleWindow = 700 * time.Millisecond

// Scheduler schedules a single callback after a delay. The returned cancel
// function stops a pending callback. Tests substitute a virtual-time
// implementation.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
}

type timerScheduler struct{}

func (timerScheduler) Schedule(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

// NewTimerScheduler returns the wall-clock Scheduler.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

// ProcessFunc receives the collapsed events once the queue settles.
type ProcessFunc func(events []remote.ChangeEvent)

// DebounceQueueConfig describes a DebounceQueue.
type DebounceQueueConfig struct {
	SettleWindow time.Duration
	Process      ProcessFunc
	Scheduler    Scheduler
	Logger       *zap.Logger
}

// DebounceQueue collapses bursts of push-notification events per entity into
// the single most-recent event before handing off to the orchestrator.
type DebounceQueue struct {
	settleWindow time.Duration
	process      ProcessFunc
	scheduler    Scheduler
	logger       *zap.Logger

	mu          sync.Mutex
	entries     map[string]remote.ChangeEvent
	cancelTimer func()
}

// NewDebounceQueue constructs a queue with the configured settle window.
func NewDebounceQueue(cfg DebounceQueueConfig) *DebounceQueue {
	settleWindow := cfg.SettleWindow
	if settleWindow <= 0 {
		settleWindow = DefaultSettleWindow
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewTimerScheduler()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	process := cfg.Process
	if process == nil {
		process = func([]remote.ChangeEvent) {}
	}
	return &DebounceQueue{
		settleWindow: settleWindow,
		process:      process,
		scheduler:    scheduler,
		logger:       logger,
		entries:      make(map[string]remote.ChangeEvent),
	}
}

// Enqueue records an event, keeping only the most recent per unique id.
// Events without a unique id are dropped. An arrival replaces the stored
// entry only when its updated stamp is greater or equal; exact duplicates
// (same version tag and same stamp) and strictly older arrivals are dropped
// without restarting the settle window.
func (q *DebounceQueue) Enqueue(event remote.ChangeEvent) {
	if event.UniqueID == "" {
		q.logger.Debug("dropping notification without unique id")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, found := q.entries[event.UniqueID]
	if found {
		if event.UpdatedAt.Before(existing.UpdatedAt) {
			return
		}
		if event.VersionTag == existing.VersionTag && event.UpdatedAt.Equal(existing.UpdatedAt) {
			return
		}
	}
	q.entries[event.UniqueID] = event
	q.restartTimerLocked()
}

// Drain processes everything queued right now, bypassing the settle window
// and cancelling any pending timer.
func (q *DebounceQueue) Drain() {
	q.mu.Lock()
	if q.cancelTimer != nil {
		q.cancelTimer()
		q.cancelTimer = nil
	}
	events := q.takeLocked()
	q.mu.Unlock()

	if len(events) > 0 {
		q.process(events)
	}
}

func (q *DebounceQueue) restartTimerLocked() {
	if q.cancelTimer != nil {
		q.cancelTimer()
	}
	q.cancelTimer = q.scheduler.Schedule(q.settleWindow, q.flush)
}

func (q *DebounceQueue) flush() {
	q.mu.Lock()
	q.cancelTimer = nil
	events := q.takeLocked()
	q.mu.Unlock()

	if len(events) > 0 {
		q.process(events)
	}
}

func (q *DebounceQueue) takeLocked() []remote.ChangeEvent {
	if len(q.entries) == 0 {
		return nil
	}
	events := make([]remote.ChangeEvent, 0, len(q.entries))
	for _, event := range q.entries {
		events = append(events, event)
	}
	q.entries = make(map[string]remote.ChangeEvent)
	return events
}
