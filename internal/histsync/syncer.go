// Package histsync runs the background reconciliation that drains the
// offline-fallback queue into the remote store and ages out stale
// local entries.
package histsync

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/agentworkforce/genrelay/internal/genrelay"
)

const (
	defaultSchedule     = "@every 2m"
	defaultCycleTimeout = 30 * time.Second
	watchDebounce       = 500 * time.Millisecond
)

type Options struct {
	Saver  *genrelay.Saver
	Queues *genrelay.QueueStore
	UserID string

	// MaxAgeDays enables age cleanup per cycle when positive.
	MaxAgeDays int

	// Schedule is a cron expression; empty uses the default.
	Schedule string

	// WatchPath, when set, points at the file backing the storage
	// adapter; external mutation triggers a debounced extra cycle.
	WatchPath string

	CycleTimeout time.Duration
	Logger       *log.Logger
}

type CycleResult struct {
	Skipped   bool `json:"skipped"`
	Synced    int  `json:"synced"`
	Remaining int  `json:"remaining"`
	Removed   int  `json:"removed"`
}

// Syncer periodically reconciles one user scope. Cycles never overlap:
// a cycle that fires while another is running is skipped, not queued,
// because a concurrent drain of the same scope risks duplicate remote
// writes.
type Syncer struct {
	saver        *genrelay.Saver
	queues       *genrelay.QueueStore
	userID       string
	maxAgeDays   int
	schedule     string
	watchPath    string
	cycleTimeout time.Duration
	logger       *log.Logger

	cron    *cron.Cron
	watcher *fsnotify.Watcher

	runMu   sync.Mutex
	running bool

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func NewSyncer(opts Options) (*Syncer, error) {
	if opts.Saver == nil || opts.Queues == nil {
		return nil, genrelay.ErrInvalidInput
	}
	schedule := strings.TrimSpace(opts.Schedule)
	if schedule == "" {
		schedule = defaultSchedule
	}
	cycleTimeout := opts.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = defaultCycleTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Syncer{
		saver:        opts.Saver,
		queues:       opts.Queues,
		userID:       strings.TrimSpace(opts.UserID),
		maxAgeDays:   opts.MaxAgeDays,
		schedule:     schedule,
		watchPath:    strings.TrimSpace(opts.WatchPath),
		cycleTimeout: cycleTimeout,
		logger:       logger,
		cron:         cron.New(),
		lifeCtx:      lifeCtx,
		lifeCancel:   lifeCancel,
	}, nil
}

// RunCycle performs one reconciliation pass. It reports Skipped when a
// pass is already in flight for this scope.
func (s *Syncer) RunCycle(ctx context.Context) CycleResult {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return CycleResult{Skipped: true}
	}
	s.running = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.running = false
		s.runMu.Unlock()
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	result := CycleResult{}
	drained := s.saver.SyncOfflineFallback(cycleCtx, s.userID)
	result.Synced = drained.Synced
	result.Remaining = drained.Remaining
	if s.maxAgeDays > 0 {
		cleanup := s.queues.CleanupByAge(s.userID, s.maxAgeDays)
		result.Removed = cleanup.Drafts + cleanup.Offline
	}
	return result
}

// Start begins the cron schedule and, when configured, the storage
// file watch.
func (s *Syncer) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		result := s.RunCycle(s.lifeCtx)
		if result.Skipped {
			return
		}
		s.logger.Printf("[histsync] cycle: synced=%d remaining=%d removed=%d",
			result.Synced, result.Remaining, result.Removed)
	}); err != nil {
		return err
	}
	if s.watchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Add(s.watchPath); err != nil {
			_ = watcher.Close()
			return err
		}
		s.watcher = watcher
		s.wg.Add(1)
		go s.watchLoop()
	}
	s.cron.Start()
	return nil
}

// watchLoop coalesces bursts of file events into one cycle.
func (s *Syncer) watchLoop() {
	defer s.wg.Done()
	var debounce *time.Timer
	fire := func() {
		result := s.RunCycle(s.lifeCtx)
		if !result.Skipped && (result.Synced > 0 || result.Removed > 0) {
			s.logger.Printf("[histsync] watch-triggered cycle: synced=%d removed=%d",
				result.Synced, result.Removed)
		}
	}
	for {
		select {
		case <-s.lifeCtx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, fire)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("[histsync] watch error: %v", err)
		}
	}
}

func (s *Syncer) Close() error {
	s.closeOnce.Do(func() {
		s.lifeCancel()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return nil
}
