package compact

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

// DefaultInterval between compaction passes.
const DefaultInterval = 5 * time.Minute

// Runner periodically compacts every active group.
type Runner struct {
	store    storage.Store
	opts     Options
	interval time.Duration

	// AfterPass, when set, runs after each group's pass. Group handles
	// wire their CompactionFinished here to keep checksum caches coherent
	// and notify listeners.
	AfterPass func(types.GroupID)

	logger zerolog.Logger
	stopCh chan struct{}
}

// NewRunner creates a runner over all groups in the store.
func NewRunner(store storage.Store, opts Options, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		store:    store,
		opts:     opts,
		interval: interval,
		logger:   log.WithComponent("compact-runner"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the compaction loop
func (r *Runner) Start() {
	go r.run()
}

// Stop stops the runner
func (r *Runner) Stop() {
	close(r.stopCh)
}

func (r *Runner) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("Compaction runner started")

	for {
		select {
		case <-ticker.C:
			if err := r.runOnce(); err != nil {
				// Log error but continue
				r.logger.Error().Err(err).Msg("Compaction cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("Compaction runner stopped")
			return
		}
	}
}

func (r *Runner) runOnce() error {
	groups, err := r.store.ListGroups()
	if err != nil {
		return err
	}
	for _, group := range groups {
		if group.Status != types.GroupActive {
			continue
		}
		if err := New(r.store, group.ID, r.opts).Run(); err != nil {
			r.logger.Error().Err(err).Uint32("group_id", uint32(group.ID)).
				Msg("Failed to compact group")
			continue
		}
		if r.AfterPass != nil {
			r.AfterPass(group.ID)
		}
	}
	return nil
}
