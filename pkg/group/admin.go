package group

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuemby/basin/pkg/events"
	"github.com/cuemby/basin/pkg/types"
)

// TerminateOptions configures Terminate.
type TerminateOptions struct {
	// ClearStorage drops all op, parameter and current-data entries of the
	// group. Defaults to true.
	ClearStorage *bool
}

// clearChunkSize bounds the entries deleted per storage transaction during
// a clear.
const clearChunkSize = 5000

// AutoActivate moves this group from PROCESSING to ACTIVE and demotes any
// other ACTIVE group to STOP, all in storage order: demotions first, so at
// most one group is ever ACTIVE.
func (h *Handle) AutoActivate() error {
	groups, err := h.store.ListGroups()
	if err != nil {
		return fmt.Errorf("auto-activate group %d: %w", h.groupID, err)
	}
	for _, other := range groups {
		if other.ID == h.groupID || other.Status != types.GroupActive {
			continue
		}
		if _, err := h.store.UpdateGroup(other.ID, func(g *types.Group) error {
			g.Status = types.GroupStopped
			return nil
		}); err != nil {
			return fmt.Errorf("demote group %d: %w", other.ID, err)
		}
		h.notifier.Publish(events.Event{Kind: events.GroupStopped, GroupID: uint32(other.ID)})
		h.logger.Info().Uint32("demoted_group", uint32(other.ID)).Msg("Demoted previously active group")
	}

	if _, err := h.store.UpdateGroup(h.groupID, func(g *types.Group) error {
		if g.Status != types.GroupProcessing && g.Status != types.GroupActive {
			return fmt.Errorf("cannot activate group in state %s", g.Status)
		}
		g.Status = types.GroupActive
		return nil
	}); err != nil {
		return fmt.Errorf("activate group %d: %w", h.groupID, err)
	}
	h.notifier.Publish(events.Event{Kind: events.GroupActivated, GroupID: uint32(h.groupID)})
	h.logger.Info().Msg("Group activated")
	return nil
}

// Terminate stops the group permanently: state becomes TERMINATED, the
// persisted LSN is dropped, and (by default) all stored data is cleared.
func (h *Handle) Terminate(ctx context.Context, opts TerminateOptions) error {
	if _, err := h.store.UpdateGroup(h.groupID, func(g *types.Group) error {
		g.Status = types.GroupTerminated
		g.LastCheckpointLSN = ""
		return nil
	}); err != nil {
		return fmt.Errorf("terminate group %d: %w", h.groupID, err)
	}
	h.notifier.Publish(events.Event{Kind: events.GroupTerminated, GroupID: uint32(h.groupID)})
	h.logger.Info().Msg("Group terminated")

	if opts.ClearStorage != nil && !*opts.ClearStorage {
		return nil
	}
	return h.Clear(ctx)
}

// Clear deletes all stored entries of the group in bounded chunks. It is
// idempotent and resumable: every successful chunk is durable progress, and
// a failed chunk retries with exponential backoff until it succeeds, the
// context is cancelled, or the backoff's default maximum elapsed time (15
// minutes per chunk) runs out.
func (h *Handle) Clear(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	for {
		var deleted int
		op := func() error {
			var err error
			deleted, err = h.store.ClearGroupChunk(h.groupID, clearChunkSize)
			if err != nil {
				h.logger.Warn().Err(err).Msg("Clear chunk failed; retrying")
			}
			return err
		}
		if err := backoff.Retry(op, policy); err != nil {
			return fmt.Errorf("clear group %d: %w", h.groupID, err)
		}
		if deleted == 0 {
			break
		}
		h.logger.Debug().Int("deleted", deleted).Msg("Cleared storage chunk")
		policy.Reset()
	}
	h.cache.Invalidate(h.groupID)
	h.logger.Info().Msg("Group storage cleared")
	return nil
}

// ReportError persists the message of a fatal error on the group record.
// It never fails the caller: persistence errors are logged and dropped.
func (h *Handle) ReportError(cause error) {
	if cause == nil {
		return
	}
	if _, err := h.store.UpdateGroup(h.groupID, func(g *types.Group) error {
		g.LastFatalError = cause.Error()
		return nil
	}); err != nil {
		h.logger.Error().Err(err).Str("cause", cause.Error()).Msg("Failed to persist fatal error")
	}
}

// CompactionFinished records a completed compaction pass: cached checksum
// entries are dropped so memoized op counts cannot diverge from collapsed
// prefixes, and listeners are notified. Wire it as the compaction runner's
// AfterPass hook.
func (h *Handle) CompactionFinished() {
	h.cache.Invalidate(h.groupID)
	h.notifier.Publish(events.Event{Kind: events.CompactionDone, GroupID: uint32(h.groupID)})
}
