// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"context"
	"sync/atomic"
	"time"
)

// PullAndMerge runs one pull-merge-persist cycle:
//
//  1. fetch the remote set; on failure return the local cache unchanged
//     (cache-only degradation, never a blank screen)
//  2. normalize every remote row
//  3. merge remote records with their local counterparts by id
//  4. keep local records the remote has never seen (pending first sync)
//  5. persist the merged set best-effort and return it either way
//
// The returned slice is always usable. A non-nil error is a
// RemoteUnavailableError reporting that the cycle degraded to cache-only
// mode; from the user's perspective degradation is silent, the error exists
// for the scheduler's backoff and for logs.
//
// A record whose LocalSeq advanced between the pre-fetch snapshot and the
// merge had a local write land while the fetch was in flight; its fresher
// local state wins over the remote-derived merge for this cycle. The write's
// own re-pull reconciles it on the next cycle.
func (e *Engine) PullAndMerge(ctx context.Context) ([]Record, error) {
	preSeq := map[string]int64{}
	for _, rec := range e.cache.Load(e.config.CacheKey) {
		preSeq[rec.ID] = rec.LocalSeq
	}

	// Network stays outside the write lock, same as the download path keeps
	// HTTP outside the SQLite transaction.
	rows, err := e.remote.FetchAll(ctx, e.config.Filter)
	if err != nil {
		e.logger.Warn("remote fetch failed, serving cache-only", "error", err)
		records := e.cache.Load(e.config.CacheKey)
		sortByUpdateCandidate(records)
		return records, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	local := e.cache.Load(e.config.CacheKey)
	localByID := make(map[string]Record, len(local))
	for _, rec := range local {
		localByID[rec.ID] = rec
	}

	merged := make([]Record, 0, len(rows)+len(local))
	seen := map[string]bool{}
	for _, row := range rows {
		remote := NormalizeRow(row)
		if seen[remote.ID] {
			continue
		}
		seen[remote.ID] = true

		loc, hasLocal := localByID[remote.ID]
		if !hasLocal {
			merged = append(merged, remote)
			continue
		}
		if loc.LocalSeq > preSeq[remote.ID] {
			// Local write landed mid-pull; do not overwrite it with data
			// fetched before it existed.
			e.logger.Debug("skipping remote overwrite of in-flight local write",
				"id", remote.ID, "localSeq", loc.LocalSeq)
			merged = append(merged, loc)
			continue
		}
		merged = append(merged, MergeRecords(loc, remote))
	}
	for _, rec := range local {
		if seen[rec.ID] {
			continue
		}
		// Marking local ids too keeps the merged set unique even if the
		// cache ever held duplicate entries for one id.
		seen[rec.ID] = true
		merged = append(merged, rec)
	}
	sortByUpdateCandidate(merged)

	if err := e.cache.Save(e.config.CacheKey, merged); err != nil {
		// The caller still gets the current merged view; persistence lagged.
		e.logger.Warn("failed to persist merged set", "error", err)
	}
	return merged, nil
}

// Kick requests a sync. Requests coalesce: any number of kicks while a pull
// is running or queued collapse into one pending pull.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// RunSync is the coalescing sync scheduler. All re-sync triggers (storage
// change notifications, timers, post-persist re-pulls) funnel through Kick
// into this single loop, so concurrent triggers cannot interleave their
// merges. Runs until the context is cancelled; callers start it on its own
// goroutine.
func (e *Engine) RunSync(ctx context.Context) {
	backoff := e.config.BackoffMin
	idle := e.config.BackoffMax
	if idle <= 0 {
		idle = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		case <-time.After(idle):
		}

		if atomic.LoadInt32(&e.syncPaused) == 1 {
			continue
		}

		if _, err := e.PullAndMerge(ctx); err != nil {
			// Exponential backoff while the remote stays unreachable.
			if err := sleepWithContext(ctx, backoff); err != nil {
				return
			}
			backoff = backoff * 2
			if backoff > e.config.BackoffMax {
				backoff = e.config.BackoffMax
			}
			continue
		}
		backoff = e.config.BackoffMin
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
