// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"context"
	"log/slog"
)

// Filter narrows a remote fetch. Zero values mean "no constraint".
type Filter struct {
	Template string
	Status   string
}

// RemoteStore is the authoritative-store port.
//
// PersistPatch is at-least-once with idempotent upsert semantics keyed by
// the record's stable local key; callers may retry freely.
type RemoteStore interface {
	FetchAll(ctx context.Context, f Filter) ([]RemoteRow, error)
	PersistPatch(ctx context.Context, id string, patch map[string]any, full Record) error
}

// PersistStrategy is one way of getting a patch into the remote store.
// TryPersist returns applied=false (with or without an error) when the
// strategy could not take effect and the next one in the chain should run.
type PersistStrategy interface {
	Name() string
	TryPersist(ctx context.Context, id string, patch map[string]any, full Record) (applied bool, err error)
}

// StrategyChain runs an ordered list of persistence strategies until one
// applies. The ordering encodes the historical fallback behavior: a
// privileged RPC when configured, then targeted update and full upsert
// against the primary table, then the same pair against the legacy
// lowercase table.
type StrategyChain struct {
	Strategies []PersistStrategy
	Logger     *slog.Logger
}

// Persist tries each strategy in order; the first one that applies wins.
// When none applies the caller gets a RemoteSyncError carrying the attempt
// trail and the last underlying error.
func (c *StrategyChain) Persist(ctx context.Context, id string, patch map[string]any, full Record) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var attempts []string
	var lastErr error
	for _, s := range c.Strategies {
		attempts = append(attempts, s.Name())
		applied, err := s.TryPersist(ctx, id, patch, full)
		if applied {
			if len(attempts) > 1 {
				logger.Debug("remote persist succeeded on fallback strategy",
					"id", id, "strategy", s.Name(), "attempts", len(attempts))
			}
			return nil
		}
		if err != nil {
			lastErr = err
			logger.Warn("remote persist strategy failed, falling through",
				"id", id, "strategy", s.Name(), "error", err)
		}
	}
	return &RemoteSyncError{ID: id, Attempts: attempts, Err: lastErr}
}
