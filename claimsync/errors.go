// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a record id is absent from the local set.
var ErrNotFound = errors.New("record not found in local set")

// ValidationError reports an action precondition that was not met.
// The operation performed no writes.
type ValidationError struct {
	Action string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Action, e.Reason)
}

// StorageQuotaError reports that a local write exceeded device capacity.
// The previously stored value is untouched and any in-memory state has been
// rolled back to match it.
type StorageQuotaError struct {
	Key  string
	Size int
}

func (e *StorageQuotaError) Error() string {
	return fmt.Sprintf("local storage quota exceeded writing %q (%d bytes)", e.Key, e.Size)
}

// RemoteSyncError reports that every remote persistence strategy failed.
// It is non-fatal: the local optimistic change is kept and a later sync
// reconciles.
type RemoteSyncError struct {
	ID       string
	Attempts []string // strategy names tried, in order
	Err      error    // last underlying error, may be nil when strategies simply matched no rows
}

func (e *RemoteSyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote persistence failed for %s after %d strategies: %v", e.ID, len(e.Attempts), e.Err)
	}
	return fmt.Sprintf("remote persistence failed for %s after %d strategies", e.ID, len(e.Attempts))
}

func (e *RemoteSyncError) Unwrap() error { return e.Err }

// RemoteUnavailableError reports that the remote fetch failed entirely.
// pullAndMerge degrades to cache-only mode when it sees this.
type RemoteUnavailableError struct {
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote store unavailable: %v", e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }
