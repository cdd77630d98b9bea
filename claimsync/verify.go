// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"context"

	"github.com/Naila-si/samyanJR-sub000/internal/auth"
)

// ValidateAction checks the precondition of one admin action without
// touching any state.
//
//	verify   - every checklist item checked
//	unverify - non-empty free-text reason
//	finish   - none (note optional)
//	reject   - non-empty free-text reason
func ValidateAction(req VerificationRequest) error {
	switch req.Action {
	case ActionVerify:
		if !req.Checks.Complete() {
			return &ValidationError{Action: req.Action, Reason: "checklist must be fully checked"}
		}
	case ActionUnverify:
		if req.Note == "" {
			return &ValidationError{Action: req.Action, Reason: "a reason is required"}
		}
	case ActionFinish:
		// no precondition
	case ActionReject:
		if req.Note == "" {
			return &ValidationError{Action: req.Action, Reason: "a reason is required"}
		}
	default:
		return &ValidationError{Action: req.Action, Reason: "unknown action"}
	}
	return nil
}

// ApplyAction computes the patched record for one admin action. It is pure:
// the input record is copied, never mutated. No state is terminal - a done
// record can later be pushed back through unverify, corrections happen after
// completion. Audit fields are set once per action and never cleared by a
// later action.
//
// The returned patch holds the remote columns this action changes, keyed by
// the remote store's snake_case names.
func ApplyAction(ctx context.Context, rec Record, req VerificationRequest) (Record, map[string]any, error) {
	if err := ValidateAction(req); err != nil {
		return Record{}, nil, err
	}

	out := rec
	patch := map[string]any{}
	actor, _ := auth.GetAdminID(ctx)

	switch req.Action {
	case ActionVerify:
		out.Status = StatusInReview
		out.Verified = true
		out.Audit.VerifiedAt = req.Timestamp
		out.Audit.VerifyNote = req.Note
		out.Audit.VerifiedBy = actor
		checks := req.Checks
		out.Audit.Checklist = &checks
		patch["status"] = StatusInReview
		patch["verified"] = true
		patch["verified_at"] = req.Timestamp
		patch["verify_note"] = req.Note
		patch["verified_by"] = actor
		patch["checklist"] = checks

	case ActionUnverify:
		out.Status = StatusSubmitted
		out.Verified = false
		out.Audit.UnverifiedAt = req.Timestamp
		out.Audit.UnverifyNote = req.Note
		patch["status"] = StatusSubmitted
		patch["verified"] = false
		patch["unverified_at"] = req.Timestamp
		patch["unverify_note"] = req.Note

	case ActionFinish:
		out.Status = StatusDone
		out.Audit.FinishedAt = req.Timestamp
		out.Audit.FinishNote = req.Note
		patch["status"] = StatusDone
		patch["finished_at"] = req.Timestamp
		patch["finish_note"] = req.Note

	case ActionReject:
		out.Status = StatusSubmitted
		out.Verified = false
		out.Audit.RejectedAt = req.Timestamp
		out.Audit.RejectNote = req.Note
		patch["status"] = StatusSubmitted
		patch["verified"] = false
		patch["rejected_at"] = req.Timestamp
		patch["reject_note"] = req.Note
	}

	out.UpdatedAt = req.Timestamp
	out.LocalSeq = rec.LocalSeq + 1
	patch["updated_at"] = req.Timestamp
	return out, patch, nil
}

// cacheTxn formalizes the snapshot / apply / commit-or-rollback discipline
// around a CacheStore write. mutate receives the current array and returns
// the replacement. On a quota failure the stored value is restored from the
// pre-write snapshot (byte for byte) and the error is returned, so storage
// and any in-memory view derived from it never disagree.
func cacheTxn(store CacheStore, key string, mutate func([]Record) ([]Record, error)) ([]Record, error) {
	snapshot, hadValue := store.GetRaw(key)

	current := store.Load(key)
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	if err := store.Save(key, next); err != nil {
		if hadValue {
			// Best effort: Save is all-or-nothing for well-behaved stores,
			// but restoring the snapshot keeps the guarantee even for ones
			// that are not.
			_ = store.SetRaw(key, snapshot)
		}
		return nil, err
	}
	return next, nil
}
