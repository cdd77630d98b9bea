// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package claimsync keeps a device-local cache and a remote relational store
// eventually consistent for the same logical claim records, and drives the
// verification workflow (submitted -> in_review -> done/rejected) with
// optimistic local apply and rollback.
//
// The engine is local-first: a verification action takes effect on the
// device immediately, remote persistence is best-effort with an ordered
// strategy chain, and every successful remote write triggers a re-pull so
// the next read reconciles.
package claimsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Toast kinds passed to the Notifier.
const (
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Notifier is the UI notification sink the engine reports outcomes to.
// The engine never implements UI; the default sink logs.
type Notifier interface {
	Toast(message, kind string)
}

type slogNotifier struct {
	logger *slog.Logger
}

func (n *slogNotifier) Toast(message, kind string) {
	n.logger.Info("toast", "kind", kind, "message", message)
}

// Config holds engine configuration.
type Config struct {
	CacheKey string // local storage key holding the record array
	HintKey  string // holds the last-submitted id, used to locate a just-created record
	Filter   Filter // applied to every remote fetch

	BackoffMin time.Duration // scheduler retry floor
	BackoffMax time.Duration // scheduler retry ceiling, also the idle re-sync interval
}

// DefaultConfig returns a configuration for the given cache key. The key
// must be provided explicitly; there is no default key.
func DefaultConfig(cacheKey string) *Config {
	return &Config{
		CacheKey:   cacheKey,
		HintKey:    cacheKey + ":last_submitted",
		BackoffMin: 1 * time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// Engine coordinates the local cache, the remote store and the verification
// state machine.
type Engine struct {
	cache    CacheStore
	remote   RemoteStore
	config   *Config
	logger   *slog.Logger
	Notifier Notifier

	writeMu    sync.Mutex // serializes local mutations and merge persists
	syncPaused int32
	kick       chan struct{}
}

// NewEngine builds an engine. logger may be nil (slog.Default is used).
func NewEngine(cache CacheStore, remote RemoteStore, config *Config, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.CacheKey == "" {
		return nil, fmt.Errorf("config.CacheKey must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cache:    cache,
		remote:   remote,
		config:   config,
		logger:   logger,
		Notifier: &slogNotifier{logger: logger},
		kick:     make(chan struct{}, 1),
	}, nil
}

// PauseSync suspends scheduler-driven pulls (deterministic tests, bulk edits).
func (e *Engine) PauseSync() { atomic.StoreInt32(&e.syncPaused, 1) }

// ResumeSync resumes scheduler-driven pulls.
func (e *Engine) ResumeSync() { atomic.StoreInt32(&e.syncPaused, 0) }

// Submit creates a record locally with status submitted. A record without
// an id gets a locally-generated one, and the last-submitted hint key is
// updated so the UI can locate the record before it has a remote identity.
//
// An id is unique within the local set: submitting an id that already exists
// updates that record in place (a retried form submission), it never creates
// a second entry.
func (e *Engine) Submit(ctx context.Context, rec Record) (Record, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Status = StatusSubmitted
	now := time.Now().UTC().Format(time.RFC3339)
	createdAtDefaulted := rec.CreatedAt == ""
	if rec.SubmissionTime == "" {
		rec.SubmissionTime = now
	}
	if createdAtDefaulted {
		rec.CreatedAt = now
	}
	if rec.Attachments == nil {
		rec.Attachments = map[string][]AttachmentRef{}
	}
	if rec.FotoSurvei == nil {
		rec.FotoSurvei = []string{}
	}
	rec.TemplateKind = ResolveTemplateKind(rec.Template, rec.Attachments)

	_, err := cacheTxn(e.cache, e.config.CacheKey, func(current []Record) ([]Record, error) {
		for i := range current {
			if current[i].ID != rec.ID {
				continue
			}
			if createdAtDefaulted && current[i].CreatedAt != "" {
				rec.CreatedAt = current[i].CreatedAt
			}
			rec.LocalSeq = current[i].LocalSeq + 1
			next := append([]Record{}, current...)
			next[i] = rec
			return next, nil
		}
		rec.LocalSeq = 1
		return append(append([]Record{}, current...), rec), nil
	})
	if err != nil {
		return Record{}, err
	}
	if err := e.cache.SetRaw(e.config.HintKey, rec.ID); err != nil {
		// The hint is an optimization; losing it costs one extra lookup.
		e.logger.Warn("failed to store last-submitted hint", "id", rec.ID, "error", err)
	}

	e.Kick()
	return rec, nil
}

// LastSubmittedID returns the hint stored by Submit, if any.
func (e *Engine) LastSubmittedID() (string, bool) {
	return e.cache.GetRaw(e.config.HintKey)
}

// Records returns the current local set ordered by the derived update
// candidate, newest first.
func (e *Engine) Records() []Record {
	records := e.cache.Load(e.config.CacheKey)
	sortByUpdateCandidate(records)
	return records
}

// ApplyVerification validates and applies one admin action.
//
// Failure semantics per error type: ValidationError and ErrNotFound mean no
// writes happened at all; StorageQuotaError means the local store was rolled
// back to its pre-action state; RemoteSyncError is non-fatal - the returned
// record IS applied locally and a later sync reconciles.
func (e *Engine) ApplyVerification(ctx context.Context, req VerificationRequest) (Record, error) {
	if err := ValidateAction(req); err != nil {
		return Record{}, err
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	e.writeMu.Lock()
	var patched Record
	var patch map[string]any
	_, err := cacheTxn(e.cache, e.config.CacheKey, func(current []Record) ([]Record, error) {
		idx := -1
		for i := range current {
			if current[i].ID == req.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrNotFound
		}
		var aerr error
		patched, patch, aerr = ApplyAction(ctx, current[idx], req)
		if aerr != nil {
			return nil, aerr
		}
		next := append([]Record{}, current...)
		next[idx] = patched
		return next, nil
	})
	e.writeMu.Unlock()
	if err != nil {
		var quota *StorageQuotaError
		if errors.As(err, &quota) {
			e.Notifier.Toast("aksi tidak tersimpan: penyimpanan lokal penuh", ToastError)
		}
		return Record{}, err
	}

	// Local state is committed; remote persistence is best-effort.
	if err := e.remote.PersistPatch(ctx, req.ID, patch, patched); err != nil {
		e.logger.Warn("remote persistence failed, keeping local state",
			"id", req.ID, "action", req.Action, "error", err)
		e.Notifier.Toast("perubahan tersimpan lokal, menunggu sinkronisasi", ToastWarning)
		return patched, err
	}

	e.Notifier.Toast("verifikasi tersimpan", ToastSuccess)
	e.Kick()
	return patched, nil
}

func sortByUpdateCandidate(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatedAtCandidate() > records[j].UpdatedAtCandidate()
	})
}
