// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status constants for the verification workflow
const (
	StatusSubmitted = "submitted"
	StatusInReview  = "in_review"
	StatusDone      = "done"
	StatusRejected  = "rejected"
)

// Action constants for admin verification actions
const (
	ActionVerify   = "verify"
	ActionUnverify = "unverify"
	ActionFinish   = "finish"
	ActionReject   = "reject"
)

// TemplateKind is the closed classification of submission templates.
// It is resolved exactly once, at the normalization boundary, so the rest
// of the engine never does substring matching on raw template names.
type TemplateKind string

const (
	TemplateHospitalVisit TemplateKind = "hospital_visit" // kunjungan RS / PKS module
	TemplateSurveyFatal   TemplateKind = "survey_fatal"   // survei meninggal dunia
	TemplateSurveyInjury  TemplateKind = "survey_injury"  // survei luka-luka
	TemplateUnknown       TemplateKind = "unknown"
)

// ResolveTemplateKind classifies a raw template name.
// Fallback order for unrecognized input: substring match first, then the
// required-document heuristic (a submission carrying heir documents is a
// fatal-survey), otherwise TemplateUnknown.
func ResolveTemplateKind(template string, attachments map[string][]AttachmentRef) TemplateKind {
	t := strings.ToLower(template)
	switch {
	case strings.Contains(t, "kunjungan"):
		return TemplateHospitalVisit
	case strings.Contains(t, "meninggal"):
		return TemplateSurveyFatal
	case strings.Contains(t, "luka"):
		return TemplateSurveyInjury
	case strings.Contains(t, "survei"), strings.Contains(t, "survey"):
		return TemplateSurveyInjury
	}
	if len(attachments[DocAhliWaris]) > 0 {
		return TemplateSurveyFatal
	}
	return TemplateUnknown
}

// Logical document types used as attachment map keys
const (
	DocKTP        = "ktp"
	DocKK         = "kk"
	DocBukuRek    = "buku_rekening"
	DocAhliWaris  = "ahli_waris"
	DocFotoSurvei = "foto_survei"
)

// TriBool is a tri-state boolean for free-text fields such as
// "is the heir relationship consistent" ("ya"/"tidak"/empty).
type TriBool int8

const (
	TriUnknown TriBool = 0
	TriTrue    TriBool = 1
	TriFalse   TriBool = -1
)

// ParseTriBool coerces a free-text or numeric value to a TriBool.
func ParseTriBool(v any) TriBool {
	switch t := v.(type) {
	case nil:
		return TriUnknown
	case bool:
		if t {
			return TriTrue
		}
		return TriFalse
	case float64:
		if t != 0 {
			return TriTrue
		}
		return TriFalse
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "":
			return TriUnknown
		case "ya", "yes", "true", "1", "sesuai":
			return TriTrue
		case "tidak", "no", "false", "0", "tidak sesuai":
			return TriFalse
		}
		return TriUnknown
	}
	return TriUnknown
}

// MarshalJSON encodes TriTrue/TriFalse as booleans and TriUnknown as null.
func (b TriBool) MarshalJSON() ([]byte, error) {
	switch b {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts bool, number, string or null.
func (b *TriBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode tri-state bool: %w", err)
	}
	*b = ParseTriBool(v)
	return nil
}

// AttachmentRef points at one uploaded document. Exactly one of Data
// (inline-encoded content), URL (remote location) or Path (relative path on
// the backing store) is expected to be set.
type AttachmentRef struct {
	Name string `json:"name"`
	Data string `json:"data,omitempty"` // inline data URL, elided under quota pressure
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// Checklist is the fixed set of verification checks an admin must complete
// before a record can move to in_review.
type Checklist struct {
	Lengkap bool `json:"lengkap"` // documents complete
	Valid   bool `json:"valid"`   // documents valid
	Jelas   bool `json:"jelas"`   // photos/scans legible
}

// Complete reports whether every checklist item is checked.
func (c Checklist) Complete() bool {
	return c.Lengkap && c.Valid && c.Jelas
}

// VerificationAudit is the append-style audit trail. Fields are set once per
// action and never cleared by a later action (a rejectedAt survives a later
// verify).
type VerificationAudit struct {
	VerifiedAt   string     `json:"verifiedAt"`
	VerifyNote   string     `json:"verifyNote"`
	VerifiedBy   string     `json:"verifiedBy"`
	Checklist    *Checklist `json:"checklist"`
	UnverifiedAt string     `json:"unverifiedAt"`
	UnverifyNote string     `json:"unverifyNote"`
	FinishedAt   string     `json:"finishedAt"`
	FinishNote   string     `json:"finishNote"`
	RejectedAt   string     `json:"rejectedAt"`
	RejectNote   string     `json:"rejectNote"`
}

// Record is the canonical claim-submission entity. All timestamps are
// ISO-8601 strings as delivered by the remote store; the engine compares
// them lexicographically, which is equivalent for RFC 3339 values.
type Record struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Template     string       `json:"template"`
	TemplateKind TemplateKind `json:"templateKind"`

	NomorLaporan      string  `json:"nomorLaporan"`
	NamaKorban        string  `json:"namaKorban"`
	TanggalKecelakaan string  `json:"tanggalKecelakaan"`
	LokasiKecelakaan  string  `json:"lokasiKecelakaan"`
	RumahSakit        string  `json:"rumahSakit"`
	AhliWarisSesuai   TriBool `json:"ahliWarisSesuai"`

	Verified bool              `json:"verified"`
	Audit    VerificationAudit `json:"audit"`

	Attachments map[string][]AttachmentRef `json:"attachments"`
	FotoSurvei  []string                   `json:"fotoSurvei"`

	SubmissionTime string `json:"submissionTime"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`

	// LocalSeq is bumped on every local write and checked before a
	// remote-derived overwrite, so an in-flight pull cannot clobber a
	// verification applied while it was running.
	LocalSeq int64 `json:"localSeq"`
}

// NormalizeStatus maps any incoming status value onto the four-value enum.
// Unrecognized input normalizes to submitted.
func NormalizeStatus(v any) string {
	s, _ := v.(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusInReview, "in-review", "diproses":
		return StatusInReview
	case StatusDone, "selesai":
		return StatusDone
	case StatusRejected, "ditolak":
		return StatusRejected
	default:
		return StatusSubmitted
	}
}

// UpdatedAtCandidate returns the first defined timestamp from the ordered
// preference list. It is derived, never stored, and used only for sort
// ordering - never for conflict resolution.
func (r *Record) UpdatedAtCandidate() string {
	for _, ts := range []string{
		r.UpdatedAt,
		r.Audit.VerifiedAt,
		r.Audit.UnverifiedAt,
		r.SubmissionTime,
		r.CreatedAt,
	} {
		if ts != "" {
			return ts
		}
	}
	return ""
}

// latestAuditAt returns the most recent audit timestamp on the record, or ""
// when no action has ever been applied. Used by the merge to decide which
// side's status reflects the newest verification activity.
func (r *Record) latestAuditAt() string {
	latest := ""
	for _, ts := range []string{
		r.Audit.VerifiedAt,
		r.Audit.UnverifiedAt,
		r.Audit.FinishedAt,
		r.Audit.RejectedAt,
	} {
		if ts > latest {
			latest = ts
		}
	}
	return latest
}

// VerificationRequest is the payload consumed from the UI layer for one
// admin action.
type VerificationRequest struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"` // verify|unverify|finish|reject
	Note      string    `json:"note"`
	Checks    Checklist `json:"checks"`
	Timestamp string    `json:"timestamp"` // ISO-8601
}
