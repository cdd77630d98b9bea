// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteRow is one row from the remote store, as loosely-typed column/value
// pairs. The same logical field may arrive as snake_case, camelCase, or
// nested inside one of the JSON blob columns - different write paths were
// never consistent about it.
type RemoteRow map[string]any

// blobColumns are the JSON columns a remote row may nest fields under,
// in resolution order.
var blobColumns = []string{"data", "payload", "content"}

// fieldAliases lists, per logical field, the accepted column spellings in
// priority order. Resolution checks every spelling on the flat row first,
// then the same spellings inside the first parseable blob column; the first
// non-null/non-empty value wins.
var fieldAliases = map[string][]string{
	"id":                 {"local_key", "localKey", "id"},
	"status":             {"status"},
	"template":           {"template", "template_name", "templateName"},
	"nomor_laporan":      {"nomor_laporan", "nomorLaporan"},
	"nama_korban":        {"nama_korban", "namaKorban"},
	"tanggal_kecelakaan": {"tanggal_kecelakaan", "tanggalKecelakaan"},
	"lokasi_kecelakaan":  {"lokasi_kecelakaan", "lokasiKecelakaan"},
	"rumah_sakit":        {"rumah_sakit", "rumahSakit"},
	"ahli_waris_sesuai":  {"ahli_waris_sesuai", "ahliWarisSesuai"},
	"verified":           {"verified", "is_verified", "isVerified"},
	"verified_at":        {"verified_at", "verifiedAt"},
	"verify_note":        {"verify_note", "verifyNote", "catatan_verifikasi", "catatanVerifikasi"},
	"verified_by":        {"verified_by", "verifiedBy"},
	"checklist":          {"checklist"},
	"unverified_at":      {"unverified_at", "unverifiedAt"},
	"unverify_note":      {"unverify_note", "unverifyNote"},
	"finished_at":        {"finished_at", "finishedAt"},
	"finish_note":        {"finish_note", "finishNote"},
	"rejected_at":        {"rejected_at", "rejectedAt"},
	"reject_note":        {"reject_note", "rejectNote"},
	"attachments":        {"attachments", "attach_survey", "attachSurvey", "lampiran"},
	"foto_survei":        {"foto_survei", "fotoSurvei", "photos"},
	"submission_time":    {"submission_time", "submissionTime", "waktu_pengajuan", "waktuPengajuan"},
	"created_at":         {"created_at", "createdAt"},
	"updated_at":         {"updated_at", "updatedAt"},
}

// SurrogateSeparator joins the parts of a derived surrogate id.
const SurrogateSeparator = "|"

// NormalizeRow maps one remote row into the canonical Record shape. Missing
// logical fields come out as zero values / empty collections, never omitted,
// so downstream code can rely on shape. Repeated normalization of the same
// row is deterministic, including the derived surrogate id, which keeps the
// merge idempotent.
func NormalizeRow(row RemoteRow) Record {
	blob := extractBlob(row)

	rec := Record{
		ID:                stringField(row, blob, "id"),
		Template:          stringField(row, blob, "template"),
		NomorLaporan:      stringField(row, blob, "nomor_laporan"),
		NamaKorban:        stringField(row, blob, "nama_korban"),
		TanggalKecelakaan: stringField(row, blob, "tanggal_kecelakaan"),
		LokasiKecelakaan:  stringField(row, blob, "lokasi_kecelakaan"),
		RumahSakit:        stringField(row, blob, "rumah_sakit"),
		SubmissionTime:    stringField(row, blob, "submission_time"),
		CreatedAt:         stringField(row, blob, "created_at"),
		UpdatedAt:         stringField(row, blob, "updated_at"),
	}

	rec.Status = NormalizeStatus(resolveField(row, blob, "status"))
	rec.AhliWarisSesuai = ParseTriBool(resolveField(row, blob, "ahli_waris_sesuai"))
	rec.Verified = ParseTriBool(resolveField(row, blob, "verified")) == TriTrue

	rec.Audit = VerificationAudit{
		VerifiedAt:   stringField(row, blob, "verified_at"),
		VerifyNote:   stringField(row, blob, "verify_note"),
		VerifiedBy:   stringField(row, blob, "verified_by"),
		Checklist:    checklistField(resolveField(row, blob, "checklist")),
		UnverifiedAt: stringField(row, blob, "unverified_at"),
		UnverifyNote: stringField(row, blob, "unverify_note"),
		FinishedAt:   stringField(row, blob, "finished_at"),
		FinishNote:   stringField(row, blob, "finish_note"),
		RejectedAt:   stringField(row, blob, "rejected_at"),
		RejectNote:   stringField(row, blob, "reject_note"),
	}

	rec.Attachments = attachmentsField(resolveField(row, blob, "attachments"))
	rec.FotoSurvei = stringSliceField(resolveField(row, blob, "foto_survei"))

	if rec.ID == "" {
		rec.ID = SurrogateID(rec.SubmissionTime, rec.NomorLaporan, rec.Template)
	}
	rec.TemplateKind = ResolveTemplateKind(rec.Template, rec.Attachments)
	return rec
}

// SurrogateID derives a stable identifier for rows that carry no key of
// their own. The derivation is deterministic so repeated normalization of
// the same row yields the same surrogate.
func SurrogateID(submissionTime, nomorLaporan, template string) string {
	return strings.Join([]string{submissionTime, nomorLaporan, template}, SurrogateSeparator)
}

// extractBlob returns the first blob column that parses as a JSON object.
func extractBlob(row RemoteRow) map[string]any {
	for _, col := range blobColumns {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			return t
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(t), &m); err == nil {
				return m
			}
		case []byte:
			var m map[string]any
			if err := json.Unmarshal(t, &m); err == nil {
				return m
			}
		}
	}
	return nil
}

// resolveField walks the alias list for a logical field: flat row spellings
// first, then the same spellings inside the blob. First non-empty wins.
func resolveField(row RemoteRow, blob map[string]any, logical string) any {
	aliases := fieldAliases[logical]
	for _, alias := range aliases {
		if v, ok := row[alias]; ok && !isEmptyValue(v) {
			return v
		}
	}
	for _, alias := range aliases {
		if v, ok := blob[alias]; ok && !isEmptyValue(v) {
			return v
		}
	}
	return nil
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

// stringField resolves a logical field and coerces it to a string.
func stringField(row RemoteRow, blob map[string]any, logical string) string {
	v := resolveField(row, blob, logical)
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// checklistField coerces a checklist value (JSON text or decoded object)
// into a Checklist snapshot, or nil when absent.
func checklistField(v any) *Checklist {
	var m map[string]any
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		m = t
	case string:
		if err := json.Unmarshal([]byte(t), &m); err != nil {
			return nil
		}
	case []byte:
		if err := json.Unmarshal(t, &m); err != nil {
			return nil
		}
	default:
		return nil
	}
	return &Checklist{
		Lengkap: ParseTriBool(m["lengkap"]) == TriTrue,
		Valid:   ParseTriBool(m["valid"]) == TriTrue,
		Jelas:   ParseTriBool(m["jelas"]) == TriTrue,
	}
}

// attachmentsField coerces the attachment map. Values under each document
// key may be an array of references, a single reference object, or bare
// strings (URL or inline data). The output always has a non-nil map.
func attachmentsField(v any) map[string][]AttachmentRef {
	out := map[string][]AttachmentRef{}
	var m map[string]any
	switch t := v.(type) {
	case nil:
		return out
	case map[string]any:
		m = t
	case string:
		if err := json.Unmarshal([]byte(t), &m); err != nil {
			return out
		}
	case []byte:
		if err := json.Unmarshal(t, &m); err != nil {
			return out
		}
	default:
		return out
	}
	for doc, val := range m {
		refs := attachmentRefs(val)
		if len(refs) > 0 {
			out[doc] = refs
		}
	}
	return out
}

func attachmentRefs(v any) []AttachmentRef {
	switch t := v.(type) {
	case []any:
		var refs []AttachmentRef
		for _, item := range t {
			refs = append(refs, attachmentRefs(item)...)
		}
		return refs
	case map[string]any:
		ref := AttachmentRef{}
		if s, ok := t["name"].(string); ok {
			ref.Name = s
		}
		if s, ok := t["data"].(string); ok {
			ref.Data = s
		}
		if s, ok := t["url"].(string); ok {
			ref.URL = s
		}
		if s, ok := t["path"].(string); ok {
			ref.Path = s
		}
		if ref == (AttachmentRef{}) {
			return nil
		}
		return []AttachmentRef{ref}
	case string:
		if t == "" {
			return nil
		}
		if strings.HasPrefix(t, "data:") {
			return []AttachmentRef{{Data: t}}
		}
		if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
			return []AttachmentRef{{URL: t}}
		}
		return []AttachmentRef{{Path: t}}
	}
	return nil
}

// stringSliceField coerces an array-like value (decoded array or JSON text)
// into a string slice. Always returns a non-nil slice.
func stringSliceField(v any) []string {
	out := []string{}
	var arr []any
	switch t := v.(type) {
	case nil:
		return out
	case []any:
		arr = t
	case string:
		if err := json.Unmarshal([]byte(t), &arr); err != nil {
			if t != "" {
				return []string{t}
			}
			return out
		}
	case []byte:
		if err := json.Unmarshal(t, &arr); err != nil {
			return out
		}
	default:
		return out
	}
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
