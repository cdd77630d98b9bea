// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

// MergeRecords reconciles a local and a remote version of the same logical
// record into one. The rule for scalars is remote-preferring: the server is
// authoritative once it has a value, but a still-syncing server must not
// blank out data the user just entered locally.
//
// The merge is pure and deliberately not symmetric - callers always pass
// (local, remote) in that order.
func MergeRecords(local, remote Record) Record {
	out := Record{
		ID: prefer(remote.ID, local.ID),

		Template:          prefer(remote.Template, local.Template),
		NomorLaporan:      prefer(remote.NomorLaporan, local.NomorLaporan),
		NamaKorban:        prefer(remote.NamaKorban, local.NamaKorban),
		TanggalKecelakaan: prefer(remote.TanggalKecelakaan, local.TanggalKecelakaan),
		LokasiKecelakaan:  prefer(remote.LokasiKecelakaan, local.LokasiKecelakaan),
		RumahSakit:        prefer(remote.RumahSakit, local.RumahSakit),

		SubmissionTime: prefer(remote.SubmissionTime, local.SubmissionTime),
		CreatedAt:      prefer(remote.CreatedAt, local.CreatedAt),
		UpdatedAt:      prefer(remote.UpdatedAt, local.UpdatedAt),
	}

	out.Status = mergeStatus(local, remote)

	if remote.AhliWarisSesuai != TriUnknown {
		out.AhliWarisSesuai = remote.AhliWarisSesuai
	} else {
		out.AhliWarisSesuai = local.AhliWarisSesuai
	}

	// verified may arrive as 0/1/string on either side; both Records already
	// coerced it, so the merged value is a plain boolean preference.
	out.Verified = remote.Verified || (local.Verified && !remoteKnowsVerification(remote))

	out.Audit = VerificationAudit{
		VerifiedAt:   prefer(remote.Audit.VerifiedAt, local.Audit.VerifiedAt),
		VerifyNote:   prefer(remote.Audit.VerifyNote, local.Audit.VerifyNote),
		VerifiedBy:   prefer(remote.Audit.VerifiedBy, local.Audit.VerifiedBy),
		Checklist:    preferChecklist(remote.Audit.Checklist, local.Audit.Checklist),
		UnverifiedAt: prefer(remote.Audit.UnverifiedAt, local.Audit.UnverifiedAt),
		UnverifyNote: prefer(remote.Audit.UnverifyNote, local.Audit.UnverifyNote),
		FinishedAt:   prefer(remote.Audit.FinishedAt, local.Audit.FinishedAt),
		FinishNote:   prefer(remote.Audit.FinishNote, local.Audit.FinishNote),
		RejectedAt:   prefer(remote.Audit.RejectedAt, local.Audit.RejectedAt),
		RejectNote:   prefer(remote.Audit.RejectNote, local.Audit.RejectNote),
	}

	// Array fields are taken wholesale from whichever side has content,
	// remote first. Only the nested attachment map unions.
	out.FotoSurvei = preferSlice(remote.FotoSurvei, local.FotoSurvei)
	out.Attachments = mergeAttachments(local.Attachments, remote.Attachments)

	out.LocalSeq = local.LocalSeq
	out.TemplateKind = ResolveTemplateKind(out.Template, out.Attachments)
	return out
}

// prefer returns remote unless it is empty, falling back to local.
func prefer(remote, local string) string {
	if remote != "" {
		return remote
	}
	return local
}

// preferSlice returns the remote array wholesale when non-empty, else local.
// Arrays are not union'd at this level.
func preferSlice(remote, local []string) []string {
	if len(remote) > 0 {
		return append([]string{}, remote...)
	}
	if local == nil {
		return []string{}
	}
	return append([]string{}, local...)
}

func preferChecklist(remote, local *Checklist) *Checklist {
	src := remote
	if src == nil {
		src = local
	}
	if src == nil {
		return nil
	}
	cp := *src
	return &cp
}

// mergeStatus picks the status from whichever side shows the most recent
// verification activity. A locally applied action the remote has not caught
// up with yet keeps its effect; once the remote reflects equal-or-newer
// audit activity, the remote value wins.
func mergeStatus(local, remote Record) string {
	if local.latestAuditAt() > remote.latestAuditAt() {
		return local.Status
	}
	return NormalizeStatus(prefer(remote.Status, local.Status))
}

// remoteKnowsVerification reports whether the remote side carries any
// verification state at all; until it does, a local verified flag sticks.
func remoteKnowsVerification(remote Record) bool {
	return remote.latestAuditAt() != "" || remote.Verified
}

// mergeAttachments unions document-type keys from both sides. When both
// sides hold a list for the same key the lists concatenate (remote first)
// because attachments are additive across write paths; a non-empty local
// list is never discarded in favor of an empty remote one.
func mergeAttachments(local, remote map[string][]AttachmentRef) map[string][]AttachmentRef {
	out := map[string][]AttachmentRef{}
	for doc, refs := range remote {
		out[doc] = append([]AttachmentRef{}, refs...)
	}
	for doc, refs := range local {
		if len(refs) == 0 {
			continue
		}
		existing := out[doc]
		for _, ref := range refs {
			if !containsAttachment(existing, ref) {
				existing = append(existing, ref)
			}
		}
		out[doc] = existing
	}
	return out
}

func containsAttachment(refs []AttachmentRef, ref AttachmentRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
