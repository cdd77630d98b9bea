// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"encoding/json"
	"strings"
)

// CacheStore is the device-local persistence port. Implementations hold one
// JSON-encoded value per key and must make Save all-or-nothing: a failed Save
// leaves the previously stored value in place.
//
// Load never fails; malformed stored content self-heals (see decodeRecords).
type CacheStore interface {
	Load(key string) []Record
	Save(key string, records []Record) error
	Append(key string, rec Record) (count int, err error)

	// GetRaw/SetRaw expose the stored value verbatim. Callers use them for
	// pre-write snapshots (rollback on quota failure) and for small hint
	// values such as the last-submitted id.
	GetRaw(key string) (value string, ok bool)
	SetRaw(key, value string) error
}

// decodeRecords parses a stored value into a record array, self-healing
// malformed content: a bare object becomes a one-element array, anything
// unparseable becomes an empty array. It never returns an error.
func decodeRecords(raw string) []Record {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []Record{}
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err == nil {
		return records
	}
	var single Record
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return []Record{single}
	}
	return []Record{}
}

// encodeRecords serializes a record array for storage, eliding inline
// attachment bytes on records whose serialized form exceeds inlineLimit.
// Structural fields (names, URLs, paths) always survive; only raw inline
// content is dropped to relieve quota pressure. inlineLimit <= 0 disables
// elision.
func encodeRecords(records []Record, inlineLimit int) (string, error) {
	if inlineLimit > 0 {
		compacted := make([]Record, len(records))
		for i := range records {
			compacted[i] = compactForStorage(records[i], inlineLimit)
		}
		records = compacted
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// compactForStorage strips inline attachment content from a record whose
// serialized size exceeds limit. The input record is not mutated.
func compactForStorage(rec Record, limit int) Record {
	data, err := json.Marshal(rec)
	if err != nil || len(data) <= limit {
		return rec
	}
	out := rec
	out.Attachments = make(map[string][]AttachmentRef, len(rec.Attachments))
	for doc, refs := range rec.Attachments {
		stripped := make([]AttachmentRef, len(refs))
		for i, ref := range refs {
			stripped[i] = ref
			if ref.Data != "" && (ref.URL != "" || ref.Path != "" || len(ref.Data) > limit/4) {
				stripped[i].Data = ""
			}
		}
		out.Attachments[doc] = stripped
	}
	return out
}
