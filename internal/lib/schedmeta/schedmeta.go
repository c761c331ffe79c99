// Package schedmeta encodes expense schedule metadata into the free-text
// notes column behind a marker token. The physical format is shared with
// previously stored rows and must round-trip byte-for-byte: user-visible
// notes, a newline, then the marker immediately followed by a JSON object.
package schedmeta

import (
	"encoding/json"
	"strings"

	"homehub/internal/domain/models"
)

// Marker precedes the embedded JSON block. The value is frozen for
// compatibility with already-persisted notes.
const Marker = "[CASAPP_META]"

// Default is the metadata assumed when no block is present.
func Default() models.ScheduleMeta {
	return models.ScheduleMeta{
		RecurrenceType:           models.RecurrenceNone,
		RecurrenceIntervalMonths: 1,
		ReminderDaysBefore:       0,
		AccountStatus:            models.AccountOpen,
	}
}

// Compose appends the metadata block to the user-visible notes. A nil result
// means the column should be stored as NULL: no notes and default metadata.
// Default metadata is never written, so plain notes stay plain.
func Compose(notes string, meta models.ScheduleMeta) *string {
	normalized := strings.TrimSpace(notes)

	if meta == Default() {
		if normalized == "" {
			return nil
		}
		return &normalized
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		// models.ScheduleMeta has no unmarshalable fields; keep notes readable anyway.
		if normalized == "" {
			return nil
		}
		return &normalized
	}

	block := Marker + string(raw)
	if normalized == "" {
		return &block
	}
	composed := normalized + "\n" + block
	return &composed
}

// Extract splits a stored notes value into the user-visible part and the
// metadata. The LAST marker occurrence wins. Malformed JSON after the marker
// fails soft: the whole value is treated as plain notes with default metadata.
func Extract(stored *string) (notes *string, meta models.ScheduleMeta) {
	meta = Default()
	if stored == nil {
		return nil, meta
	}

	idx := strings.LastIndex(*stored, Marker)
	if idx < 0 {
		return stored, meta
	}

	raw := strings.TrimSpace((*stored)[idx+len(Marker):])

	var parsed models.ScheduleMeta
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return stored, meta
	}

	meta = Normalize(parsed)

	clean := strings.TrimSpace((*stored)[:idx])
	if clean == "" {
		return nil, meta
	}
	return &clean, meta
}

// Strip removes a well-formed metadata block, keeping only visible notes.
func Strip(stored *string) *string {
	notes, _ := Extract(stored)
	return notes
}

// Normalize clamps ranges and coerces enums so that data written by older
// clients still decodes to a valid metadata value.
func Normalize(in models.ScheduleMeta) models.ScheduleMeta {
	out := Default()

	if in.RecurrenceType == models.RecurrenceMonthly {
		out.RecurrenceType = models.RecurrenceMonthly
		out.RecurrenceIntervalMonths = clampInt(in.RecurrenceIntervalMonths, 1, 12, 1)
	}

	out.ReminderDaysBefore = clampInt(in.ReminderDaysBefore, 0, 30, 0)

	if in.AccountStatus == models.AccountClosed {
		out.AccountStatus = models.AccountClosed
	}

	return out
}

func clampInt(v, min, max, fallback int) int {
	if v == 0 && fallback != 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
