package dcb

import (
	"fmt"
	"strings"
)

// safeFileNameUnsafe lists the bytes unsafe to place directly into a file
// name on any commonly supported file system (spec §4.4). '_' is
// included even though it is filesystem-safe: it is reserved as the
// separator between a tag's key and value component (safeTagFileName),
// so it must be escaped wherever it occurs literally in an input —
// otherwise two distinct (key, value) pairs could encode to the same
// joined file name (spec §9, "Tag file-name collisions").
const safeFileNameUnsafe = `/\:*?"<>|_`

// escapePathSegment percent-encodes every byte that is unsafe in a file
// name, plus '%' itself so the encoding is unambiguous and collision-free:
// two distinct inputs never encode to the same output, because decoding
// is simply "un-percent-encode", which is exactly invertible.
func escapePathSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || strings.IndexByte(safeFileNameUnsafe, c) >= 0 || c < 0x20 || c == 0x7f {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// safeEventTypeFileName returns the file name (without directory or
// extension) used for an event type's by-type index file.
func safeEventTypeFileName(eventType string) string {
	return escapePathSegment(eventType)
}

// tagValueSentinel marks an absent Value distinctly from an empty string,
// so NewTagNoValue("k") and NewTag("k", "") never collide on disk.
const tagValueSentinel = "\x00absent"

// safeTagFileName returns the file name (without directory or extension)
// used for a tag's by-tag index file. Key and Value are each escaped and
// joined with a separator ('_') that is itself escaped when it appears
// literally in either component, so the join is unambiguous.
func safeTagFileName(t Tag) string {
	value := t.Value
	if !t.HasValue {
		value = tagValueSentinel
	}
	return escapePathSegment(t.Key) + "_" + escapePathSegment(value)
}
