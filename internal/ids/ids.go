// Package ids generates the opaque, lexically-sortable identifiers used
// throughout the mission engine (mission, section, note, goal, thought,
// report version and log entry IDs).
package ids

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind namespaces an identifier so that IDs remain self-describing in logs
// and persisted rows without requiring a type tag alongside them.
type Kind string

const (
	Mission       Kind = "mis"
	Section       Kind = "sec"
	Note          Kind = "note"
	Goal          Kind = "goal"
	Thought       Kind = "thg"
	ReportVersion Kind = "rv"
	LogEntry      Kind = "log"
	OutlineRound  Kind = "oh"
	Evidence      Kind = "ev"
	Chunk         Kind = "chk"
)

// New returns an opaque, time-ordered identifier of the given kind, shaped
// like "<kind>_<26 lowercase-hex chars>". The prefix makes IDs self-describing
// in logs and database rows; the body is a UUIDv7-equivalent monotonic value
// built from the current time plus random bits so IDs sort roughly by
// creation order without leaking a literal timestamp format.
func New(k Kind) string {
	now := uint64(time.Now().UTC().UnixNano())
	u := uuid.New()
	return string(k) + "_" + hex.EncodeToString(append(uintBytes(now), u[:5]...))
}

func uintBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Short returns a shortened form of an ID suitable for stable citation keys
// (e.g. Writer's "[n_<short>]" markers) -- long enough to be practically
// unique within one mission's note set, short enough to stay readable inline.
func Short(id string) string {
	if idx := strings.LastIndex(id, "_"); idx >= 0 {
		id = id[idx+1:]
	}
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
