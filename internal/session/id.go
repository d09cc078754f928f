// Package session implements session identity (spec §3 Session) and the
// deterministic mapping from a session ID to its on-disk workspace
// (spec §6 Filesystem layout), including the path-escape invariant every
// tier root enforces (spec §8 invariant 7).
package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ID is a validated session identifier: either a canonical lowercase UUID,
// or a colon-separated tuple of three or more segments each matching
// [A-Za-z0-9_.\-]+.
type ID struct {
	raw      string
	isUUID   bool
	segments []string
}

// Parse validates raw against spec §3's Session identifier grammar.
// Any other form is rejected — on the completions endpoint this maps to
// the 400 response called out in spec §6.
func Parse(raw string) (ID, error) {
	if u, err := uuid.Parse(raw); err == nil {
		if u.String() != strings.ToLower(raw) {
			return ID{}, fmt.Errorf("session: UUID form must be canonical lowercase 8-4-4-4-12: %q", raw)
		}
		return ID{raw: raw, isUUID: true}, nil
	}

	segments := strings.Split(raw, ":")
	if len(segments) < 3 {
		return ID{}, fmt.Errorf("session: %q is neither a canonical UUID nor a >=3-segment colon tuple", raw)
	}
	for _, seg := range segments {
		if seg == "" || !segmentPattern.MatchString(seg) {
			return ID{}, fmt.Errorf("session: invalid segment %q in colon-tuple id %q", seg, raw)
		}
	}
	return ID{raw: raw, segments: segments}, nil
}

// String returns the canonical string form as supplied to Parse.
func (id ID) String() string { return id.raw }

// IsUUID reports whether this ID is the canonical-UUID form.
func (id ID) IsUUID() bool { return id.isUUID }

// Segments returns the colon-tuple's path segments, or nil for UUID-form IDs.
func (id ID) Segments() []string { return id.segments }
