package versions

import (
	"strconv"
	"strings"
)

// Update magnitudes returned by CompareVersions.
const (
	UpdateMajor   = "major"
	UpdateMinor   = "minor"
	UpdatePatch   = "patch"
	UpdateSame    = "same"
	UpdateUnknown = "unknown"
)

// Version is a parsed semantic version. Missing segments are zero.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses a version string leniently: a leading v is
// stripped, anything after - or + is ignored, and one- or two-segment
// versions are padded with zeros.
func ParseVersion(s string) (Version, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return Version{}, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	segments := [3]int{}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, false
		}
		segments[i] = n
	}
	return Version{Major: segments[0], Minor: segments[1], Patch: segments[2]}, true
}

// CompareVersions classifies the jump from current to latest. It
// returns "unknown" when either side fails to parse, "same" when
// latest is not newer.
func CompareVersions(current, latest string) string {
	cur, ok := ParseVersion(current)
	if !ok {
		return UpdateUnknown
	}
	next, ok := ParseVersion(latest)
	if !ok {
		return UpdateUnknown
	}

	switch {
	case next.Major > cur.Major:
		return UpdateMajor
	case next.Major == cur.Major && next.Minor > cur.Minor:
		return UpdateMinor
	case next.Major == cur.Major && next.Minor == cur.Minor && next.Patch > cur.Patch:
		return UpdatePatch
	default:
		return UpdateSame
	}
}
