package core

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version wraps a parsed product version so that nodesByVer ordering
// (spec.md §3/§4.2) can compare versions semantically rather than by
// raw string order ("v9" must sort before "v10").
type Version struct {
	raw string
	sem *semver.Version
}

// ParseVersion parses a product version string. An empty string
// yields the zero Version, which compares below every non-empty
// version — this matches the spec's treatment of a missing attribute
// as "absent", not a fatal error. An unparsable string keeps its raw
// text and compares lexically (see Compare).
func ParseVersion(raw string) Version {
	if raw == "" {
		return Version{}
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return Version{raw: raw}
	}
	return Version{raw: raw, sem: v}
}

// String returns the original, unparsed version string.
func (v Version) String() string { return v.raw }

// IsZero reports whether this Version carries no comparable value.
func (v Version) IsZero() bool { return v.raw == "" }

// Compare returns -1, 0 or 1 if v is less than, equal to, or greater
// than other. Unparsable versions compare lexically by their raw
// string as a fallback so they remain totally ordered.
func (v Version) Compare(other Version) int {
	if v.sem != nil && other.sem != nil {
		return v.sem.Compare(other.sem)
	}
	switch {
	case v.raw < other.raw:
		return -1
	case v.raw > other.raw:
		return 1
	default:
		return 0
	}
}

// GreaterOrEqual reports whether v >= other.
func (v Version) GreaterOrEqual(other Version) bool { return v.Compare(other) >= 0 }

// versionKey is the map key type used by DiscoCache.nodesByVer: it
// must be a comparable, ordered proxy for Version since semver.Version
// itself is not comparable with ==.
type versionKey string

func (v Version) key() versionKey {
	if v.sem != nil {
		return versionKey(fmt.Sprintf("%020d.%020d.%020d-%s", v.sem.Major(), v.sem.Minor(), v.sem.Patch(), v.sem.Prerelease()))
	}
	return versionKey("raw:" + v.raw)
}
