package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/seriesflow/types"
)

// Version identifies one committed artifact within a series. Versions are
// totally ordered by their integer value and strictly increase per series;
// "latest" is always the maximum, never the newest timestamp.
type Version int

// InitialVersion is assigned to the first save of a series.
const InitialVersion Version = 0

// String formats the version in its persisted form ("v0", "v1", ...).
func (v Version) String() string {
	return "v" + strconv.Itoa(int(v))
}

// ParseVersion parses the persisted form produced by String. Anything else,
// including negative numbers and a bare "v", fails with INVALID_INPUT.
func ParseVersion(s string) (Version, error) {
	digits, ok := strings.CutPrefix(s, "v")
	if !ok || digits == "" {
		return 0, types.NewErrorf(types.ErrInvalidInput, "malformed version %q", s)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 || digits != strconv.Itoa(n) {
		return 0, types.NewErrorf(types.ErrInvalidInput, "malformed version %q", s)
	}
	return Version(n), nil
}

// NextVersion computes the version the next save receives: InitialVersion
// for an empty set, max+1 otherwise. It must be called with the series
// lock held; without it the monotonicity guarantee breaks under
// concurrency. Versions are never reused, so the input must include
// versions later found corrupt.
func NextVersion(existing []Version) Version {
	next := InitialVersion
	for _, v := range existing {
		if v+1 > next {
			next = v + 1
		}
	}
	return next
}

// sortVersions orders versions ascending in place.
func sortVersions(versions []Version) {
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
}
