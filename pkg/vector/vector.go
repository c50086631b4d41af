// Package vector implements the state vector used by the operational
// transformation algorithm to identify a causal point in a session's
// request stream: a mapping from user id to the number of requests
// that user has issued.
package vector

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the class for all vector parsing errors.
var Error = errs.Class("vector")

// Vector maps a user id to a non-negative request counter. A missing
// key is equivalent to a counter of zero; callers must not rely on
// map iteration order, use Vector.Ids for a deterministic walk.
type Vector struct {
	counts map[uint32]uint64
}

// New returns an empty vector, equivalent to every user being at zero.
func New() *Vector {
	return &Vector{counts: make(map[uint32]uint64)}
}

// Get returns the counter for user, or zero if user has never issued
// a request observed by this vector.
func (v *Vector) Get(user uint32) uint64 {
	if v == nil {
		return 0
	}
	return v.counts[user]
}

// Set assigns the counter for user to n.
func (v *Vector) Set(user uint32, n uint64) {
	if n == 0 {
		delete(v.counts, user)
		return
	}
	v.counts[user] = n
}

// Inc increments the counter for user and returns the new value.
func (v *Vector) Inc(user uint32) uint64 {
	n := v.counts[user] + 1
	v.counts[user] = n
	return n
}

// Copy returns an independent copy of v.
func (v *Vector) Copy() *Vector {
	cp := New()
	for id, n := range v.counts {
		cp.counts[id] = n
	}
	return cp
}

// Equal reports whether v and other assign the same counter to every
// user (missing entries and explicit zero entries compare equal).
func (v *Vector) Equal(other *Vector) bool {
	return v.vdiffUint(other) == 0
}

// CausallyLEQ reports whether v <= other, i.e. for every user id,
// v's counter does not exceed other's counter. The zero vector is
// causally less than or equal to every vector.
func (v *Vector) CausallyLEQ(other *Vector) bool {
	for id, n := range v.counts {
		if other.Get(id) < n {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither v <= other nor other <= v holds.
func (v *Vector) Concurrent(other *Vector) bool {
	return !v.CausallyLEQ(other) && !other.CausallyLEQ(v)
}

// Vdiff returns the L1 distance between v and other: the sum, over
// every user id appearing in either vector, of the absolute
// difference of their counters.
func (v *Vector) Vdiff(other *Vector) uint64 {
	return v.vdiffUint(other)
}

func (v *Vector) vdiffUint(other *Vector) uint64 {
	var total uint64
	seen := make(map[uint32]struct{}, len(v.counts)+len(other.counts))
	for id := range v.counts {
		seen[id] = struct{}{}
	}
	for id := range other.counts {
		seen[id] = struct{}{}
	}
	for id := range seen {
		a, b := v.Get(id), other.Get(id)
		if a > b {
			total += a - b
		} else {
			total += b - a
		}
	}
	return total
}

// Ids returns the set of user ids with a non-zero counter, sorted
// ascending, for deterministic iteration.
func (v *Vector) Ids() []uint32 {
	ids := make([]uint32, 0, len(v.counts))
	for id := range v.counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// String renders the canonical wire form "id1:n1;id2:n2;...", sorted
// by user id ascending. An empty vector renders as the empty string.
func (v *Vector) String() string {
	ids := v.Ids()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(uint64(id), 10)+":"+strconv.FormatUint(v.counts[id], 10))
	}
	return strings.Join(parts, ";")
}

// Parse parses the canonical wire form produced by String.
func Parse(s string) (*Vector, error) {
	v := New()
	if s == "" {
		return v, nil
	}
	for _, part := range strings.Split(s, ";") {
		idStr, nStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, Error.New("malformed component %q", part)
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		n, err := strconv.ParseUint(nStr, 10, 64)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		v.Set(uint32(id), n)
	}
	return v, nil
}
