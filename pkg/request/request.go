// Package request implements the per-user append-only request log
// (§4.4): the substrate the OT algorithm transforms against. A
// request bundles the issuing user, the state vector at which it was
// issued, its kind (do/undo/redo), and the operation itself.
package request

import (
	"sync"

	"github.com/zeebo/errs"

	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/vector"
)

// Error is the class for request-log invariant violations.
var Error = errs.Class("request")

// Kind distinguishes a request that performs a fresh edit from one
// that reverses ("undo") or re-applies ("redo") an earlier one.
type Kind int

const (
	KindDo Kind = iota
	KindUndo
	KindRedo
)

func (k Kind) String() string {
	switch k {
	case KindDo:
		return "do"
	case KindUndo:
		return "undo"
	case KindRedo:
		return "redo"
	default:
		return "unknown"
	}
}

// Request is one entry of a user's log: the state vector at which the
// user issued it, what kind it is, and the operation carried.
//
// TargetIndex is meaningful only for Undo/Redo: it names the index,
// within this same log, of the request being reversed or re-applied.
// It is zero for a Do request.
type Request struct {
	User        uint32
	Index       uint64
	Vector      *vector.Vector
	Kind        Kind
	Operation   otop.Operation
	TargetIndex uint64
}

// Log is a single user's append-only request log. Indices are
// contiguous starting at 1; truncation (§4.5 garbage collection) may
// retire a contiguous prefix, after which the lowest retained index
// moves forward but remaining indices never renumber.
type Log struct {
	mu      sync.Mutex
	user    uint32
	base    uint64 // index of entries[0] minus one; 0 until anything is truncated
	entries []*Request
}

// NewLog returns an empty log for user.
func NewLog(user uint32) *Log {
	return &Log{user: user}
}

// NextIndex returns the index that Append will assign to the next
// request.
func (l *Log) NextIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextIndexLocked()
}

func (l *Log) nextIndexLocked() uint64 {
	return l.base + uint64(len(l.entries)) + 1
}

// OldestIndex returns the lowest index still retained in the log, or
// zero if the log is empty or has never been truncated and holds
// nothing yet.
func (l *Log) OldestIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.base + 1
}

// Append assigns the next contiguous index to a new request built
// from the given fields and stores it. For kind Undo or Redo,
// targetIndex must name a retained index in this same log; for
// KindDo it is ignored and forced to zero.
func (l *Log) Append(kind Kind, v *vector.Vector, op otop.Operation, targetIndex uint64) (*Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if kind != KindDo {
		if _, ok := l.getLocked(targetIndex); !ok {
			return nil, Error.New("user %d: target index %d for %s not retained in log", l.user, targetIndex, kind)
		}
	} else {
		targetIndex = 0
	}

	req := &Request{
		User:        l.user,
		Index:       l.nextIndexLocked(),
		Vector:      v,
		Kind:        kind,
		Operation:   op,
		TargetIndex: targetIndex,
	}
	l.entries = append(l.entries, req)
	return req, nil
}

// Get returns the request at index, if still retained.
func (l *Log) Get(index uint64) (*Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(index)
}

func (l *Log) getLocked(index uint64) (*Request, bool) {
	if index <= l.base || index > l.base+uint64(len(l.entries)) {
		return nil, false
	}
	return l.entries[index-l.base-1], true
}

// Slice returns the retained requests in [from, to), the half-open
// range of indices. Indices outside the retained window are silently
// clipped rather than treated as an error, since a caller asking for
// a window that has partly scrolled past the GC boundary is a normal
// occurrence, not a bug.
func (l *Log) Slice(from, to uint64) []*Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo := l.base + 1
	hi := l.base + uint64(len(l.entries)) + 1
	if from < lo {
		from = lo
	}
	if to > hi {
		to = hi
	}
	if from >= to {
		return nil
	}
	out := make([]*Request, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, l.entries[i-l.base-1])
	}
	return out
}

// NextAssociatedUndo returns, for a Do request, the nearest later
// Undo or Redo in this log whose TargetIndex names it. It reports
// false if req is not a Do request or no such later request is
// retained; entries already dropped by Truncate are not searched.
func (l *Log) NextAssociatedUndo(req *Request) (*Request, bool) {
	if req == nil || req.Kind != KindDo {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, cand := range l.entries {
		if cand.Index <= req.Index {
			continue
		}
		if cand.Kind != KindDo && cand.TargetIndex == req.Index {
			return cand, true
		}
	}
	return nil, false
}

// UpperRelated returns the greatest index j >= i such that the
// requests in [i, j] are still mutually dependent for rollback: an
// undo/redo stack only ever reverses its own most recent entry, so
// the dependency span is the contiguous run of later requests whose
// TargetIndex chains back, without gaps, into [i, j]. The result is
// used by GC to avoid truncating a do out from under an undo that
// would still need it.
func (l *Log) UpperRelated(i uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.getLocked(i); !ok {
		return 0, Error.New("user %d: index %d not retained", l.user, i)
	}

	j := i
	next := j + 1
	for {
		req, ok := l.getLocked(next)
		if !ok {
			break
		}
		if req.Kind == KindDo || req.TargetIndex < i || req.TargetIndex > j {
			break
		}
		j = next
		next++
	}
	return j, nil
}

// Truncate drops every retained entry with index strictly below
// belowIndex. Callers (the OT algorithm's GC pass) must first confirm
// no pending undo/redo still reaches into the dropped range, e.g. via
// UpperRelated.
func (l *Log) Truncate(belowIndex uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.base + 1
	if belowIndex <= oldest {
		return 0
	}
	drop := belowIndex - oldest
	if drop > uint64(len(l.entries)) {
		drop = uint64(len(l.entries))
	}
	l.entries = l.entries[drop:]
	l.base += drop
	return int(drop)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
