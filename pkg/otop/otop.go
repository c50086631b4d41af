// Package otop implements the tagged operation variants the
// operational-transformation algorithm transforms and applies:
// insert, delete, move-caret, split, and no-op. Each variant
// implements the transformation contract required by pkg/ot: the
// need-for-a-concurrency-id predicate, pairwise transform, buffer
// application, and (where possible) reversion.
package otop

import (
	"github.com/zeebo/errs"

	"github.com/dreamware/infdserver/pkg/textchunk"
)

// Error is the class for operation errors (out-of-bounds, non-reversible).
var Error = errs.Class("otop")

// Kind tags the concrete variant of an Operation.
type Kind int

// The closed set of operation kinds.
const (
	KindNoOp Kind = iota
	KindInsert
	KindDelete
	KindMoveCaret
	KindSplit
)

// ConcurrencyID breaks ties between two operations concurrently
// affecting the same buffer position. It is resolved by the caller
// (the OT algorithm) from the two operations' authors, never by the
// operation itself — see ResolveConcurrencyID.
type ConcurrencyID int

// The three concurrency-id values.
const (
	ConcurrencyNone ConcurrencyID = iota
	ConcurrencySelf
	ConcurrencyOther
)

// ResolveConcurrencyID implements the tie-break rule of the spec: the
// author with the lower numeric id wins, and "winning" means the
// *other* operand is treated as having happened first (so self must
// be the one that defers / shifts). This choice is identical on
// every participating site because it depends only on the two
// author ids, not on arrival order.
func ResolveConcurrencyID(selfAuthor, otherAuthor uint32) ConcurrencyID {
	switch {
	case otherAuthor < selfAuthor:
		return ConcurrencyOther
	case selfAuthor < otherAuthor:
		return ConcurrencySelf
	default:
		return ConcurrencyNone
	}
}

// Operation is implemented by every operation variant.
type Operation interface {
	Kind() Kind

	// NeedsConcurrencyID reports whether transforming this operation
	// against other requires a tie-break (only true for same-position
	// concurrent inserts).
	NeedsConcurrencyID(other Operation) bool

	// Transform returns the operation that has the same effect as
	// applying this operation after other has already been applied.
	// selfLCS/otherLCS (the "least common state" chunks) are accepted
	// for symmetry with the contract but only consulted by variants
	// that need buffer content to disambiguate (none currently do;
	// they are threaded through for forward compatibility with
	// richer transforms such as word-level merge).
	Transform(other Operation, selfLCS, otherLCS *textchunk.Chunk, cid ConcurrencyID) (Operation, error)

	// Apply applies the operation to buf on behalf of author and
	// returns the concrete, fully-payloaded form of the operation
	// (capturing any content read from the buffer) so it can be
	// logged and, if reversible, later undone.
	Apply(buf *textchunk.Chunk, author uint32) (Operation, error)

	// Reversible reports whether Revert can produce an inverse.
	Reversible() bool

	// Revert returns an operation that undoes this one. It is only
	// valid to call when Reversible returns true.
	Revert() (Operation, error)
}

// adjustPos computes where a character position ends up once a
// deletion of length delLen starting at delPos has been applied: ...
func adjustPos(pos, delPos, delLen int) int {
	switch {
	case pos <= delPos:
		return pos
	case pos >= delPos+delLen:
		return pos - delLen
	default:
		return delPos
	}
}

// shiftForInsert computes where a position ends up once an insertion
// of length insLen at insPos has been applied, with ties (pos ==
// insPos) resolved by the caller via goesFirst.
func shiftForInsert(pos, insPos, insLen int, posGoesFirst bool) int {
	switch {
	case pos < insPos:
		return pos
	case pos > insPos:
		return pos + insLen
	default:
		if posGoesFirst {
			return pos
		}
		return pos + insLen
	}
}

// Insert inserts Length characters of Payload at Pos. Payload is
// optional: a stripped insert (Payload == nil) can still be
// transformed, but cannot be reverted.
type Insert struct {
	Pos     int
	Length  int
	Payload *textchunk.Chunk
}

// NewInsert returns an Insert operation carrying text as its payload.
func NewInsert(pos int, text string, author uint32) *Insert {
	return &Insert{Pos: pos, Length: len([]rune(text)), Payload: textchunk.NewWithText(text, author)}
}

// Kind implements Operation.
func (op *Insert) Kind() Kind { return KindInsert }

// NeedsConcurrencyID implements Operation.
func (op *Insert) NeedsConcurrencyID(other Operation) bool {
	o, ok := other.(*Insert)
	return ok && o.Pos == op.Pos
}

// Transform implements Operation.
func (op *Insert) Transform(other Operation, _, _ *textchunk.Chunk, cid ConcurrencyID) (Operation, error) {
	switch o := other.(type) {
	case *Insert:
		goesFirst := cid == ConcurrencySelf
		return &Insert{Pos: shiftForInsert(op.Pos, o.Pos, o.Length, goesFirst), Length: op.Length, Payload: op.Payload}, nil
	case *Delete:
		return &Insert{Pos: adjustPos(op.Pos, o.Pos, o.Length), Length: op.Length, Payload: op.Payload}, nil
	case *MoveCaret:
		return op, nil
	case *NoOp:
		return op, nil
	case *Split:
		return transformAgainstSplit(op, o)
	default:
		return nil, Error.New("unknown operation type %T", other)
	}
}

// Apply implements Operation.
func (op *Insert) Apply(buf *textchunk.Chunk, author uint32) (Operation, error) {
	if op.Payload == nil {
		return nil, Error.New("insert at %d has no payload to apply", op.Pos)
	}
	text := op.Payload.String()
	if err := buf.Insert(op.Pos, text, author); err != nil {
		return nil, Error.Wrap(err)
	}
	return op, nil
}

// Reversible implements Operation.
func (op *Insert) Reversible() bool { return op.Payload != nil }

// Revert implements Operation.
func (op *Insert) Revert() (Operation, error) {
	if !op.Reversible() {
		return nil, Error.New("insert at %d is not reversible: no payload", op.Pos)
	}
	return &Delete{Pos: op.Pos, Length: op.Length, Payload: op.Payload}, nil
}

// Delete removes Length characters starting at Pos. Payload is
// required for the operation to be reversible; Apply populates it
// from the buffer when missing, which is always the case once a
// Delete has actually been applied somewhere.
type Delete struct {
	Pos     int
	Length  int
	Payload *textchunk.Chunk
}

// NewDelete returns a Delete operation with no payload yet.
func NewDelete(pos, length int) *Delete {
	return &Delete{Pos: pos, Length: length}
}

// Kind implements Operation.
func (op *Delete) Kind() Kind { return KindDelete }

// NeedsConcurrencyID implements Operation.
func (op *Delete) NeedsConcurrencyID(Operation) bool { return false }

func (op *Delete) slicePayload(from, to int) *textchunk.Chunk {
	if op.Payload == nil {
		return nil
	}
	sl, err := op.Payload.Slice(from-op.Pos, to-from)
	if err != nil {
		return nil
	}
	return sl
}

// concatPayload joins two (possibly nil) slices taken from the same
// Delete's payload back into one chunk. Either slice is nil only when
// the Delete being transformed has no payload at all, in which case
// the result stays unreified too.
func concatPayload(a, b *textchunk.Chunk) *textchunk.Chunk {
	if a == nil || b == nil {
		return nil
	}
	return textchunk.Concat(a, b)
}

// Transform implements Operation.
func (op *Delete) Transform(other Operation, _, _ *textchunk.Chunk, _ ConcurrencyID) (Operation, error) {
	switch o := other.(type) {
	case *Insert:
		start, end := op.Pos, op.Pos+op.Length
		switch {
		case o.Pos <= start:
			return &Delete{Pos: start + o.Length, Length: op.Length, Payload: op.Payload}, nil
		case o.Pos >= end:
			return &Delete{Pos: start, Length: op.Length, Payload: op.Payload}, nil
		default:
			firstLen := o.Pos - start
			secondLen := end - o.Pos
			first := &Delete{Pos: start, Length: firstLen, Payload: op.slicePayload(start, o.Pos)}
			// Split applies A before B, so B's position is taken after
			// first has already removed its firstLen characters.
			second := &Delete{Pos: o.Pos + o.Length - firstLen, Length: secondLen, Payload: op.slicePayload(o.Pos, end)}
			return &Split{A: first, B: second}, nil
		}
	case *Delete:
		start, end := op.Pos, op.Pos+op.Length
		otherStart, otherEnd := o.Pos, o.Pos+o.Length
		switch {
		case otherEnd <= start:
			// other lies entirely before self: shift left, payload untouched.
			return &Delete{Pos: start - o.Length, Length: op.Length, Payload: op.Payload}, nil
		case otherStart >= end:
			// other lies entirely after self: no shift, payload untouched.
			return &Delete{Pos: start, Length: op.Length, Payload: op.Payload}, nil
		case otherStart <= start && otherEnd >= end:
			// other fully consumes self's range.
			return &NoOp{}, nil
		case otherStart <= start:
			// other overlaps self's left edge; the surviving tail is
			// [otherEnd,end), collapsed down to otherStart.
			return &Delete{Pos: otherStart, Length: end - otherEnd, Payload: op.slicePayload(otherEnd, end)}, nil
		case otherEnd >= end:
			// other overlaps self's right edge; the surviving head is
			// [start,otherStart), which doesn't move.
			return &Delete{Pos: start, Length: otherStart - start, Payload: op.slicePayload(start, otherStart)}, nil
		default:
			// other is properly nested inside self with margin on both
			// sides: the surviving payload is the concatenation of the
			// untouched head and tail, not a single contiguous slice.
			payload := concatPayload(op.slicePayload(start, otherStart), op.slicePayload(otherEnd, end))
			return &Delete{Pos: start, Length: op.Length - o.Length, Payload: payload}, nil
		}
	case *MoveCaret:
		return op, nil
	case *NoOp:
		return op, nil
	case *Split:
		return transformAgainstSplit(op, o)
	default:
		return nil, Error.New("unknown operation type %T", other)
	}
}

// Apply implements Operation.
func (op *Delete) Apply(buf *textchunk.Chunk, author uint32) (Operation, error) {
	payload := op.Payload
	if payload == nil {
		sl, err := buf.Slice(op.Pos, op.Length)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		payload = sl
	}
	if err := buf.Erase(op.Pos, op.Length); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Delete{Pos: op.Pos, Length: op.Length, Payload: payload}, nil
}

// Reversible implements Operation.
func (op *Delete) Reversible() bool { return op.Payload != nil }

// Revert implements Operation.
func (op *Delete) Revert() (Operation, error) {
	if !op.Reversible() {
		return nil, Error.New("delete at %d is not reversible: no payload", op.Pos)
	}
	return &Insert{Pos: op.Pos, Length: op.Length, Payload: op.Payload}, nil
}

// MoveCaret repositions a user's caret. It never mutates the buffer
// and never blocks a transform.
type MoveCaret struct {
	Pos int
}

// Kind implements Operation.
func (op *MoveCaret) Kind() Kind { return KindMoveCaret }

// NeedsConcurrencyID implements Operation.
func (op *MoveCaret) NeedsConcurrencyID(Operation) bool { return false }

// Transform implements Operation.
func (op *MoveCaret) Transform(other Operation, _, _ *textchunk.Chunk, _ ConcurrencyID) (Operation, error) {
	switch o := other.(type) {
	case *Insert:
		return &MoveCaret{Pos: shiftForInsert(op.Pos, o.Pos, o.Length, false)}, nil
	case *Delete:
		return &MoveCaret{Pos: adjustPos(op.Pos, o.Pos, o.Length)}, nil
	case *MoveCaret, *NoOp:
		return op, nil
	case *Split:
		return transformAgainstSplit(op, o)
	default:
		return nil, Error.New("unknown operation type %T", other)
	}
}

// Apply implements Operation. MoveCaret never touches the buffer.
func (op *MoveCaret) Apply(*textchunk.Chunk, uint32) (Operation, error) { return op, nil }

// Reversible implements Operation; a caret move carries no undo.
func (op *MoveCaret) Reversible() bool { return false }

// Revert implements Operation.
func (op *MoveCaret) Revert() (Operation, error) {
	return nil, Error.New("move-caret is not reversible")
}

// NoOp does nothing. It results from transformations that collapse,
// such as a delete whose range is fully consumed by a concurrent
// delete.
type NoOp struct{}

// Kind implements Operation.
func (op *NoOp) Kind() Kind { return KindNoOp }

// NeedsConcurrencyID implements Operation.
func (op *NoOp) NeedsConcurrencyID(Operation) bool { return false }

// Transform implements Operation.
func (op *NoOp) Transform(Operation, *textchunk.Chunk, *textchunk.Chunk, ConcurrencyID) (Operation, error) {
	return op, nil
}

// Apply implements Operation.
func (op *NoOp) Apply(*textchunk.Chunk, uint32) (Operation, error) { return op, nil }

// Reversible implements Operation.
func (op *NoOp) Reversible() bool { return true }

// Revert implements Operation.
func (op *NoOp) Revert() (Operation, error) { return &NoOp{}, nil }

// Split pairs two operations that must be applied together and
// transform as a unit; it arises when a delete's range is broken in
// two by a concurrent insert landing inside it.
type Split struct {
	A, B Operation
}

// Kind implements Operation.
func (op *Split) Kind() Kind { return KindSplit }

// NeedsConcurrencyID implements Operation.
func (op *Split) NeedsConcurrencyID(other Operation) bool {
	return op.A.NeedsConcurrencyID(other) || op.B.NeedsConcurrencyID(other)
}

// Transform implements Operation.
func (op *Split) Transform(other Operation, selfLCS, otherLCS *textchunk.Chunk, cid ConcurrencyID) (Operation, error) {
	a, err := op.A.Transform(other, selfLCS, otherLCS, cid)
	if err != nil {
		return nil, err
	}
	b, err := op.B.Transform(other, selfLCS, otherLCS, cid)
	if err != nil {
		return nil, err
	}
	return &Split{A: a, B: b}, nil
}

// Apply implements Operation, applying A then B in order.
func (op *Split) Apply(buf *textchunk.Chunk, author uint32) (Operation, error) {
	a, err := op.A.Apply(buf, author)
	if err != nil {
		return nil, err
	}
	b, err := op.B.Apply(buf, author)
	if err != nil {
		return nil, err
	}
	return &Split{A: a, B: b}, nil
}

// Reversible implements Operation.
func (op *Split) Reversible() bool { return op.A.Reversible() && op.B.Reversible() }

// Revert implements Operation, undoing B then A (the reverse of
// application order).
func (op *Split) Revert() (Operation, error) {
	b, err := op.B.Revert()
	if err != nil {
		return nil, err
	}
	a, err := op.A.Revert()
	if err != nil {
		return nil, err
	}
	return &Split{A: b, B: a}, nil
}

// transformAgainstSplit transforms op against a Split{A,B} other by
// transforming sequentially against A, then against B — the Split
// behaves as the composition of its two parts in application order.
func transformAgainstSplit(op Operation, other *Split) (Operation, error) {
	step, err := op.Transform(other.A, nil, nil, ConcurrencyNone)
	if err != nil {
		return nil, err
	}
	return step.Transform(other.B, nil, nil, ConcurrencyNone)
}
