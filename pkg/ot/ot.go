// Package ot implements the operational transformation algorithm
// (§4.5): translating an incoming request into the local state by
// transforming its operation against every intervening request in
// causal order, applying it to the buffer, and maintaining the
// per-user undo/redo stacks and request-log garbage collection.
package ot

import (
	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/errcode"
	"github.com/dreamware/infdserver/pkg/metrics"
	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/request"
	"github.com/dreamware/infdserver/pkg/textchunk"
	"github.com/dreamware/infdserver/pkg/vector"
)

// IncomingRequest is a request.Request before it has been admitted
// into the algorithm's own logs: the operation is still expressed in
// the coordinate space of the issuer's vector, not the local state's.
type IncomingRequest struct {
	User        uint32
	Vector      *vector.Vector
	Kind        request.Kind
	Operation   otop.Operation
	TargetIndex uint64
}

// CheckFunc may veto a translation step given the vector the request
// was issued at and the algorithm's current vector. A non-nil error
// aborts the request with that error.
type CheckFunc func(issued, current *vector.Vector) error

// NewVdiffLimiter returns a CheckFunc that refuses any request whose
// issuing vector has drifted more than max from the current vector,
// the default implementation of the translation-protection limit.
func NewVdiffLimiter(max uint64) CheckFunc {
	return func(issued, current *vector.Vector) error {
		if d := issued.Vdiff(current); d > max {
			return errcode.New(errcode.DomainOT, errcode.OTTransformationLimitExceeded,
				"vdiff %d exceeds limit %d (issued=%s current=%s)", d, max, issued, current)
		}
		return nil
	}
}

// OldestVectorFunc reports the vector of the least caught-up live
// participant, used to bound garbage collection. A nil result, or a
// nil OldestVectorFunc, means "assume everyone is caught up".
type OldestVectorFunc func() *vector.Vector

// Option configures an Algorithm at construction time.
type Option func(*Algorithm)

// WithMaxTotalLogSize bounds how far a user's log may grow past the
// oldest live participant's vector before garbage collection trims it.
func WithMaxTotalLogSize(n uint64) Option {
	return func(a *Algorithm) { a.maxTotalLogSize = n }
}

// WithCheckRequest installs the translation-veto hook.
func WithCheckRequest(fn CheckFunc) Option {
	return func(a *Algorithm) { a.checkRequest = fn }
}

// WithOldestParticipantVector installs the GC floor hook.
func WithOldestParticipantVector(fn OldestVectorFunc) Option {
	return func(a *Algorithm) { a.oldestVector = fn }
}

// WithLogger installs a zap logger used for the structured log line
// emitted on transformation-limit-exceeded.
func WithLogger(l *zap.Logger) Option {
	return func(a *Algorithm) { a.logger = l }
}

// Algorithm owns the canonical buffer, the per-user request logs, and
// the undo/redo stacks for a single session.
type Algorithm struct {
	buffer  *textchunk.Chunk
	global  *vector.Vector
	logs    map[uint32]*request.Log
	history []*request.Request

	canUndo map[uint32][]*request.Request
	canRedo map[uint32][]*request.Request

	maxTotalLogSize uint64
	checkRequest    CheckFunc
	oldestVector    OldestVectorFunc
	logger          *zap.Logger
}

// New returns an Algorithm over an already-initialized buffer.
func New(buffer *textchunk.Chunk, opts ...Option) *Algorithm {
	a := &Algorithm{
		buffer:          buffer,
		global:          vector.New(),
		logs:            make(map[uint32]*request.Log),
		canUndo:         make(map[uint32][]*request.Request),
		canRedo:         make(map[uint32][]*request.Request),
		maxTotalLogSize: ^uint64(0),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Buffer returns the canonical document buffer.
func (a *Algorithm) Buffer() *textchunk.Chunk { return a.buffer }

// Vector returns a copy of the algorithm's current global vector.
func (a *Algorithm) Vector() *vector.Vector { return a.global.Copy() }

// CanUndo reports whether user has a reversible do/redo left to undo.
func (a *Algorithm) CanUndo(user uint32) bool { return len(a.canUndo[user]) > 0 }

// CanRedo reports whether user has an undo left to redo.
func (a *Algorithm) CanRedo(user uint32) bool { return len(a.canRedo[user]) > 0 }

func (a *Algorithm) logFor(user uint32) *request.Log {
	l, ok := a.logs[user]
	if !ok {
		l = request.NewLog(user)
		a.logs[user] = l
	}
	return l
}

// Execute is the core procedure of §4.5: validate that req.Vector is
// causally reachable, translate req.Operation into the current state,
// apply it to the buffer, append it to req.User's log, and run a
// garbage collection pass. It returns the admitted, fully-translated
// request, or an *errcode.Error from the OT domain.
func (a *Algorithm) Execute(req IncomingRequest) (*request.Request, error) {
	if !req.Vector.CausallyLEQ(a.global) {
		return nil, errcode.New(errcode.DomainOT, errcode.OTVectorNotReachable,
			"request vector %s not reachable from current %s", req.Vector, a.global)
	}

	local, err := a.admit(req.User, req.Kind, req.Vector, req.Operation, req.TargetIndex)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case request.KindDo:
		if local.Operation.Reversible() {
			a.canUndo[req.User] = append(a.canUndo[req.User], local)
		}
		a.canRedo[req.User] = nil
	case request.KindUndo:
		popMatching(a.canUndo, req.User, req.TargetIndex)
		a.canRedo[req.User] = append(a.canRedo[req.User], local)
	case request.KindRedo:
		popMatching(a.canRedo, req.User, req.TargetIndex)
		a.canUndo[req.User] = append(a.canUndo[req.User], local)
	}

	a.gc()
	return local, nil
}

// admit performs the translate-apply-log sequence shared by Execute
// and the undo/redo generators, without any undo/redo bookkeeping.
func (a *Algorithm) admit(user uint32, kind request.Kind, issued *vector.Vector, op otop.Operation, target uint64) (*request.Request, error) {
	if a.checkRequest != nil {
		if err := a.checkRequest(issued, a.global); err != nil {
			metrics.TransformationLimitRefusals.Inc()
			a.logger.Warn("transformation limit exceeded",
				zap.Uint32("user", user), zap.Stringer("issued", issued), zap.Stringer("current", a.global))
			return nil, err
		}
	}

	translated, err := a.translate(issued.Copy(), op, user)
	if err != nil {
		return nil, err
	}

	concrete, err := translated.Apply(a.buffer, user)
	if err != nil {
		return nil, errcode.New(errcode.DomainOT, errcode.OTOperationOutOfBounds, "%v", err)
	}

	local, err := a.logFor(user).Append(kind, a.global.Copy(), concrete, target)
	if err != nil {
		return nil, errcode.New(errcode.DomainOT, errcode.OTOperationOutOfBounds, "%v", err)
	}
	a.global.Inc(user)
	a.history = append(a.history, local)
	return local, nil
}

// translate repeatedly transforms op against every request in history
// that issued has not yet seen, advancing issued as it goes. It
// terminates because every step advances issued's component for that
// request's author, and history is finite.
func (a *Algorithm) translate(issued *vector.Vector, op otop.Operation, author uint32) (otop.Operation, error) {
	for _, applied := range a.history {
		if applied.Index <= issued.Get(applied.User) {
			continue
		}
		cid := otop.ResolveConcurrencyID(author, applied.User)
		next, err := op.Transform(applied.Operation, nil, nil, cid)
		if err != nil {
			return nil, errcode.New(errcode.DomainOT, errcode.OTOperationOutOfBounds, "%v", err)
		}
		op = next
		issued.Set(applied.User, applied.Index)
	}
	return op, nil
}

func popMatching(stacks map[uint32][]*request.Request, user uint32, targetIndex uint64) {
	s := stacks[user]
	if len(s) == 0 {
		return
	}
	top := s[len(s)-1]
	if top.Index != targetIndex {
		return
	}
	stacks[user] = s[:len(s)-1]
}

// GenerateUndo builds the IncomingRequest for user's next undo: the
// inverse of the most recent reversible do/redo still on the stack,
// translated into the current state by Execute. It fails with
// undo-unavailable if the stack is empty or its target has been
// garbage-collected.
func (a *Algorithm) GenerateUndo(user uint32) (IncomingRequest, error) {
	return a.generateInverse(user, a.canUndo, request.KindUndo)
}

// GenerateRedo is GenerateUndo's mirror over the redo stack.
func (a *Algorithm) GenerateRedo(user uint32) (IncomingRequest, error) {
	return a.generateInverse(user, a.canRedo, request.KindRedo)
}

func (a *Algorithm) generateInverse(user uint32, stacks map[uint32][]*request.Request, kind request.Kind) (IncomingRequest, error) {
	s := stacks[user]
	if len(s) == 0 {
		return IncomingRequest{}, errcode.New(errcode.DomainOT, errcode.OTUndoUnavailable, "user %d: nothing to %s", user, kind)
	}
	target := s[len(s)-1]

	log := a.logFor(user)
	if _, ok := log.Get(target.Index); !ok {
		stacks[user] = s[:len(s)-1]
		return IncomingRequest{}, errcode.New(errcode.DomainOT, errcode.OTUndoUnavailable, "user %d: %s target %d garbage-collected", user, kind, target.Index)
	}

	inverse, err := target.Operation.Revert()
	if err != nil {
		return IncomingRequest{}, errcode.New(errcode.DomainOT, errcode.OTUndoUnavailable, "%v", err)
	}

	base := target.Vector.Copy()
	base.Set(user, target.Index)

	return IncomingRequest{
		User:        user,
		Vector:      base,
		Kind:        kind,
		Operation:   inverse,
		TargetIndex: target.Index,
	}, nil
}

// gc drops the prefix of each user's log that has fallen more than
// maxTotalLogSize behind the oldest live participant, stopping short
// of anything still referenced by a pending undo or redo.
func (a *Algorithm) gc() {
	floor := a.global
	if a.oldestVector != nil {
		if v := a.oldestVector(); v != nil {
			floor = v
		}
	}

	for user, log := range a.logs {
		keepFrom := uint64(1)
		if c := floor.Get(user); c > a.maxTotalLogSize {
			keepFrom = c - a.maxTotalLogSize + 1
		}
		if protect := a.oldestReferenced(user); protect != 0 && protect < keepFrom {
			keepFrom = protect
		}
		log.Truncate(keepFrom)
	}
}

func (a *Algorithm) oldestReferenced(user uint32) uint64 {
	var min uint64
	consider := func(idx uint64) {
		if idx != 0 && (min == 0 || idx < min) {
			min = idx
		}
	}
	for _, r := range a.canUndo[user] {
		consider(r.Index)
	}
	for _, r := range a.canRedo[user] {
		consider(r.Index)
	}
	return min
}
