// Package session implements per-document session state (§4.6): the
// join-user lifecycle, request intake feeding the OT engine,
// synchronisation of an existing session to a newly joining peer, and
// the central messaging method that gives every member's requests a
// total order.
package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/errcode"
	"github.com/dreamware/infdserver/pkg/ot"
	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/request"
	"github.com/dreamware/infdserver/pkg/textchunk"
)

// Status is the session's own lifecycle state, independent of any
// single peer's synchronisation progress.
type Status int

const (
	StatusPresync Status = iota
	StatusSynchronising
	StatusRunning
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusPresync:
		return "presync"
	case StatusSynchronising:
		return "synchronising"
	case StatusRunning:
		return "running"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lifecycle is a joined user's availability, independent of Status.
type Lifecycle int

const (
	UserActive Lifecycle = iota
	UserUnavailable
)

// Connection abstracts the transport a user is reached through. Its
// concrete wire encoding lives in pkg/xmlproto; Session only needs to
// hand it opaque event values to deliver.
type Connection interface {
	Deliver(event any) error
}

// User is a session participant: the transport connection, current
// lifecycle, and synchronisation state. The id is never reused once
// assigned, even after the user becomes unavailable, since it
// continues to appear in request logs and chunk authorship.
type User struct {
	ID            uint32
	Name          string
	Account       string
	Lifecycle     Lifecycle
	conn          Connection
	synchronising bool
	deferred      []ot.IncomingRequest
}

// JoinParams are the inputs to JoinUser.
type JoinParams struct {
	Name    string
	Account string
	Conn    Connection
}

// UserJoinEvent is delivered to every existing participant (and
// included ahead of the snapshot for a newly synchronising peer) when
// a user joins.
type UserJoinEvent struct {
	ID   uint32
	Name string
}

// UserLeaveEvent is delivered to every remaining participant when a
// user becomes unavailable.
type UserLeaveEvent struct {
	ID uint32
}

// RequestEvent is the forwarded, fully translated form of an admitted
// request, delivered to every participant other than its author.
type RequestEvent struct {
	*request.Request
}

// Snapshot is what SynchroniseTo streams to a newly joining peer.
type Snapshot struct {
	Text    string
	Vectors map[uint32]uint64
	Users   []UserJoinEvent
}

// Persister is the narrow slice of the storage contract (§6.3) a
// session needs for Close and autosave; the full contract lives in
// pkg/storage.
type Persister interface {
	WriteSession(text string) error
}

// Option configures a Session at construction time.
type Option func(*Session)

func WithLogger(l *zap.Logger) Option              { return func(s *Session) { s.logger = l } }
func WithOTOptions(opts ...ot.Option) Option       { return func(s *Session) { s.otOptions = opts } }
func WithAutosaveInterval(d time.Duration) Option  { return func(s *Session) { s.autosaveInterval = d } }
func WithPersister(p Persister) Option             { return func(s *Session) { s.persister = p } }

// WithLineKeeper installs a trailing-newline enforcer: after every
// successfully applied request, the buffer is checked against k and,
// if it drifts, a correcting insert or delete is executed and
// broadcast the same way as a user's own request (infinoted-plugin-
// linekeeper.c).
func WithLineKeeper(k *otop.LineKeeper) Option { return func(s *Session) { s.lineKeeper = k } }

// lineKeeperAuthor is the author id attached to a LineKeeper
// correction's operation. User ids are server-assigned starting at 1
// (§4.7), so 0 is never held by a joined user and is free to mark
// system-authored edits.
const lineKeeperAuthor uint32 = 0

// Session owns a buffer, its OT algorithm, the joined-user map, and
// the session's own lifecycle status.
type Session struct {
	status    Status
	algorithm *ot.Algorithm
	users     map[uint32]*User
	nextUser  uint32

	logger           *zap.Logger
	otOptions        []ot.Option
	autosaveInterval time.Duration
	persister        Persister
	lineKeeper       *otop.LineKeeper
}

// New returns a Session over buffer, initially StatusPresync.
func New(buffer *textchunk.Chunk, opts ...Option) *Session {
	s := &Session{
		status: StatusPresync,
		users:  make(map[uint32]*User),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.algorithm = ot.New(buffer, s.otOptions...)
	return s
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status { return s.status }

// MarkSynchronising transitions presync -> synchronising, e.g. while
// the session's own initial content is still being read from storage.
func (s *Session) MarkSynchronising() {
	if s.status == StatusPresync {
		s.status = StatusSynchronising
	}
}

// MarkRunning transitions presync or synchronising -> running.
func (s *Session) MarkRunning() {
	if s.status == StatusPresync || s.status == StatusSynchronising {
		s.status = StatusRunning
	}
}

// Algorithm exposes the underlying OT engine, e.g. for undo/redo
// request generation driven by the transport layer.
func (s *Session) Algorithm() *ot.Algorithm { return s.algorithm }

// User looks up a joined user by id.
func (s *Session) User(id uint32) (*User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// JoinUser allocates a new user id, enforces a unique name among
// active users, inserts a join record into every existing
// participant's stream, and marks the new user as still
// synchronising until SynchroniseTo completes for it.
func (s *Session) JoinUser(p JoinParams) (*User, error) {
	if s.status != StatusRunning {
		return nil, errcode.New(errcode.DomainUser, errcode.UserInvalidStatus, "session not running (status=%s)", s.status)
	}
	for _, existing := range s.users {
		if existing.Lifecycle == UserActive && existing.Name == p.Name {
			return nil, errcode.New(errcode.DomainUser, errcode.UserNameInUse, "name %q already in use", p.Name)
		}
	}

	s.nextUser++
	u := &User{
		ID:            s.nextUser,
		Name:          p.Name,
		Account:       p.Account,
		Lifecycle:     UserActive,
		conn:          p.Conn,
		synchronising: true,
	}
	s.users[u.ID] = u

	event := UserJoinEvent{ID: u.ID, Name: u.Name}
	for _, other := range s.users {
		if other.ID == u.ID || other.Lifecycle != UserActive || other.conn == nil {
			continue
		}
		if err := other.conn.Deliver(event); err != nil {
			s.logger.Warn("failed delivering join event", zap.Uint32("to", other.ID), zap.Error(err))
		}
	}
	return u, nil
}

// LeaveUser marks a joined user unavailable, whether from an explicit
// leave or a dropped connection, and notifies remaining participants.
// The user's id and log remain resolvable; it is never reassigned.
func (s *Session) LeaveUser(id uint32) error {
	u, ok := s.users[id]
	if !ok {
		return errcode.New(errcode.DomainUser, errcode.UserNoSuchUser, "no such user %d", id)
	}
	if u.Lifecycle == UserUnavailable {
		return nil
	}
	u.Lifecycle = UserUnavailable
	u.conn = nil

	event := UserLeaveEvent{ID: id}
	for _, other := range s.users {
		if other.ID == id || other.Lifecycle != UserActive || other.conn == nil {
			continue
		}
		if err := other.conn.Deliver(event); err != nil {
			s.logger.Warn("failed delivering leave event", zap.Uint32("to", other.ID), zap.Error(err))
		}
	}
	return nil
}

// Receive feeds req into the OT engine on behalf of the user it
// claims to be from, verifying that from is actually that user's
// registered connection. On success, the translated request is
// forwarded to every other active participant; on any OT-domain
// failure, the originating user's subscription is dropped, per the
// failure model in §4.5.
func (s *Session) Receive(userID uint32, req ot.IncomingRequest, from Connection) (*request.Request, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, errcode.New(errcode.DomainUser, errcode.UserNoSuchUser, "no such user %d", userID)
	}
	if u.Lifecycle != UserActive {
		return nil, errcode.New(errcode.DomainUser, errcode.UserInvalidStatus, "user %d is unavailable", userID)
	}
	if u.conn != from {
		return nil, errcode.New(errcode.DomainUser, errcode.UserNotJoinedByThisConnection, "user %d not joined by this connection", userID)
	}

	if u.synchronising {
		u.deferred = append(u.deferred, req)
		return nil, nil
	}

	return s.execute(u, req)
}

func (s *Session) execute(u *User, req ot.IncomingRequest) (*request.Request, error) {
	local, err := s.algorithm.Execute(req)
	if err != nil {
		if _, ok := errcode.As(err); ok {
			s.logger.Warn("dropping subscription after OT failure", zap.Uint32("user", u.ID), zap.Error(err))
			_ = s.LeaveUser(u.ID)
		}
		return nil, err
	}

	event := RequestEvent{local}
	for _, other := range s.users {
		if other.ID == u.ID || other.Lifecycle != UserActive || other.conn == nil {
			continue
		}
		if err := other.conn.Deliver(event); err != nil {
			s.logger.Warn("failed delivering request", zap.Uint32("to", other.ID), zap.Error(err))
		}
	}
	s.enforceLineKeeper()
	return local, nil
}

// enforceLineKeeper applies and broadcasts the configured trailing-
// newline correction, if any, the same way execute broadcasts a
// user's own request. A no-op when no LineKeeper is configured or the
// buffer already satisfies it.
func (s *Session) enforceLineKeeper() {
	if s.lineKeeper == nil {
		return
	}
	op := s.lineKeeper.Adjust(s.algorithm.Buffer().String(), lineKeeperAuthor)
	if op == nil {
		return
	}

	local, err := s.algorithm.Execute(ot.IncomingRequest{
		User:      lineKeeperAuthor,
		Vector:    s.algorithm.Vector(),
		Kind:      request.KindDo,
		Operation: op,
	})
	if err != nil {
		s.logger.Warn("linekeeper correction failed", zap.Error(err))
		return
	}

	event := RequestEvent{local}
	for _, other := range s.users {
		if other.Lifecycle != UserActive || other.conn == nil {
			continue
		}
		if err := other.conn.Deliver(event); err != nil {
			s.logger.Warn("failed delivering linekeeper correction", zap.Uint32("to", other.ID), zap.Error(err))
		}
	}
}

// SynchroniseTo produces the initial snapshot for a newly joined user
// and flushes any requests that arrived from it while synchronising.
func (s *Session) SynchroniseTo(userID uint32) (*Snapshot, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, errcode.New(errcode.DomainUser, errcode.UserNoSuchUser, "no such user %d", userID)
	}

	vectors := make(map[uint32]uint64)
	users := make([]UserJoinEvent, 0, len(s.users))
	v := s.algorithm.Vector()
	for _, id := range v.Ids() {
		vectors[id] = v.Get(id)
	}
	for _, other := range s.users {
		if other.Lifecycle == UserActive {
			users = append(users, UserJoinEvent{ID: other.ID, Name: other.Name})
		}
	}

	snap := &Snapshot{
		Text:    s.algorithm.Buffer().String(),
		Vectors: vectors,
		Users:   users,
	}

	u.synchronising = false
	deferred := u.deferred
	u.deferred = nil
	for _, req := range deferred {
		if _, err := s.execute(u, req); err != nil {
			s.logger.Warn("deferred request failed after synchronisation", zap.Uint32("user", u.ID), zap.Error(err))
			break
		}
	}
	return snap, nil
}

// Close marks the session closed, drops every live subscription, and
// triggers persistence of the final buffer if a Persister is set.
func (s *Session) Close() error {
	s.status = StatusClosed
	for _, u := range s.users {
		u.conn = nil
		u.Lifecycle = UserUnavailable
	}
	if s.persister != nil {
		return s.persister.WriteSession(s.algorithm.Buffer().String())
	}
	return nil
}

// Autosave triggers persistence of the current buffer without closing
// the session, intended to be invoked by the event loop on a timer
// when AutosaveInterval is positive.
func (s *Session) Autosave() error {
	if s.persister == nil || s.autosaveInterval <= 0 {
		return nil
	}
	return s.persister.WriteSession(s.algorithm.Buffer().String())
}

// AutosaveInterval reports the configured autosave period, or zero if
// autosave is disabled.
func (s *Session) AutosaveInterval() time.Duration { return s.autosaveInterval }
