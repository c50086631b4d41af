package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/pkg/errcode"
	"github.com/dreamware/infdserver/pkg/ot"
	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/request"
	"github.com/dreamware/infdserver/pkg/session"
	"github.com/dreamware/infdserver/pkg/textchunk"
	"github.com/dreamware/infdserver/pkg/vector"
)

type fakeConn struct {
	events []any
}

func (f *fakeConn) Deliver(event any) error {
	f.events = append(f.events, event)
	return nil
}

func newRunning(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(textchunk.New())
	s.MarkRunning()
	return s
}

func TestJoinUserAssignsIdsAndBroadcastsJoin(t *testing.T) {
	s := newRunning(t)
	connA := &fakeConn{}
	connB := &fakeConn{}

	a, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: connA})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.ID)

	b, err := s.JoinUser(session.JoinParams{Name: "bob", Conn: connB})
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.ID)

	require.Len(t, connA.events, 1)
	join, ok := connA.events[0].(session.UserJoinEvent)
	require.True(t, ok)
	assert.Equal(t, "bob", join.Name)
}

func TestJoinUserRejectsDuplicateName(t *testing.T) {
	s := newRunning(t)
	_, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.NoError(t, err)

	_, err = s.JoinUser(session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.UserNameInUse, e.Code)
}

func TestJoinUserRequiresRunningSession(t *testing.T) {
	s := session.New(textchunk.New())
	_, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.UserInvalidStatus, e.Code)
}

func TestReceiveQueuesUntilSynchronised(t *testing.T) {
	s := newRunning(t)
	conn := &fakeConn{}
	u, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: conn})
	require.NoError(t, err)

	req := ot.IncomingRequest{User: u.ID, Vector: vector.New(), Kind: request.KindDo, Operation: otop.NewInsert(0, "hi", u.ID)}
	local, err := s.Receive(u.ID, req, conn)
	require.NoError(t, err)
	assert.Nil(t, local)
	assert.Equal(t, "", s.Algorithm().Buffer().String())

	_, err = s.SynchroniseTo(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", s.Algorithm().Buffer().String())
}

func TestReceiveRejectsWrongConnection(t *testing.T) {
	s := newRunning(t)
	conn := &fakeConn{}
	u, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: conn})
	require.NoError(t, err)
	_, err = s.SynchroniseTo(u.ID)
	require.NoError(t, err)

	req := ot.IncomingRequest{User: u.ID, Vector: vector.New(), Kind: request.KindDo, Operation: otop.NewInsert(0, "x", u.ID)}
	_, err = s.Receive(u.ID, req, &fakeConn{})
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.UserNotJoinedByThisConnection, e.Code)
}

func TestReceiveForwardsToOtherParticipants(t *testing.T) {
	s := newRunning(t)
	connA, connB := &fakeConn{}, &fakeConn{}
	a, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: connA})
	require.NoError(t, err)
	_, err = s.SynchroniseTo(a.ID)
	require.NoError(t, err)

	b, err := s.JoinUser(session.JoinParams{Name: "bob", Conn: connB})
	require.NoError(t, err)
	_, err = s.SynchroniseTo(b.ID)
	require.NoError(t, err)
	connA.events = nil // drop the join-event noise

	req := ot.IncomingRequest{User: a.ID, Vector: s.Algorithm().Vector(), Kind: request.KindDo, Operation: otop.NewInsert(0, "hi", a.ID)}
	local, err := s.Receive(a.ID, req, connA)
	require.NoError(t, err)
	require.NotNil(t, local)

	require.Len(t, connB.events, 1)
	ev, ok := connB.events[0].(session.RequestEvent)
	require.True(t, ok)
	assert.Equal(t, local.Index, ev.Index)
	assert.Empty(t, connA.events)
}

func TestReceiveAppliesLineKeeperCorrectionAndBroadcastsIt(t *testing.T) {
	s := session.New(textchunk.New(), session.WithLineKeeper(otop.NewLineKeeper(1)))
	s.MarkRunning()
	connA, connB := &fakeConn{}, &fakeConn{}
	a, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: connA})
	require.NoError(t, err)
	_, err = s.SynchroniseTo(a.ID)
	require.NoError(t, err)
	b, err := s.JoinUser(session.JoinParams{Name: "bob", Conn: connB})
	require.NoError(t, err)
	_, err = s.SynchroniseTo(b.ID)
	require.NoError(t, err)
	connA.events, connB.events = nil, nil // drop join-event noise

	req := ot.IncomingRequest{User: a.ID, Vector: s.Algorithm().Vector(), Kind: request.KindDo, Operation: otop.NewInsert(0, "hi", a.ID)}
	_, err = s.Receive(a.ID, req, connA)
	require.NoError(t, err)

	assert.Equal(t, "hi\n", s.Algorithm().Buffer().String())

	// bob sees both the insert and the trailing-newline correction;
	// alice's own connection only sees the correction, since execute
	// never echoes a request back to its own author.
	require.Len(t, connB.events, 2)
	require.Len(t, connA.events, 1)
}

func TestReceiveDropsSubscriptionOnOTFailure(t *testing.T) {
	s := newRunning(t)
	conn := &fakeConn{}
	u, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: conn})
	require.NoError(t, err)
	_, err = s.SynchroniseTo(u.ID)
	require.NoError(t, err)

	future := vector.New()
	future.Set(99, 5)
	req := ot.IncomingRequest{User: u.ID, Vector: future, Kind: request.KindDo, Operation: otop.NewInsert(0, "x", u.ID)}
	_, err = s.Receive(u.ID, req, conn)
	require.Error(t, err)

	got, ok := s.User(u.ID)
	require.True(t, ok)
	assert.Equal(t, session.UserUnavailable, got.Lifecycle)
}

func TestLeaveUserMarksUnavailableAndNotifies(t *testing.T) {
	s := newRunning(t)
	connA, connB := &fakeConn{}, &fakeConn{}
	_, err := s.JoinUser(session.JoinParams{Name: "alice", Conn: connA})
	require.NoError(t, err)
	b, err := s.JoinUser(session.JoinParams{Name: "bob", Conn: connB})
	require.NoError(t, err)
	connA.events = nil

	require.NoError(t, s.LeaveUser(b.ID))
	got, ok := s.User(b.ID)
	require.True(t, ok)
	assert.Equal(t, session.UserUnavailable, got.Lifecycle)

	require.Len(t, connA.events, 1)
	_, ok = connA.events[0].(session.UserLeaveEvent)
	assert.True(t, ok)
}

func TestCloseMarksClosedAndPersists(t *testing.T) {
	var written string
	persister := persisterFunc(func(text string) error { written = text; return nil })
	s := session.New(textchunk.NewWithText("hello", 1), session.WithPersister(persister))
	s.MarkRunning()

	require.NoError(t, s.Close())
	assert.Equal(t, session.StatusClosed, s.Status())
	assert.Equal(t, "hello", written)
}

type persisterFunc func(text string) error

func (f persisterFunc) WriteSession(text string) error { return f(text) }
