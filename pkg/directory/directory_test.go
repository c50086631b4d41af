package directory_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/pkg/acl"
	"github.com/dreamware/infdserver/pkg/directory"
	"github.com/dreamware/infdserver/pkg/errcode"
	"github.com/dreamware/infdserver/pkg/metrics"
	"github.com/dreamware/infdserver/pkg/session"
	"github.com/dreamware/infdserver/pkg/storage"
)

type fakeConn struct{ events []any }

func (f *fakeConn) Deliver(event any) error { f.events = append(f.events, event); return nil }

func TestAddSubdirectoryAndDocument(t *testing.T) {
	d := directory.New(storage.NewMemory())

	sub, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, "docs", sub.Name)

	doc, err := d.AddDocument(sub.ID, "notes.txt", "InfText", acl.DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, directory.KindLeaf, doc.Kind)
}

func TestAddSubdirectoryRejectsDuplicateName(t *testing.T) {
	d := directory.New(storage.NewMemory())
	_, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)

	_, err = d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.DirectoryNodeExists, e.Code)
}

func TestAddChildRejectsInvalidName(t *testing.T) {
	d := directory.New(storage.NewMemory())
	_, err := d.AddSubdirectory(directory.RootID, "a/b", acl.DefaultAccount)
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.DirectoryInvalidName, e.Code)
}

func TestAddChildUnderLeafFails(t *testing.T) {
	d := directory.New(storage.NewMemory())
	doc, err := d.AddDocument(directory.RootID, "leaf.txt", "InfText", acl.DefaultAccount)
	require.NoError(t, err)

	_, err = d.AddSubdirectory(doc.ID, "sub", acl.DefaultAccount)
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.DirectoryNotSubdirectory, e.Code)
}

func TestRemoveNodeRefusesRoot(t *testing.T) {
	d := directory.New(storage.NewMemory())
	err := d.RemoveNode(directory.RootID, acl.DefaultAccount)
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.DirectoryRootRemoveAttempt, e.Code)
}

func TestRemoveNodeRetiresIDPermanently(t *testing.T) {
	d := directory.New(storage.NewMemory())
	sub, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)

	require.NoError(t, d.RemoveNode(sub.ID, acl.DefaultAccount))
	_, ok := d.Node(sub.ID)
	assert.False(t, ok)

	again, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)
	assert.NotEqual(t, sub.ID, again.ID, "node ids must never be reused")
}

func TestRemoveNodeClosesHostedSession(t *testing.T) {
	d := directory.New(storage.NewMemory())
	doc, err := d.AddDocument(directory.RootID, "leaf.txt", "InfText", acl.DefaultAccount)
	require.NoError(t, err)

	sess, _, err := d.SubscribeSession(doc.ID, acl.DefaultAccount, session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.NoError(t, err)
	require.NotNil(t, sess)

	require.NoError(t, d.RemoveNode(doc.ID, acl.DefaultAccount))
	assert.Equal(t, session.StatusClosed, sess.Status())
}

func TestSubscribeSessionReusesLoadedSession(t *testing.T) {
	d := directory.New(storage.NewMemory())
	doc, err := d.AddDocument(directory.RootID, "leaf.txt", "InfText", acl.DefaultAccount)
	require.NoError(t, err)

	s1, _, err := d.SubscribeSession(doc.ID, acl.DefaultAccount, session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.NoError(t, err)
	s2, _, err := d.SubscribeSession(doc.ID, acl.DefaultAccount, session.JoinParams{Name: "bob", Conn: &fakeConn{}})
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestSubscribeSessionOnSubdirectoryFails(t *testing.T) {
	d := directory.New(storage.NewMemory())
	_, _, err := d.SubscribeSession(directory.RootID, acl.DefaultAccount, session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.DirectoryNotLeaf, e.Code)
}

func TestACLDeniesWithoutPermission(t *testing.T) {
	d := directory.New(storage.NewMemory())
	sub, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)

	denySheets := acl.NewSheetSet()
	deny := denySheets.AddSheet(acl.DefaultAccount)
	deny.Mask.Set(acl.PermAddDocument)
	// perms left false: explicitly denies add-document for default.
	require.NoError(t, d.SetACL(sub.ID, acl.DefaultAccount, denySheets))

	before := testutil.ToFloat64(metrics.ACLDenials)
	_, err = d.AddDocument(sub.ID, "x.txt", "InfText", acl.DefaultAccount)
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.AuthNotAuthorised, e.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ACLDenials))
}

func TestSetACLRequiresPermissionAtNode(t *testing.T) {
	d := directory.New(storage.NewMemory())
	sub, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)

	lockSheets := acl.NewSheetSet()
	lock := lockSheets.AddSheet(acl.DefaultAccount)
	lock.Mask.Set(acl.PermSetACL)
	require.NoError(t, d.SetACL(sub.ID, acl.DefaultAccount, lockSheets))

	err = d.SetACL(sub.ID, acl.DefaultAccount, acl.NewSheetSet())
	require.Error(t, err)
}

func TestQueryAccountListPagesInStableOrder(t *testing.T) {
	d := directory.New(storage.NewMemory())
	_, err := d.AddAccount("alice", acl.DefaultAccount)
	require.NoError(t, err)
	_, err = d.AddAccount("bob", acl.DefaultAccount)
	require.NoError(t, err)

	pages, err := d.QueryAccountList(acl.DefaultAccount)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[0].Total)
	assert.Equal(t, 1, pages[0].Current)
	assert.Equal(t, 2, pages[1].Current)
}

func TestRemoveAccountDropsFromTable(t *testing.T) {
	d := directory.New(storage.NewMemory())
	a, err := d.AddAccount("alice", acl.DefaultAccount)
	require.NoError(t, err)

	require.NoError(t, d.RemoveAccount(a.ID, acl.DefaultAccount))
	pages, err := d.QueryAccountList(acl.DefaultAccount)
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestExploreReadsFromStorageAndRejectsRepeat(t *testing.T) {
	backend := storage.NewMemory()
	d := directory.New(backend)

	sub, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)
	// A previous process created a child under "docs" directly in
	// storage; this process has not yet explored "docs" to learn
	// about it.
	require.NoError(t, backend.CreateSubdirectory("docs/archive"))
	sub.Explored = false

	children, err := d.Explore(sub.ID, acl.DefaultAccount)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "archive", children[0].Name)

	_, err = d.Explore(sub.ID, acl.DefaultAccount)
	require.Error(t, err)
	e, ok := errcode.As(err)
	require.True(t, ok)
	assert.Equal(t, errcode.DirectoryAlreadyExplored, e.Code)
}

func TestAutosaveAllFlushesEveryHostedSession(t *testing.T) {
	backend := storage.NewMemory()
	d := directory.New(backend)
	doc, err := d.AddDocument(directory.RootID, "notes.txt", "text/plain", acl.DefaultAccount)
	require.NoError(t, err)

	_, _, err = d.SubscribeSession(doc.ID, acl.DefaultAccount, session.JoinParams{Name: "alice", Conn: &fakeConn{}})
	require.NoError(t, err)

	// AutosaveAll is a no-op unless the session was constructed with
	// an autosave interval, but it must still run without error over
	// every hosted session.
	d.AutosaveAll()
}

func TestNodeCountReflectsTreeMutations(t *testing.T) {
	d := directory.New(storage.NewMemory())
	assert.Equal(t, 1, d.NodeCount())

	sub, err := d.AddSubdirectory(directory.RootID, "docs", acl.DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, 2, d.NodeCount())

	require.NoError(t, d.RemoveNode(sub.ID, acl.DefaultAccount))
	assert.Equal(t, 1, d.NodeCount())
}
