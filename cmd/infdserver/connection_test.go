package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/acl"
	"github.com/dreamware/infdserver/pkg/directory"
	"github.com/dreamware/infdserver/pkg/otop"
	"github.com/dreamware/infdserver/pkg/request"
	"github.com/dreamware/infdserver/pkg/storage"
	"github.com/dreamware/infdserver/pkg/vector"
	"github.com/dreamware/infdserver/pkg/xmlproto"
)

// fakeNetConn discards writes into a buffer rather than a real
// socket, so a handler's replies can be inspected synchronously
// without a concurrent reader draining a pipe.
type fakeNetConn struct {
	net.Conn
	written []byte
}

func (f *fakeNetConn) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeNetConn) RemoteAddr() net.Addr { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

func newTestConn(account acl.AccountID) (*clientConn, *fakeNetConn) {
	nc := &fakeNetConn{}
	return &clientConn{
		netConn:  nc,
		logger:   zap.NewNop(),
		account:  account,
		bindings: make(map[directory.NodeID]*connBinding),
	}, nc
}

// readFragments decodes every complete fragment written so far.
func readFragments(t *testing.T, nc *fakeNetConn) []*xmlproto.Fragment {
	t.Helper()
	p := xmlproto.NewStreamParser()
	p.Feed(nc.written)
	var frags []*xmlproto.Fragment
	for {
		frag, ok, err := p.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		frags = append(frags, frag)
	}
	return frags
}

// TestSubscribeSessionStreamsSyncSequence seeds spec.md's scenario 4:
// a document already holding content (written by an earlier
// participant) streams sync-begin, one sync-chunk per authored run,
// then sync-end to the next subscriber — no synthetic request.
func TestSubscribeSessionStreamsSyncSequence(t *testing.T) {
	dir := directory.New(storage.NewMemory(), directory.WithLogger(zap.NewNop()))
	doc, err := dir.AddDocument(directory.RootID, "b.txt", "text/plain", acl.DefaultAccount)
	require.NoError(t, err)

	srv := &Server{logger: zap.NewNop(), dir: dir}

	aliceConn, _ := newTestConn("alice")
	srv.handleSubscribeSession(aliceConn, encodeFragment(t, &xmlproto.SubscribeSession{Node: uint32(doc.ID)}))
	aliceBinding := aliceConn.bindings[doc.ID]
	require.NotNil(t, aliceBinding)

	op := otop.NewInsert(0, "hello", aliceBinding.user.ID)
	reqMsg, err := xmlproto.RequestFromOperation(aliceBinding.user.ID, vector.New(), request.KindDo, op)
	require.NoError(t, err)
	srv.handleRequest(aliceConn, encodeFragment(t, reqMsg))

	bobConn, bobNC := newTestConn("bob")
	srv.handleSubscribeSession(bobConn, encodeFragment(t, &xmlproto.SubscribeSession{Node: uint32(doc.ID)}))

	frags := readFragments(t, bobNC)
	require.Len(t, frags, 4, "expected user-join, sync-begin, one sync-chunk, sync-end")

	assert.Equal(t, "user-join", frags[0].Name)

	var begin xmlproto.SyncBegin
	require.NoError(t, frags[1].Decode(&begin))
	assert.Equal(t, "sync-begin", frags[1].Name)
	assert.Equal(t, 1, begin.Total)

	var chunk xmlproto.SyncChunk
	require.NoError(t, frags[2].Decode(&chunk))
	assert.Equal(t, "sync-chunk", frags[2].Name)
	assert.Equal(t, aliceBinding.user.ID, chunk.Author)
	assert.Equal(t, "hello", chunk.Text)

	assert.Equal(t, "sync-end", frags[3].Name)
}

// TestSubscribeSessionEmptyDocumentSyncsZeroChunks covers the total=0
// edge of the same sequence: a freshly created document has no
// authored runs yet.
func TestSubscribeSessionEmptyDocumentSyncsZeroChunks(t *testing.T) {
	dir := directory.New(storage.NewMemory(), directory.WithLogger(zap.NewNop()))
	doc, err := dir.AddDocument(directory.RootID, "empty.txt", "text/plain", acl.DefaultAccount)
	require.NoError(t, err)

	srv := &Server{logger: zap.NewNop(), dir: dir}
	conn, nc := newTestConn(acl.DefaultAccount)
	srv.handleSubscribeSession(conn, encodeFragment(t, &xmlproto.SubscribeSession{Node: uint32(doc.ID)}))

	frags := readFragments(t, nc)
	require.Len(t, frags, 3, "expected user-join, sync-begin, sync-end; no chunks")
	assert.Equal(t, "sync-begin", frags[1].Name)
	var begin xmlproto.SyncBegin
	require.NoError(t, frags[1].Decode(&begin))
	assert.Equal(t, 0, begin.Total)
	assert.Equal(t, "sync-end", frags[2].Name)
}

func encodeFragment(t *testing.T, v interface{}) *xmlproto.Fragment {
	t.Helper()
	raw, err := xmlproto.Encode(v)
	require.NoError(t, err)
	p := xmlproto.NewStreamParser()
	p.Feed(raw)
	frag, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	return frag
}
