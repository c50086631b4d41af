package main

import (
	"net"

	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/acl"
	"github.com/dreamware/infdserver/pkg/directory"
	"github.com/dreamware/infdserver/pkg/errcode"
	"github.com/dreamware/infdserver/pkg/metrics"
	"github.com/dreamware/infdserver/pkg/request"
	"github.com/dreamware/infdserver/pkg/session"
	"github.com/dreamware/infdserver/pkg/xmlproto"
)

// clientConn is one accepted TCP connection: its wire encoding state
// plus the sessions it currently holds a binding in. Authentication
// is a boundary concern (directory.Authenticator); lacking a wired
// certificate layer, every connection authenticates as
// acl.DefaultAccount.
type clientConn struct {
	netConn  net.Conn
	logger   *zap.Logger
	account  acl.AccountID
	bindings map[directory.NodeID]*connBinding
}

type connBinding struct {
	node *directory.Node
	sess *session.Session
	user *session.User
}

func (c *clientConn) write(s *Server, v interface{}) error {
	raw, err := xmlproto.Encode(v)
	if err != nil {
		return err
	}
	if s.traffic != nil {
		s.traffic.LogFragment("out", raw)
	}
	_, err = c.netConn.Write(raw)
	return err
}

func (c *clientConn) fail(s *Server, err error) {
	msg := &xmlproto.RequestFailed{Message: err.Error()}
	if e, ok := errcode.As(err); ok {
		msg.Domain = string(e.Domain)
		msg.Code = int(e.Code)
	}
	_ = c.write(s, msg)
}

func (c *clientConn) close(s *Server) {
	for node, b := range c.bindings {
		if err := b.sess.LeaveUser(b.user.ID); err != nil {
			c.logger.Debug("leave on disconnect failed", zap.Uint32("node", uint32(node)), zap.Error(err))
		}
	}
	_ = c.netConn.Close()
}

// connDeliverer adapts one (connection, hosted node) pair to
// session.Connection, so a session can push join/leave/request events
// without depending on net or xmlproto directly.
type connDeliverer struct {
	c    *clientConn
	s    *Server
	node directory.NodeID
}

func (d connDeliverer) Deliver(event any) error {
	switch e := event.(type) {
	case session.UserJoinEvent:
		return d.c.write(d.s, &xmlproto.UserJoin{ID: e.ID, Name: e.Name})
	case session.UserLeaveEvent:
		return d.c.write(d.s, &xmlproto.UserStatus{ID: e.ID, Status: "unavailable"})
	case session.RequestEvent:
		msg, err := xmlproto.RequestFromOperation(e.User, e.Vector, e.Kind, e.Operation)
		if err != nil {
			return err
		}
		return d.c.write(d.s, msg)
	default:
		return nil
	}
}

// handleFragment runs entirely on the event loop goroutine: it is the
// only place core state (the directory and its sessions) is touched.
func (s *Server) handleFragment(c *clientConn, frag *xmlproto.Fragment) {
	switch frag.Name {
	case "explore-node":
		s.handleExploreNode(c, frag)
	case "add-node":
		s.handleAddNode(c, frag)
	case "remove-node":
		s.handleRemoveNode(c, frag)
	case "subscribe-session":
		s.handleSubscribeSession(c, frag)
	case "user-rejoin":
		s.handleUserRejoin(c, frag)
	case "request":
		s.handleRequest(c, frag)
	case "query-acl":
		s.handleQueryACL(c, frag)
	case "set-acl":
		s.handleSetACL(c, frag)
	case "query-acl-account-list":
		s.handleQueryACLAccountList(c, frag)
	case "add-acl-account":
		s.handleAddACLAccount(c, frag)
	case "remove-acl-account":
		s.handleRemoveACLAccount(c, frag)
	default:
		c.logger.Warn("unrecognised fragment", zap.String("name", frag.Name))
	}
}

func (s *Server) handleExploreNode(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.ExploreNode
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	children, err := s.dir.Explore(directory.NodeID(msg.Node), c.account)
	if err != nil {
		c.fail(s, err)
		return
	}
	if err := c.write(s, &xmlproto.ExploreBegin{Total: len(children)}); err != nil {
		return
	}
	for _, child := range children {
		_ = c.write(s, &xmlproto.AddNode{
			Parent: msg.Node,
			ID:     uint32(child.ID),
			Name:   child.Name,
			Type:   nodeTypeName(child),
		})
	}
}

func nodeTypeName(n *directory.Node) string {
	if n.Kind == directory.KindSubdirectory {
		return "subdirectory"
	}
	return n.PluginType
}

func (s *Server) handleAddNode(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.AddNode
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}

	var (
		node *directory.Node
		err  error
	)
	if msg.Type == "subdirectory" {
		node, err = s.dir.AddSubdirectory(directory.NodeID(msg.Parent), msg.Name, c.account)
	} else {
		node, err = s.dir.AddDocument(directory.NodeID(msg.Parent), msg.Name, msg.Type, c.account)
	}
	if err != nil {
		c.fail(s, err)
		return
	}
	_ = c.write(s, &xmlproto.AddNode{Parent: msg.Parent, ID: uint32(node.ID), Name: node.Name, Type: nodeTypeName(node)})
}

func (s *Server) handleRemoveNode(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.RemoveNode
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	node := directory.NodeID(msg.Node)
	if err := s.dir.RemoveNode(node, c.account); err != nil {
		c.fail(s, err)
		return
	}
	delete(c.bindings, node)
	_ = c.write(s, &xmlproto.RemoveNode{Node: msg.Node})
}

func (s *Server) handleSubscribeSession(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.SubscribeSession
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	node := directory.NodeID(msg.Node)
	deliverer := connDeliverer{c: c, s: s, node: node}
	sess, user, err := s.dir.SubscribeSession(node, c.account, session.JoinParams{
		Name:    string(c.account),
		Account: string(c.account),
		Conn:    deliverer,
	})
	if err != nil {
		c.fail(s, err)
		return
	}

	n, _ := s.dir.Node(node)
	c.bindings[node] = &connBinding{node: n, sess: sess, user: user}

	if _, err := sess.SynchroniseTo(user.ID); err != nil {
		c.fail(s, err)
		return
	}
	_ = c.write(s, &xmlproto.UserJoin{ID: user.ID, Name: user.Name})
	if s.signer != nil {
		if token, err := s.signer.Token(nodePath(s, node), string(c.account), user.ID); err == nil {
			_ = c.write(s, &xmlproto.UserRejoin{ID: user.ID, Token: token})
		} else {
			c.logger.Warn("issuing rejoin token failed", zap.Error(err))
		}
	}
	sendSyncSequence(c, s, sess)
	metrics.SessionsOpen.Inc()
}

// sendSyncSequence streams the session's current buffer to a newly
// joined connection as <sync-begin total="n"/>, n <sync-chunk>
// fragments (one per authored run, preserving authorship across the
// sync), then <sync-end/> (§8 scenario 4). Any request the user sent
// while still synchronising was queued by Session and has already been
// applied by SynchroniseTo, which the caller runs before this
// function.
func sendSyncSequence(c *clientConn, s *Server, sess *session.Session) {
	var chunks []xmlproto.SyncChunk
	sess.Algorithm().Buffer().Iter(func(author uint32, _, _ int, text string) bool {
		chunks = append(chunks, xmlproto.SyncChunk{Author: author, Text: text})
		return true
	})
	if err := c.write(s, &xmlproto.SyncBegin{Total: len(chunks)}); err != nil {
		return
	}
	for _, chunk := range chunks {
		if err := c.write(s, &chunk); err != nil {
			return
		}
	}
	_ = c.write(s, &xmlproto.SyncEnd{})
}

func (s *Server) handleUserRejoin(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.UserRejoin
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	if s.signer == nil {
		c.fail(s, errcode.New(errcode.DomainAuthentication, errcode.AuthServerError, "no rejoin signer configured"))
		return
	}
	for node, b := range c.bindings {
		if b.user.ID != msg.ID {
			continue
		}
		path := nodePath(s, node)
		if err := s.signer.Verify(path, string(c.account), msg.ID, msg.Token); err != nil {
			c.fail(s, err)
			return
		}
		return
	}
	c.fail(s, errcode.New(errcode.DomainUser, errcode.UserNoSuchUser, "no such user %d on this connection", msg.ID))
}

func nodePath(s *Server, id directory.NodeID) string {
	path, _ := s.dir.Path(id)
	return path
}

func (s *Server) handleRequest(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.Request
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}

	var binding *connBinding
	for _, b := range c.bindings {
		if b.user.ID == msg.User {
			binding = b
			break
		}
	}
	if binding == nil {
		c.fail(s, errcode.New(errcode.DomainUser, errcode.UserNoSuchUser, "no such user %d on this connection", msg.User))
		return
	}

	incoming, err := xmlproto.ToIncomingRequest(&msg)
	if err != nil {
		c.fail(s, err)
		return
	}

	switch incoming.Kind {
	case request.KindUndo:
		incoming, err = binding.sess.Algorithm().GenerateUndo(msg.User)
	case request.KindRedo:
		incoming, err = binding.sess.Algorithm().GenerateRedo(msg.User)
	}
	if err != nil {
		c.fail(s, err)
		return
	}

	if _, err := binding.sess.Receive(msg.User, incoming, connDeliverer{c: c, s: s, node: binding.node.ID}); err != nil {
		c.fail(s, err)
		return
	}
	metrics.RequestsTranslated.Inc()
}

func (s *Server) handleQueryACL(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.QueryACL
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	sheets, err := s.dir.QueryACL(directory.NodeID(msg.Node), c.account)
	if err != nil {
		c.fail(s, err)
		return
	}
	_ = c.write(s, &xmlproto.SetACL{Node: msg.Node, Sheets: xmlproto.SheetSetFromACL(sheets)})
}

func (s *Server) handleSetACL(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.SetACL
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	sheets, err := xmlproto.SheetSetToACL(msg.Sheets)
	if err != nil {
		c.fail(s, err)
		return
	}
	if err := s.dir.SetACL(directory.NodeID(msg.Node), c.account, sheets); err != nil {
		c.fail(s, err)
		return
	}
	_ = c.write(s, &msg)
}

func (s *Server) handleQueryACLAccountList(c *clientConn, frag *xmlproto.Fragment) {
	pages, err := s.dir.QueryAccountList(c.account)
	if err != nil {
		c.fail(s, err)
		return
	}
	if err := c.write(s, &xmlproto.ACLAccountListBegin{Total: len(pages)}); err != nil {
		return
	}
	for _, p := range pages {
		_ = c.write(s, &xmlproto.ACLAccount{ID: string(p.Account.ID), Name: p.Account.Name})
	}
}

func (s *Server) handleAddACLAccount(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.AddACLAccount
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	acc, err := s.dir.AddAccount(msg.Name, c.account)
	if err != nil {
		c.fail(s, err)
		return
	}
	_ = c.write(s, &xmlproto.ACLAccount{ID: string(acc.ID), Name: acc.Name})
}

func (s *Server) handleRemoveACLAccount(c *clientConn, frag *xmlproto.Fragment) {
	var msg xmlproto.RemoveACLAccount
	if err := frag.Decode(&msg); err != nil {
		c.fail(s, err)
		return
	}
	if err := s.dir.RemoveAccount(acl.AccountID(msg.ID), c.account); err != nil {
		c.fail(s, err)
		return
	}
	_ = c.write(s, &msg)
}
